package claims

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the closed union of event payloads. Each event type has
// exactly one payload struct; DecodePayload switches exhaustively over
// the type enum instead of assuming shapes at runtime.
type Payload interface {
	EventType() ClaimEventType
}

// IssueClaimedPayload records a new exclusive claim.
type IssueClaimedPayload struct {
	IssueID   string         `json:"issueId"`
	Claimant  Claimant       `json:"claimant"`
	ClaimedAt time.Time      `json:"claimedAt"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (IssueClaimedPayload) EventType() ClaimEventType { return EventIssueClaimed }

// IssueReleasedPayload records a voluntary release.
type IssueReleasedPayload struct {
	IssueID  string   `json:"issueId"`
	Claimant Claimant `json:"claimant"`
	Reason   string   `json:"reason,omitempty"`
}

func (IssueReleasedPayload) EventType() ClaimEventType { return EventIssueReleased }

// ClaimStatusUpdatedPayload records a status transition on a live claim.
type ClaimStatusUpdatedPayload struct {
	IssueID   string      `json:"issueId"`
	Claimant  Claimant    `json:"claimant"`
	OldStatus ClaimStatus `json:"oldStatus"`
	NewStatus ClaimStatus `json:"newStatus"`
	Note      string      `json:"note,omitempty"`
	Progress  float64     `json:"progress"`
}

func (ClaimStatusUpdatedPayload) EventType() ClaimEventType { return EventClaimStatusUpdated }

// ClaimExpiredPayload records a system-driven expiry.
type ClaimExpiredPayload struct {
	IssueID   string    `json:"issueId"`
	Claimant  Claimant  `json:"claimant"`
	ExpiredAt time.Time `json:"expiredAt"`
}

func (ClaimExpiredPayload) EventType() ClaimEventType { return EventClaimExpired }

// HandoffRequestedPayload records a consensual transfer request.
type HandoffRequestedPayload struct {
	IssueID  string   `json:"issueId"`
	From     Claimant `json:"from"`
	To       Claimant `json:"to"`
	Reason   string   `json:"reason"`
	Progress float64  `json:"progress"`
}

func (HandoffRequestedPayload) EventType() ClaimEventType { return EventHandoffRequested }

// HandoffAcceptedPayload records ownership changing hands.
type HandoffAcceptedPayload struct {
	IssueID string   `json:"issueId"`
	From    Claimant `json:"from"`
	To      Claimant `json:"to"`
}

func (HandoffAcceptedPayload) EventType() ClaimEventType { return EventHandoffAccepted }

// HandoffRejectedPayload records a declined handoff; ownership unchanged.
type HandoffRejectedPayload struct {
	IssueID    string   `json:"issueId"`
	Owner      Claimant `json:"owner"`
	RejectedBy Claimant `json:"rejectedBy"`
	Reason     string   `json:"reason,omitempty"`
}

func (HandoffRejectedPayload) EventType() ClaimEventType { return EventHandoffRejected }

// WorkMarkedStealablePayload records a claim opened for stealing.
type WorkMarkedStealablePayload struct {
	IssueID                string      `json:"issueId"`
	Owner                  Claimant    `json:"owner"`
	Reason                 StealReason `json:"reason"`
	PreferredClaimantTypes []string    `json:"preferredClaimantTypes,omitempty"`
	Progress               float64     `json:"progress"`
}

func (WorkMarkedStealablePayload) EventType() ClaimEventType { return EventWorkMarkedStealable }

// WorkStolenPayload records a non-consensual ownership transfer.
type WorkStolenPayload struct {
	IssueID string      `json:"issueId"`
	From    Claimant    `json:"from"`
	To      Claimant    `json:"to"`
	Reason  StealReason `json:"reason"`
}

func (WorkStolenPayload) EventType() ClaimEventType { return EventWorkStolen }

// StealContestedPayload records a losing steal attempt against a claim
// that was just taken by another stealer.
type StealContestedPayload struct {
	IssueID    string   `json:"issueId"`
	Challenger Claimant `json:"challenger"`
}

func (StealContestedPayload) EventType() ClaimEventType { return EventStealContested }

// StealContestResolvedPayload identifies the first successful writer.
type StealContestResolvedPayload struct {
	IssueID string   `json:"issueId"`
	Winner  Claimant `json:"winner"`
	Loser   Claimant `json:"loser"`
}

func (StealContestResolvedPayload) EventType() ClaimEventType { return EventStealContestResolv }

// RebalanceActionRecord is the event-log form of an executed or planned
// rebalance action.
type RebalanceActionRecord struct {
	Type        string `json:"type"` // move | reassign | defer
	IssueID     string `json:"issueId"`
	FromAgent   string `json:"fromAgent"`
	ToAgent     string `json:"toAgent,omitempty"`
	ToAgentType string `json:"toAgentType,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// LoadRebalancedPayload records an executed rebalance pass.
type LoadRebalancedPayload struct {
	Actions           []RebalanceActionRecord `json:"actions"`
	MovedClaims       int                     `json:"movedClaims"`
	BeforeOverloaded  int                     `json:"beforeOverloaded"`
	BeforeUnderloaded int                     `json:"beforeUnderloaded"`
	AfterOverloaded   int                     `json:"afterOverloaded"`
	AfterUnderloaded  int                     `json:"afterUnderloaded"`
}

func (LoadRebalancedPayload) EventType() ClaimEventType { return EventLoadRebalanced }

// ImbalanceDetectedPayload records a detected load imbalance.
type ImbalanceDetectedPayload struct {
	Score          float64 `json:"score"`
	Severity       string  `json:"severity"`
	MaxUtilization float64 `json:"maxUtilization"`
	MinUtilization float64 `json:"minUtilization"`
	AgentCount     int     `json:"agentCount"`
}

func (ImbalanceDetectedPayload) EventType() ClaimEventType { return EventImbalanceDetected }

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload by event type. Unknown
// types are an error: the enum is closed.
func DecodePayload(eventType ClaimEventType, data []byte) (Payload, error) {
	var p Payload
	switch eventType {
	case EventIssueClaimed:
		p = &IssueClaimedPayload{}
	case EventIssueReleased:
		p = &IssueReleasedPayload{}
	case EventClaimStatusUpdated:
		p = &ClaimStatusUpdatedPayload{}
	case EventClaimExpired:
		p = &ClaimExpiredPayload{}
	case EventHandoffRequested:
		p = &HandoffRequestedPayload{}
	case EventHandoffAccepted:
		p = &HandoffAcceptedPayload{}
	case EventHandoffRejected:
		p = &HandoffRejectedPayload{}
	case EventWorkMarkedStealable:
		p = &WorkMarkedStealablePayload{}
	case EventWorkStolen:
		p = &WorkStolenPayload{}
	case EventStealContested:
		p = &StealContestedPayload{}
	case EventStealContestResolv:
		p = &StealContestResolvedPayload{}
	case EventLoadRebalanced:
		p = &LoadRebalancedPayload{}
	case EventImbalanceDetected:
		p = &ImbalanceDetectedPayload{}
	default:
		return nil, fmt.Errorf("decode payload: unknown event type %q", eventType)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return p, nil
}
