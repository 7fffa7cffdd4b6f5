package claims

import "time"

// ClaimEventType identifies a domain event. The set is closed: every
// type maps to exactly one payload struct in payloads.go.
type ClaimEventType string

const (
	EventIssueClaimed       ClaimEventType = "claim:claimed"
	EventIssueReleased      ClaimEventType = "claim:released"
	EventClaimStatusUpdated ClaimEventType = "claim:status-updated"
	EventClaimExpired       ClaimEventType = "claim:expired"

	EventHandoffRequested ClaimEventType = "handoff:requested"
	EventHandoffAccepted  ClaimEventType = "handoff:accepted"
	EventHandoffRejected  ClaimEventType = "handoff:rejected"

	EventWorkMarkedStealable ClaimEventType = "steal:marked-stealable"
	EventWorkStolen          ClaimEventType = "steal:stolen"
	EventStealContested      ClaimEventType = "steal:contested"
	EventStealContestResolv  ClaimEventType = "steal:contest-resolved"

	EventLoadRebalanced    ClaimEventType = "balance:rebalanced"
	EventImbalanceDetected ClaimEventType = "balance:imbalance-detected"
)

// Aggregate types sequenced independently in the event log.
const (
	AggregateIssue    = "issue"
	AggregateBalancer = "balancer"
)

// EventMetadata carries the envelope fields common to every event.
type EventMetadata struct {
	Version        int    `json:"version"`
	SchemaVersion  string `json:"schemaVersion"`
	Environment    string `json:"environment"`
	AggregateID    string `json:"aggregateId"`
	AggregateType  string `json:"aggregateType"`
	SequenceNumber int64  `json:"sequenceNumber"`
}

// ClaimEvent is an immutable domain event. Once persisted it is never
// mutated or deleted; sequence numbers are gapless and strictly
// increasing per aggregate.
type ClaimEvent struct {
	ID            string         `json:"id"`
	Type          ClaimEventType `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	CausationID   string         `json:"causationId,omitempty"`
	Payload       Payload        `json:"payload"`
	Metadata      EventMetadata  `json:"metadata"`
}

// AggregateID returns the aggregate this event belongs to.
func (e *ClaimEvent) AggregateID() string {
	return e.Metadata.AggregateID
}

// Sequence returns the per-aggregate sequence number.
func (e *ClaimEvent) Sequence() int64 {
	return e.Metadata.SequenceNumber
}

// EventHandler processes a published event. Handlers may do their own
// work asynchronously; the publisher does not interpret handler errors.
type EventHandler func(event *ClaimEvent)
