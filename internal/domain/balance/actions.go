package balance

import (
	"time"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

// ActionType classifies a rebalance action. Defer never mutates
// ownership; move and reassign do.
type ActionType string

const (
	ActionMove     ActionType = "move"
	ActionReassign ActionType = "reassign"
	ActionDefer    ActionType = "defer"
)

// MutatesOwnership reports whether executing the action transfers a claim.
func (t ActionType) MutatesOwnership() bool {
	return t == ActionMove || t == ActionReassign
}

// RebalanceAction is one planned ownership change (or deferral).
type RebalanceAction struct {
	Type        ActionType         `json:"type"`
	Claim       *claims.IssueClaim `json:"claim"`
	FromAgent   string             `json:"fromAgent"`
	ToAgent     string             `json:"toAgent,omitempty"`
	ToAgentType string             `json:"toAgentType,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// Record converts the action to its event-log form.
func (a RebalanceAction) Record() claims.RebalanceActionRecord {
	rec := claims.RebalanceActionRecord{
		Type:        string(a.Type),
		FromAgent:   a.FromAgent,
		ToAgent:     a.ToAgent,
		ToAgentType: a.ToAgentType,
		Reason:      a.Reason,
	}
	if a.Claim != nil {
		rec.IssueID = a.Claim.IssueID
	}
	return rec
}

// RebalanceResult is the outcome of one Rebalance execution. Cooldown
// and no-eligible-agents are not errors: they are no-op results, the
// cooldown case distinguished by the Error string.
type RebalanceResult struct {
	Success           bool              `json:"success"`
	Error             string            `json:"error,omitempty"`
	Actions           []RebalanceAction `json:"actions"`
	MovedClaims       int               `json:"movedClaims"`
	BeforeOverloaded  int               `json:"beforeOverloaded"`
	BeforeUnderloaded int               `json:"beforeUnderloaded"`
	AfterOverloaded   int               `json:"afterOverloaded"`
	AfterUnderloaded  int               `json:"afterUnderloaded"`
	Duration          time.Duration     `json:"duration"`
}

// RebalancePreview is a dry-run plan: no mutation, no events, no
// cooldown interaction.
type RebalancePreview struct {
	Actions             []RebalanceAction `json:"actions"`
	Overloaded          []AgentLoad       `json:"overloaded"`
	Underloaded         []AgentLoad       `json:"underloaded"`
	ExpectedImprovement float64           `json:"expectedImprovement"`
	RiskLevel           RiskLevel         `json:"riskLevel"`
	Warnings            []string          `json:"warnings,omitempty"`
}

// RiskLevel grades a planned rebalance.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ImbalanceSeverity grades a detected imbalance.
type ImbalanceSeverity string

const (
	SeverityNone     ImbalanceSeverity = "none"
	SeverityMinor    ImbalanceSeverity = "minor"
	SeverityModerate ImbalanceSeverity = "moderate"
	SeveritySevere   ImbalanceSeverity = "severe"
)

// ImbalanceReport is the outcome of DetectImbalance.
type ImbalanceReport struct {
	Detected       bool              `json:"detected"`
	Score          float64           `json:"score"`
	Severity       ImbalanceSeverity `json:"severity"`
	MaxUtilization float64           `json:"maxUtilization"`
	MinUtilization float64           `json:"minUtilization"`
	StdDev         float64           `json:"stdDev"`
	AgentCount     int               `json:"agentCount"`
}
