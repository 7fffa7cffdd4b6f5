// Package balance provides domain types for load balancing and rebalancing.
package balance

import "time"

// AgentStatus is the derived load band of an agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentOverloaded AgentStatus = "overloaded"
	AgentOffline    AgentStatus = "offline"
)

// Agent is a registered worker that can hold claims.
type Agent struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name,omitempty"`
	AgentType           string        `json:"agentType"`
	Status              AgentStatus   `json:"status"`
	MaxClaims           int           `json:"maxClaims"`
	QueuedTasks         int           `json:"queuedTasks"`
	AverageTaskDuration time.Duration `json:"averageTaskDuration"`
	LastActivityAt      time.Time     `json:"lastActivityAt"`
}

// IsAvailable reports whether the agent participates in balancing.
func (a *Agent) IsAvailable() bool {
	return a.Status != AgentOffline
}

// AgentLoad is the derived, non-persisted load view of one agent.
type AgentLoad struct {
	AgentID             string        `json:"agentId"`
	AgentType           string        `json:"agentType"`
	Status              AgentStatus   `json:"status"`
	CurrentClaims       int           `json:"currentClaims"`
	MaxClaims           int           `json:"maxClaims"`
	UtilizationPercent  float64       `json:"utilizationPercent"`
	QueuedTasks         int           `json:"queuedTasks"`
	AverageTaskDuration time.Duration `json:"averageTaskDuration"`
	LastActivityAt      time.Time     `json:"lastActivityAt"`
}

// Thresholds are the utilization bands deriving agent status.
type Thresholds struct {
	// IdleBelow: utilization strictly below this is idle.
	IdleBelow float64 `yaml:"idleBelow"`
	// OverloadedFrom: utilization at or above this is overloaded.
	OverloadedFrom float64 `yaml:"overloadedFrom"`
}

// DefaultThresholds returns the default bands: <50 idle, 50-80 busy,
// >=80 overloaded.
func DefaultThresholds() Thresholds {
	return Thresholds{IdleBelow: 50, OverloadedFrom: 80}
}

// StatusFor derives the load band for a utilization percentage.
func (t Thresholds) StatusFor(utilizationPercent float64) AgentStatus {
	switch {
	case utilizationPercent >= t.OverloadedFrom:
		return AgentOverloaded
	case utilizationPercent < t.IdleBelow:
		return AgentIdle
	default:
		return AgentBusy
	}
}

// Utilization computes currentClaims / maxClaims as a percentage.
func Utilization(currentClaims, maxClaims int) float64 {
	if maxClaims <= 0 {
		return 0
	}
	return float64(currentClaims) / float64(maxClaims) * 100
}
