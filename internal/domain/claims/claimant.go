// Package claims provides domain types for the claims and work-distribution engine.
package claims

import "fmt"

// ClaimantKind distinguishes human operators from automated agents.
type ClaimantKind string

const (
	KindHuman ClaimantKind = "human"
	KindAgent ClaimantKind = "agent"
)

// IsValid reports whether the kind is one of the known values.
func (k ClaimantKind) IsValid() bool {
	return k == KindHuman || k == KindAgent
}

// Claimant identifies an entity that can own a claim. Identity derives
// from (Kind, ID); DisplayName and AgentType are descriptive only.
type Claimant struct {
	Kind        ClaimantKind `json:"kind"`
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName,omitempty"`
	AgentType   string       `json:"agentType,omitempty"`
}

// NewHuman creates a human claimant.
func NewHuman(id, displayName string) Claimant {
	return Claimant{Kind: KindHuman, ID: id, DisplayName: displayName}
}

// NewAgent creates an agent claimant.
func NewAgent(id, agentType string) Claimant {
	return Claimant{Kind: KindAgent, ID: id, AgentType: agentType}
}

// Key returns the canonical identity key, e.g. "agent:coder-1".
func (c Claimant) Key() string {
	return fmt.Sprintf("%s:%s", c.Kind, c.ID)
}

// Equals reports exact identity equality on (Kind, ID).
func (c Claimant) Equals(other Claimant) bool {
	return c.Kind == other.Kind && c.ID == other.ID
}

// TypeLabel returns the label matched against preferred-claimant-type
// filters: the agent type for agents, the kind for humans.
func (c Claimant) TypeLabel() string {
	if c.Kind == KindAgent && c.AgentType != "" {
		return c.AgentType
	}
	return string(c.Kind)
}

// IsZero reports whether the claimant carries no identity.
func (c Claimant) IsZero() bool {
	return c.Kind == "" && c.ID == ""
}
