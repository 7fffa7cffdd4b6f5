package balance

import (
	"fmt"
	"sort"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

// Strategy selects and prioritizes candidate claim moves for one
// rebalance pass. The engine truncates the returned actions to the
// configured per-pass maximum and executes only ownership-mutating
// action types.
type Strategy interface {
	// PlanActions proposes actions moving claims from overloaded to
	// underloaded agents. claimsByAgent holds the claims of the
	// overloaded agents.
	PlanActions(overloaded, underloaded []AgentLoad, claimsByAgent map[string][]*claims.IssueClaim) []RebalanceAction
	// Risk grades the planned action list.
	Risk(actions []RebalanceAction) RiskLevel
}

// LowProgressFirst moves the least-advanced claims first so work close
// to completion is not disrupted, spreading moves round-robin across
// the least-utilized targets.
type LowProgressFirst struct {
	// MaxProgressToMove defers claims above this progress instead of
	// moving them.
	MaxProgressToMove float64
}

// NewLowProgressFirst returns the default strategy.
func NewLowProgressFirst() *LowProgressFirst {
	return &LowProgressFirst{MaxProgressToMove: 50}
}

// PlanActions implements Strategy.
func (s *LowProgressFirst) PlanActions(overloaded, underloaded []AgentLoad, claimsByAgent map[string][]*claims.IssueClaim) []RebalanceAction {
	if len(overloaded) == 0 || len(underloaded) == 0 {
		return nil
	}

	// Most-overloaded donors first, least-utilized targets first.
	donors := append([]AgentLoad(nil), overloaded...)
	sort.Slice(donors, func(i, j int) bool {
		return donors[i].UtilizationPercent > donors[j].UtilizationPercent
	})
	targets := append([]AgentLoad(nil), underloaded...)
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].UtilizationPercent < targets[j].UtilizationPercent
	})

	headroom := make(map[string]int, len(targets))
	for _, t := range targets {
		headroom[t.AgentID] = t.MaxClaims - t.CurrentClaims
	}

	var actions []RebalanceAction
	next := 0
	for _, donor := range donors {
		candidates := append([]*claims.IssueClaim(nil), claimsByAgent[donor.AgentID]...)
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Progress != candidates[j].Progress {
				return candidates[i].Progress < candidates[j].Progress
			}
			return candidates[i].IssueID < candidates[j].IssueID
		})

		// Shed enough claims to bring the donor under its overload band.
		excess := donor.CurrentClaims - int(float64(donor.MaxClaims)*0.8)
		if excess < 1 {
			excess = 1
		}

		moved := 0
		for _, claim := range candidates {
			if moved >= excess {
				break
			}
			if !movable(claim) {
				continue
			}
			if claim.Progress > s.MaxProgressToMove {
				actions = append(actions, RebalanceAction{
					Type:      ActionDefer,
					Claim:     claim,
					FromAgent: donor.AgentID,
					Reason:    fmt.Sprintf("progress %.0f%% exceeds move threshold", claim.Progress),
				})
				continue
			}

			target, ok := s.pickTarget(targets, headroom, &next)
			if !ok {
				return actions
			}
			headroom[target.AgentID]--
			moved++
			actions = append(actions, RebalanceAction{
				Type:        ActionMove,
				Claim:       claim,
				FromAgent:   donor.AgentID,
				ToAgent:     target.AgentID,
				ToAgentType: target.AgentType,
				Reason:      "overloaded agent",
			})
		}
	}

	return actions
}

// pickTarget returns the next underloaded agent with headroom.
func (s *LowProgressFirst) pickTarget(targets []AgentLoad, headroom map[string]int, next *int) (AgentLoad, bool) {
	for i := 0; i < len(targets); i++ {
		t := targets[(*next+i)%len(targets)]
		if headroom[t.AgentID] > 0 {
			*next = (*next + i + 1) % len(targets)
			return t, true
		}
	}
	return AgentLoad{}, false
}

// Risk implements Strategy: more concurrent moves mean more disruption.
func (s *LowProgressFirst) Risk(actions []RebalanceAction) RiskLevel {
	useful := 0
	for _, a := range actions {
		if a.Type.MutatesOwnership() {
			useful++
		}
	}
	switch {
	case useful > 5:
		return RiskHigh
	case useful > 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

// movable filters out claims whose state pins them to their owner.
func movable(claim *claims.IssueClaim) bool {
	switch claim.Status {
	case claims.StatusActive, claims.StatusPaused:
		return true
	default:
		// Handoff-pending, stealable, blocked, review-requested, and
		// completed claims are left where they are.
		return false
	}
}
