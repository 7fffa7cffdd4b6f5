package balance

import (
	"testing"
	"time"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

func agentLoad(id string, current, max int) AgentLoad {
	return AgentLoad{
		AgentID:            id,
		AgentType:          "coder",
		CurrentClaims:      current,
		MaxClaims:          max,
		UtilizationPercent: Utilization(current, max),
	}
}

func claimFor(issueID, agentID string, progress float64) *claims.IssueClaim {
	claim := claims.NewIssueClaim(issueID, claims.NewAgent(agentID, "coder"), time.Now(), nil)
	claim.SetProgress(progress)
	return claim
}

func TestLowProgressFirstMovesLeastAdvanced(t *testing.T) {
	strategy := NewLowProgressFirst()

	overloaded := []AgentLoad{agentLoad("busy", 10, 10)}
	underloaded := []AgentLoad{agentLoad("idle", 1, 10)}
	byAgent := map[string][]*claims.IssueClaim{
		"busy": {
			claimFor("issue-a", "busy", 40),
			claimFor("issue-b", "busy", 5),
			claimFor("issue-c", "busy", 20),
		},
	}

	actions := strategy.PlanActions(overloaded, underloaded, byAgent)
	if len(actions) == 0 {
		t.Fatal("expected actions for an overloaded agent")
	}
	first := actions[0]
	if first.Type != ActionMove {
		t.Fatalf("first action = %s, want move", first.Type)
	}
	if first.Claim.IssueID != "issue-b" {
		t.Errorf("first move = %s, want the lowest-progress claim issue-b", first.Claim.IssueID)
	}
	if first.ToAgent != "idle" {
		t.Errorf("move target = %s, want idle", first.ToAgent)
	}
}

func TestLowProgressFirstDefersHighProgress(t *testing.T) {
	strategy := NewLowProgressFirst()

	overloaded := []AgentLoad{agentLoad("busy", 10, 10)}
	underloaded := []AgentLoad{agentLoad("idle", 0, 10)}
	byAgent := map[string][]*claims.IssueClaim{
		"busy": {claimFor("issue-a", "busy", 90)},
	}

	actions := strategy.PlanActions(overloaded, underloaded, byAgent)
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	if actions[0].Type != ActionDefer {
		t.Fatalf("90%% progress claim should defer, got %s", actions[0].Type)
	}
	if actions[0].Type.MutatesOwnership() {
		t.Error("defer must not mutate ownership")
	}
}

func TestLowProgressFirstSkipsPinnedClaims(t *testing.T) {
	strategy := NewLowProgressFirst()

	pinned := claimFor("issue-a", "busy", 0)
	pinned.SetStatus(claims.StatusHandoffPending, time.Now())

	actions := strategy.PlanActions(
		[]AgentLoad{agentLoad("busy", 10, 10)},
		[]AgentLoad{agentLoad("idle", 0, 10)},
		map[string][]*claims.IssueClaim{"busy": {pinned}},
	)
	if len(actions) != 0 {
		t.Fatalf("handoff-pending claims must not move, got %v", actions)
	}
}

func TestLowProgressFirstNoTargets(t *testing.T) {
	strategy := NewLowProgressFirst()
	actions := strategy.PlanActions(
		[]AgentLoad{agentLoad("busy", 10, 10)},
		nil,
		map[string][]*claims.IssueClaim{"busy": {claimFor("issue-a", "busy", 0)}},
	)
	if len(actions) != 0 {
		t.Fatalf("no underloaded agents means no plan, got %v", actions)
	}
}

func TestLowProgressFirstRespectsHeadroom(t *testing.T) {
	strategy := NewLowProgressFirst()

	// The single target can only absorb one claim.
	overloaded := []AgentLoad{agentLoad("busy", 10, 10)}
	underloaded := []AgentLoad{agentLoad("tight", 9, 10)}
	byAgent := map[string][]*claims.IssueClaim{
		"busy": {
			claimFor("issue-a", "busy", 0),
			claimFor("issue-b", "busy", 0),
			claimFor("issue-c", "busy", 0),
		},
	}

	actions := strategy.PlanActions(overloaded, underloaded, byAgent)
	moves := 0
	for _, a := range actions {
		if a.Type == ActionMove {
			moves++
		}
	}
	if moves != 1 {
		t.Fatalf("got %d moves, want 1 (target headroom)", moves)
	}
}

func TestRiskGrading(t *testing.T) {
	strategy := NewLowProgressFirst()
	moves := func(n int) []RebalanceAction {
		actions := make([]RebalanceAction, n)
		for i := range actions {
			actions[i] = RebalanceAction{Type: ActionMove}
		}
		return actions
	}

	if got := strategy.Risk(moves(1)); got != RiskLow {
		t.Errorf("1 move = %s, want low", got)
	}
	if got := strategy.Risk(moves(4)); got != RiskMedium {
		t.Errorf("4 moves = %s, want medium", got)
	}
	if got := strategy.Risk(moves(8)); got != RiskHigh {
		t.Errorf("8 moves = %s, want high", got)
	}
	if got := strategy.Risk([]RebalanceAction{{Type: ActionDefer}}); got != RiskLow {
		t.Errorf("defers alone = %s, want low", got)
	}
}
