package claims

import (
	"context"
	"testing"
	"time"

	domain "github.com/claimflow/claimflow/internal/domain/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/eventlog"
	"github.com/claimflow/claimflow/internal/infrastructure/events"
)

func projectionEvent(aggregateID string, seq int64, payload domain.Payload) *domain.ClaimEvent {
	return &domain.ClaimEvent{
		ID:        aggregateID + "-evt",
		Type:      payload.EventType(),
		Timestamp: time.Date(2025, 6, 1, 12, 0, int(seq), 0, time.UTC),
		Payload:   payload,
		Metadata: domain.EventMetadata{
			Version:        1,
			AggregateID:    aggregateID,
			AggregateType:  domain.AggregateIssue,
			SequenceNumber: seq,
		},
	}
}

func TestClaimantStatsProjection(t *testing.T) {
	projection := NewClaimantStatsProjection()
	coder := domain.NewAgent("coder-1", "coder")
	reviewer := domain.NewAgent("reviewer-1", "reviewer")

	projection.Apply(projectionEvent("issue-1", 1, &domain.IssueClaimedPayload{IssueID: "issue-1", Claimant: coder}))
	projection.Apply(projectionEvent("issue-1", 2, &domain.HandoffRequestedPayload{IssueID: "issue-1", From: coder, To: reviewer}))
	projection.Apply(projectionEvent("issue-1", 3, &domain.HandoffAcceptedPayload{IssueID: "issue-1", From: coder, To: reviewer}))
	projection.Apply(projectionEvent("issue-1", 4, &domain.WorkStolenPayload{IssueID: "issue-1", From: reviewer, To: coder}))
	projection.Apply(projectionEvent("issue-1", 5, &domain.ClaimStatusUpdatedPayload{
		IssueID: "issue-1", Claimant: coder, NewStatus: domain.StatusCompleted,
	}))

	coderStats, ok := projection.Get(coder.Key())
	if !ok {
		t.Fatal("no stats for coder")
	}
	if coderStats.TotalClaims != 1 || coderStats.HandoffsInitiated != 1 ||
		coderStats.WorkStolen != 1 || coderStats.CompletedClaims != 1 {
		t.Fatalf("coder stats = %+v", coderStats)
	}

	reviewerStats, ok := projection.Get(reviewer.Key())
	if !ok {
		t.Fatal("no stats for reviewer")
	}
	if reviewerStats.HandoffsReceived != 1 || reviewerStats.WorkLost != 1 {
		t.Fatalf("reviewer stats = %+v", reviewerStats)
	}

	projection.Reset()
	if _, ok := projection.Get(coder.Key()); ok {
		t.Fatal("reset should clear stats")
	}
}

func TestSystemStatsProjection(t *testing.T) {
	projection := NewSystemStatsProjection()
	coder := domain.NewAgent("coder-1", "coder")

	projection.Apply(projectionEvent("issue-1", 1, &domain.IssueClaimedPayload{IssueID: "issue-1", Claimant: coder}))
	projection.Apply(projectionEvent("issue-2", 1, &domain.IssueClaimedPayload{IssueID: "issue-2", Claimant: coder}))
	projection.Apply(projectionEvent("issue-1", 2, &domain.ClaimExpiredPayload{IssueID: "issue-1", Claimant: coder}))
	projection.Apply(projectionEvent("issue-2", 2, &domain.StealContestedPayload{IssueID: "issue-2"}))
	projection.Apply(projectionEvent("issue-2", 3, &domain.WorkStolenPayload{IssueID: "issue-2"}))
	projection.Apply(projectionEvent("balancer", 1, &domain.LoadRebalancedPayload{MovedClaims: 2}))

	stats := projection.Get()
	if stats.TotalClaims != 2 || stats.ExpiredClaims != 1 ||
		stats.TotalSteals != 1 || stats.ContestedSteals != 1 || stats.Rebalances != 1 {
		t.Fatalf("system stats = %+v", stats)
	}
	if stats.LastEventAt.IsZero() {
		t.Fatal("last event time not tracked")
	}
}

func TestProjectionManagerLiveAndRebuild(t *testing.T) {
	store := eventlog.NewMemoryStore()
	bus := events.NewBus()
	ctx := context.Background()
	coder := domain.NewAgent("coder-1", "coder")

	system := NewSystemStatsProjection()
	manager := NewProjectionManager(store, bus)
	manager.Register(system)
	manager.Start()
	defer manager.Stop()

	// Live events reach started projections through the bus.
	live := projectionEvent("issue-1", 1, &domain.IssueClaimedPayload{IssueID: "issue-1", Claimant: coder})
	if err := store.Append(ctx, live); err != nil {
		t.Fatalf("append: %v", err)
	}
	bus.Publish(live)
	if system.Get().TotalClaims != 1 {
		t.Fatalf("live apply missed: %+v", system.Get())
	}

	// Rebuild replays from the durable log after a reset.
	durable := projectionEvent("issue-2", 1, &domain.IssueClaimedPayload{IssueID: "issue-2", Claimant: coder})
	if err := store.Append(ctx, durable); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := manager.Rebuild(ctx, []string{"issue-1", "issue-2"}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if system.Get().TotalClaims != 2 {
		t.Fatalf("rebuild produced %+v, want 2 claims", system.Get())
	}
}

func TestProjectionManagerStopDetaches(t *testing.T) {
	store := eventlog.NewMemoryStore()
	bus := events.NewBus()
	coder := domain.NewAgent("coder-1", "coder")

	system := NewSystemStatsProjection()
	manager := NewProjectionManager(store, bus)
	manager.Register(system)
	manager.Start()
	manager.Stop()

	bus.Publish(projectionEvent("issue-1", 1, &domain.IssueClaimedPayload{IssueID: "issue-1", Claimant: coder}))
	if system.Get().TotalClaims != 0 {
		t.Fatal("stopped manager still applied events")
	}
}
