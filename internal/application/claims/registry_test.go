package claims

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/claimflow/claimflow/internal/domain/claims"
	infra "github.com/claimflow/claimflow/internal/infrastructure/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/eventlog"
	"github.com/claimflow/claimflow/internal/infrastructure/events"
	"github.com/claimflow/claimflow/internal/shared"
)

type registryFixture struct {
	registry *Registry
	store    *failingStore
	clock    *shared.FakeClock
	bus      *events.Bus
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	store := &failingStore{MemoryStore: eventlog.NewMemoryStore()}
	bus := events.NewBus()
	clock := shared.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	emitter := NewEmitter(DefaultEmitterConfig(), store, bus, clock,
		&shared.SequentialIDGenerator{Prefix: "evt"}, nil, nil, nil)
	registry := NewRegistry(infra.NewInMemoryClaimRepository(), infra.NewInMemoryStealableBoard(),
		emitter, clock, nil, nil)
	return &registryFixture{registry: registry, store: store, clock: clock, bus: bus}
}

var (
	coder    = domain.NewAgent("coder-1", "coder")
	reviewer = domain.NewAgent("reviewer-1", "reviewer")
)

func TestClaimIsExclusive(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	claim, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Status != domain.StatusActive {
		t.Fatalf("new claim status = %s, want active", claim.Status)
	}

	if _, err := f.registry.Claim(ctx, "issue-1", reviewer, ClaimOptions{}); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}

	// Re-claiming your own issue is still a conflict.
	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("owner re-claim err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestCompletedClaimCanBeSuperseded(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.registry.UpdateStatus(ctx, "issue-1", coder, domain.StatusCompleted, "", 100); err != nil {
		t.Fatalf("complete: %v", err)
	}

	claim, err := f.registry.Claim(ctx, "issue-1", reviewer, ClaimOptions{})
	if err != nil {
		t.Fatalf("re-claim over completed: %v", err)
	}
	if !claim.IsOwnedBy(reviewer) {
		t.Fatal("superseding claim should belong to the new claimant")
	}
}

func TestClaimRollsBackWhenEventNotDurable(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	f.store.failNext = true
	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err == nil {
		t.Fatal("claim should fail when the event cannot be appended")
	}

	// The claim must not exist: no event, no claim.
	if _, ok := f.registry.Get("issue-1"); ok {
		t.Fatal("failed claim left state behind")
	}

	// And the issue is claimable afterwards.
	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim after rollback: %v", err)
	}
}

func TestReleaseRequiresOwnership(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := f.registry.Release(ctx, "issue-1", reviewer, "not mine"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("foreign release err = %v, want ErrNotOwner", err)
	}
	if err := f.registry.Release(ctx, "issue-2", coder, ""); !errors.Is(err, domain.ErrNotClaimed) {
		t.Fatalf("release unclaimed err = %v, want ErrNotClaimed", err)
	}

	if err := f.registry.Release(ctx, "issue-1", coder, "done for today"); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if _, ok := f.registry.Get("issue-1"); ok {
		t.Fatal("released claim still present")
	}
}

func TestReleaseRollsBackOnEventFailure(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	f.store.failNext = true
	if err := f.registry.Release(ctx, "issue-1", coder, ""); err == nil {
		t.Fatal("release should fail with the append")
	}

	claim, ok := f.registry.Get("issue-1")
	if !ok || !claim.IsOwnedBy(coder) {
		t.Fatal("failed release must restore the claim")
	}
}

func TestUpdateStatusGates(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := f.registry.UpdateStatus(ctx, "issue-1", reviewer, domain.StatusPaused, "", 0); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("foreign update err = %v, want ErrNotOwner", err)
	}
	if _, err := f.registry.UpdateStatus(ctx, "issue-1", coder, domain.StatusStealable, "", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("direct stealable err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.registry.UpdateStatus(ctx, "issue-1", coder, domain.StatusHandoffPending, "", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("direct handoff-pending err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.registry.UpdateStatus(ctx, "issue-1", coder, domain.StatusBlocked, "", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("blocked without note err = %v, want ErrInvalidTransition", err)
	}

	claim, err := f.registry.UpdateStatus(ctx, "issue-1", coder, domain.StatusBlocked, "waiting on schema migration", 25)
	if err != nil {
		t.Fatalf("block with note: %v", err)
	}
	if claim.BlockReason != "waiting on schema migration" {
		t.Errorf("block reason = %q", claim.BlockReason)
	}
	if claim.Progress != 25 {
		t.Errorf("progress = %v, want 25", claim.Progress)
	}

	// Blocked cannot jump straight to completed.
	if _, err := f.registry.UpdateStatus(ctx, "issue-1", coder, domain.StatusCompleted, "", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("blocked -> completed err = %v, want ErrInvalidTransition", err)
	}
}

func TestHandoffRoundTrip(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	claim, err := f.registry.RequestHandoff(ctx, "issue-1", coder, reviewer, "needs review expertise")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if claim.Status != domain.StatusHandoffPending || claim.HandoffTo == nil {
		t.Fatalf("request left claim in %s", claim.Status)
	}

	// Only the named target may act on the pending handoff.
	other := domain.NewAgent("coder-2", "coder")
	if _, err := f.registry.AcceptHandoff(ctx, "issue-1", other); !errors.Is(err, domain.ErrNotTarget) {
		t.Fatalf("foreign accept err = %v, want ErrNotTarget", err)
	}

	accepted, err := f.registry.AcceptHandoff(ctx, "issue-1", reviewer)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !accepted.IsOwnedBy(reviewer) || accepted.Status != domain.StatusActive {
		t.Fatalf("accept left claim owned by %s in %s", accepted.Claimant.Key(), accepted.Status)
	}
	if accepted.HandoffTo != nil || accepted.HandoffRequestID != "" {
		t.Error("accept must clear handoff state")
	}

	// The accept event must be caused by the request event.
	stream, err := f.store.GetEvents(ctx, "issue-1", eventlog.QueryOptions{})
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	var request, accept *domain.ClaimEvent
	for _, event := range stream {
		switch event.Type {
		case domain.EventHandoffRequested:
			request = event
		case domain.EventHandoffAccepted:
			accept = event
		}
	}
	if request == nil || accept == nil {
		t.Fatal("stream missing handoff events")
	}
	if accept.CausationID != request.ID {
		t.Errorf("accept causation = %q, want request id %q", accept.CausationID, request.ID)
	}
	if accept.CorrelationID != request.CorrelationID {
		t.Errorf("accept correlation = %q, want %q", accept.CorrelationID, request.CorrelationID)
	}
}

func TestHandoffReject(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.registry.RequestHandoff(ctx, "issue-1", coder, reviewer, ""); err != nil {
		t.Fatalf("request: %v", err)
	}

	claim, err := f.registry.RejectHandoff(ctx, "issue-1", reviewer, "at capacity")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !claim.IsOwnedBy(coder) {
		t.Fatal("reject must leave ownership unchanged")
	}
	if claim.Status != domain.StatusActive {
		t.Fatalf("reject left claim in %s, want active", claim.Status)
	}

	// No pending handoff remains to act on.
	if _, err := f.registry.AcceptHandoff(ctx, "issue-1", reviewer); !errors.Is(err, domain.ErrNoPendingHandoff) {
		t.Fatalf("accept after reject err = %v, want ErrNoPendingHandoff", err)
	}
}

func TestHandoffRejectsSelfAndZeroTarget(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.registry.RequestHandoff(ctx, "issue-1", coder, coder, ""); err == nil {
		t.Fatal("handoff to self must be rejected")
	}
	if _, err := f.registry.RequestHandoff(ctx, "issue-1", coder, domain.Claimant{}, ""); err == nil {
		t.Fatal("handoff to zero claimant must be rejected")
	}
}

func TestExpireStaleSweep(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	if _, err := f.registry.Claim(ctx, "issue-ttl", coder, ClaimOptions{TTL: 30 * time.Minute}); err != nil {
		t.Fatalf("claim with ttl: %v", err)
	}
	if _, err := f.registry.Claim(ctx, "issue-forever", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim without ttl: %v", err)
	}

	expired, err := f.registry.ExpireStale(ctx)
	if err != nil || len(expired) != 0 {
		t.Fatalf("early sweep expired %v, err %v", expired, err)
	}

	f.clock.Advance(time.Hour)
	expired, err = f.registry.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(expired) != 1 || expired[0] != "issue-ttl" {
		t.Fatalf("expired = %v, want [issue-ttl]", expired)
	}

	if _, ok := f.registry.Get("issue-ttl"); ok {
		t.Fatal("expired claim still present")
	}
	if _, ok := f.registry.Get("issue-forever"); !ok {
		t.Fatal("claim without ttl was swept")
	}

	events, err := f.store.GetEventsByType(ctx, domain.EventClaimExpired, eventlog.QueryOptions{})
	if err != nil || len(events) != 1 {
		t.Fatalf("expired events = %d, err %v, want 1", len(events), err)
	}
}

func TestListByClaimantAndStatus(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	for _, issueID := range []string{"issue-1", "issue-2"} {
		if _, err := f.registry.Claim(ctx, issueID, coder, ClaimOptions{}); err != nil {
			t.Fatalf("claim %s: %v", issueID, err)
		}
	}
	if _, err := f.registry.Claim(ctx, "issue-3", reviewer, ClaimOptions{}); err != nil {
		t.Fatalf("claim issue-3: %v", err)
	}
	if _, err := f.registry.UpdateStatus(ctx, "issue-2", coder, domain.StatusPaused, "", 0); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if got := len(f.registry.ListByClaimant(coder)); got != 2 {
		t.Errorf("coder holds %d claims, want 2", got)
	}
	if got := len(f.registry.ListByStatus(domain.StatusPaused)); got != 1 {
		t.Errorf("%d paused claims, want 1", got)
	}
	if got := len(f.registry.List()); got != 3 {
		t.Errorf("%d total claims, want 3", got)
	}
}
