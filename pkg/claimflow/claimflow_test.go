package claimflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/claimflow/claimflow/internal/shared"
)

func newTestEngine(t *testing.T) (*Engine, *shared.FakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EventLog.Backend = "memory"
	cfg.NATS.Enabled = false

	clock := shared.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	engine, err := New(Options{Config: &cfg, Clock: clock})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { engine.Close(context.Background()) })
	return engine, clock
}

func TestEngineClaimLifecycle(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	coder := NewAgent("coder-1", "coder")
	reviewer := NewAgent("reviewer-1", "reviewer")

	claim, err := engine.Claims.Claim(ctx, "issue-42", coder, ClaimOptions{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Status != StatusActive {
		t.Fatalf("status = %s", claim.Status)
	}

	if _, err := engine.Claims.Claim(ctx, "issue-42", reviewer, ClaimOptions{}); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("conflict err = %v", err)
	}

	if _, err := engine.Claims.RequestHandoff(ctx, "issue-42", coder, reviewer, "review time"); err != nil {
		t.Fatalf("request handoff: %v", err)
	}
	if _, err := engine.Claims.AcceptHandoff(ctx, "issue-42", reviewer); err != nil {
		t.Fatalf("accept handoff: %v", err)
	}

	if _, err := engine.Claims.UpdateStatus(ctx, "issue-42", reviewer, StatusCompleted, "", 100); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// The whole history is on the issue's stream, in order.
	stream, err := engine.Events(ctx, "issue-42")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(stream) != 4 {
		t.Fatalf("stream has %d events, want 4", len(stream))
	}
	for i, event := range stream {
		if event.Sequence() != int64(i+1) {
			t.Fatalf("event %d has sequence %d", i, event.Sequence())
		}
	}

	// Projections were fed from the live bus.
	if stats := engine.SystemStats.Get(); stats.TotalClaims != 1 || stats.TotalHandoffs != 1 || stats.CompletedClaims != 1 {
		t.Fatalf("system stats = %+v", stats)
	}
	if stats, ok := engine.ClaimantStats.Get(reviewer.Key()); !ok || stats.HandoffsReceived != 1 {
		t.Fatalf("reviewer stats = %+v", stats)
	}
}

func TestEngineStealAndRebalance(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.Agents.Register(&Agent{ID: "hot", AgentType: "coder", MaxClaims: 3}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := engine.Agents.Register(&Agent{ID: "cold", AgentType: "coder", MaxClaims: 4}); err != nil {
		t.Fatalf("register: %v", err)
	}

	hot := NewAgent("hot", "coder")
	for _, issueID := range []string{"issue-1", "issue-2", "issue-3", "issue-4"} {
		if _, err := engine.Claims.Claim(ctx, issueID, hot, ClaimOptions{}); err != nil {
			t.Fatalf("claim %s: %v", issueID, err)
		}
	}

	// Steal one issue through the board.
	if _, err := engine.Stealing.MarkStealable(ctx, "issue-1", hot, StealReasonVoluntary, nil); err != nil {
		t.Fatalf("mark: %v", err)
	}
	cold := NewAgent("cold", "coder")
	if _, err := engine.Stealing.Steal(ctx, "issue-1", cold); err != nil {
		t.Fatalf("steal: %v", err)
	}

	// The hot agent still holds 3 of 3, the cold one 1 of 4.
	report, err := engine.Balancer.DetectImbalance(ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !report.Detected {
		t.Fatalf("75/25 split should be detected, report %+v", report)
	}

	result, err := engine.Balancer.Rebalance(ctx)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if !result.Success {
		t.Fatalf("rebalance failed: %s", result.Error)
	}
	if result.MovedClaims == 0 {
		t.Fatal("overloaded agent shed no claims")
	}

	balancerStream, err := engine.BalancerEvents(ctx)
	if err != nil {
		t.Fatalf("balancer events: %v", err)
	}
	if len(balancerStream) == 0 {
		t.Fatal("balancer stream empty after detection and rebalance")
	}
}

func TestEngineRebuildProjections(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	coder := NewAgent("coder-1", "coder")
	if _, err := engine.Claims.Claim(ctx, "issue-1", coder, ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	engine.SystemStats.Reset()
	if err := engine.RebuildProjections(ctx, []string{"issue-1"}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := engine.SystemStats.Get().TotalClaims; got != 1 {
		t.Fatalf("rebuilt total claims = %d, want 1", got)
	}
}

func TestEngineRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventLog.Backend = "etcd"
	if _, err := New(Options{Config: &cfg}); err == nil {
		t.Fatal("unknown backend must fail engine construction")
	}
}

func TestResultOf(t *testing.T) {
	if got := ResultOf(nil); !got.Success || got.Error != "" {
		t.Fatalf("nil error result = %+v, want clean success", got)
	}

	wrapped := errors.New("claim: issue already claimed")
	got := ResultOf(wrapped)
	if got.Success {
		t.Fatal("error result must not be a success")
	}
	if got.Error != wrapped.Error() {
		t.Fatalf("error text = %q, want %q", got.Error, wrapped.Error())
	}
}
