package claims

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ClaimStatus
		want     bool
	}{
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusBlocked, true},
		{StatusActive, StatusHandoffPending, true},
		{StatusActive, StatusReviewRequested, true},
		{StatusActive, StatusStealable, true},
		{StatusActive, StatusCompleted, true},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusCompleted, false},
		{StatusPaused, StatusHandoffPending, false},
		{StatusBlocked, StatusActive, true},
		{StatusBlocked, StatusCompleted, false},
		{StatusHandoffPending, StatusActive, true},
		{StatusHandoffPending, StatusStealable, false},
		{StatusReviewRequested, StatusCompleted, true},
		{StatusReviewRequested, StatusPaused, false},
		{StatusStealable, StatusActive, true},
		{StatusStealable, StatusCompleted, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	if !StatusCompleted.IsTerminal() {
		t.Fatal("completed should be terminal")
	}
	if len(ValidTransitions(StatusCompleted)) != 0 {
		t.Fatalf("completed should allow no transitions, got %v", ValidTransitions(StatusCompleted))
	}
	for _, s := range []ClaimStatus{StatusActive, StatusPaused, StatusBlocked,
		StatusHandoffPending, StatusReviewRequested, StatusStealable} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestIsDirectlySettable(t *testing.T) {
	if IsDirectlySettable(StatusHandoffPending) {
		t.Error("handoff-pending must go through the handoff flow")
	}
	if IsDirectlySettable(StatusStealable) {
		t.Error("stealable must go through the steal flow")
	}
	for _, s := range []ClaimStatus{StatusActive, StatusPaused, StatusBlocked,
		StatusReviewRequested, StatusCompleted} {
		if !IsDirectlySettable(s) {
			t.Errorf("%s should be directly settable", s)
		}
	}
}

func TestIsClaimStale(t *testing.T) {
	cfg := DefaultStealConfig()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	claim := NewIssueClaim("issue-1", NewAgent("coder-1", "coder"), now.Add(-time.Hour), nil)
	if !IsClaimStale(claim, cfg, now) {
		t.Error("hour-idle active claim should be stale with 30m threshold")
	}

	fresh := NewIssueClaim("issue-2", NewAgent("coder-1", "coder"), now.Add(-time.Minute), nil)
	if IsClaimStale(fresh, cfg, now) {
		t.Error("minute-old claim should not be stale")
	}

	protected := NewIssueClaim("issue-3", NewAgent("coder-1", "coder"), now.Add(-time.Hour), nil)
	protected.SetProgress(90)
	if IsClaimStale(protected, cfg, now) {
		t.Error("claim above progress protection should not be stale")
	}

	blocked := NewIssueClaim("issue-4", NewAgent("coder-1", "coder"), now.Add(-2*time.Hour), nil)
	blocked.SetStatus(StatusBlocked, now.Add(-2*time.Hour))
	if IsClaimStale(blocked, cfg, now) {
		t.Error("blocked claims are covered by the blocked threshold, not staleness")
	}
	if !IsClaimBlockedTooLong(blocked, cfg, now) {
		t.Error("two-hour blocked claim should exceed the 60m blocked threshold")
	}

	recentBlocked := NewIssueClaim("issue-5", NewAgent("coder-1", "coder"), now, nil)
	recentBlocked.SetStatus(StatusBlocked, now.Add(-time.Minute))
	if IsClaimBlockedTooLong(recentBlocked, cfg, now) {
		t.Error("recently blocked claim should not time out")
	}
}
