package claims

import (
	"testing"
	"time"
)

func TestClaimantIdentity(t *testing.T) {
	coder := NewAgent("coder-1", "coder")
	if coder.Key() != "agent:coder-1" {
		t.Fatalf("Key() = %q, want agent:coder-1", coder.Key())
	}
	if coder.TypeLabel() != "coder" {
		t.Fatalf("TypeLabel() = %q, want coder", coder.TypeLabel())
	}

	human := NewHuman("alice", "Alice")
	if human.Key() != "human:alice" {
		t.Fatalf("Key() = %q, want human:alice", human.Key())
	}
	if human.TypeLabel() != "human" {
		t.Fatalf("TypeLabel() = %q, want human", human.TypeLabel())
	}

	// Identity is (kind, id); agent type is descriptive only.
	if !coder.Equals(NewAgent("coder-1", "reviewer")) {
		t.Error("same kind and id should be equal regardless of agent type")
	}
	if coder.Equals(NewHuman("coder-1", "")) {
		t.Error("agent and human with the same id are different claimants")
	}
	if !(Claimant{}).IsZero() {
		t.Error("zero claimant should report IsZero")
	}
}

func TestClaimExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claim := NewIssueClaim("issue-1", NewAgent("coder-1", "coder"), now, nil)

	if claim.IsExpired(now.Add(time.Hour)) {
		t.Error("claim without expiry never expires")
	}

	expires := now.Add(30 * time.Minute)
	claim.ExpiresAt = &expires
	if claim.IsExpired(now.Add(29 * time.Minute)) {
		t.Error("claim should not be expired before its deadline")
	}
	if !claim.IsExpired(now.Add(31 * time.Minute)) {
		t.Error("claim should be expired after its deadline")
	}
}

func TestClaimCloneIsDeep(t *testing.T) {
	now := time.Now()
	to := NewAgent("reviewer-1", "reviewer")
	expires := now.Add(time.Hour)

	claim := NewIssueClaim("issue-1", NewAgent("coder-1", "coder"), now, map[string]any{"branch": "fix/auth"})
	claim.HandoffTo = &to
	claim.ExpiresAt = &expires

	clone := claim.Clone()
	clone.HandoffTo.ID = "other"
	*clone.ExpiresAt = now
	clone.Context["branch"] = "changed"

	if claim.HandoffTo.ID != "reviewer-1" {
		t.Error("clone shares HandoffTo with the original")
	}
	if !claim.ExpiresAt.Equal(expires) {
		t.Error("clone shares ExpiresAt with the original")
	}
	if claim.Context["branch"] != "fix/auth" {
		t.Error("clone shares Context with the original")
	}
}

func TestTransferToReactivates(t *testing.T) {
	now := time.Now()
	claim := NewIssueClaim("issue-1", NewAgent("coder-1", "coder"), now, nil)
	claim.SetStatus(StatusStealable, now)

	thief := NewAgent("coder-2", "coder")
	claim.TransferTo(thief, now.Add(time.Minute))

	if !claim.IsOwnedBy(thief) {
		t.Error("transfer should change ownership")
	}
	if claim.Status != StatusActive {
		t.Errorf("transfer should reactivate the claim, got %s", claim.Status)
	}
}

func TestSetProgressClamps(t *testing.T) {
	claim := NewIssueClaim("issue-1", NewAgent("coder-1", "coder"), time.Now(), nil)
	claim.SetProgress(150)
	if claim.Progress != 100 {
		t.Errorf("progress = %v, want 100", claim.Progress)
	}
	claim.SetProgress(-5)
	if claim.Progress != 0 {
		t.Errorf("progress = %v, want 0", claim.Progress)
	}
}

func TestStealableEntryFilter(t *testing.T) {
	open := &StealableEntry{IssueID: "issue-1"}
	if !open.AllowsStealer(NewAgent("any", "tester")) {
		t.Error("empty filter allows everyone")
	}

	restricted := &StealableEntry{IssueID: "issue-2", PreferredClaimantTypes: []string{"reviewer", "human"}}
	if restricted.AllowsStealer(NewAgent("coder-1", "coder")) {
		t.Error("coder should not pass a reviewer/human filter")
	}
	if !restricted.AllowsStealer(NewAgent("reviewer-1", "reviewer")) {
		t.Error("reviewer should pass the filter")
	}
	if !restricted.AllowsStealer(NewHuman("alice", "Alice")) {
		t.Error("humans match on their kind")
	}
}
