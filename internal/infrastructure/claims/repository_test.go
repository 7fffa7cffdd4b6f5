package claims

import (
	"errors"
	"testing"
	"time"

	"github.com/claimflow/claimflow/internal/domain/balance"
	domain "github.com/claimflow/claimflow/internal/domain/claims"
)

func TestRepositoryReadsAreIsolated(t *testing.T) {
	repo := NewInMemoryClaimRepository()
	now := time.Now()

	claim := domain.NewIssueClaim("issue-1", domain.NewAgent("coder-1", "coder"), now, nil)
	if err := repo.Save(claim); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating what Save was given or what Get returned must not leak
	// into stored state.
	claim.Status = domain.StatusCompleted
	got, ok := repo.Get("issue-1")
	if !ok {
		t.Fatal("claim missing")
	}
	if got.Status != domain.StatusActive {
		t.Fatal("caller mutation leaked into the repository")
	}

	got.Status = domain.StatusBlocked
	again, _ := repo.Get("issue-1")
	if again.Status != domain.StatusActive {
		t.Fatal("read result aliases stored state")
	}
}

func TestRepositoryListExpired(t *testing.T) {
	repo := NewInMemoryClaimRepository()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coder := domain.NewAgent("coder-1", "coder")

	past := now.Add(-time.Minute)
	expired := domain.NewIssueClaim("issue-expired", coder, now.Add(-time.Hour), nil)
	expired.ExpiresAt = &past

	// Terminal claims are never swept, even past expiry.
	done := domain.NewIssueClaim("issue-done", coder, now.Add(-time.Hour), nil)
	done.ExpiresAt = &past
	done.SetStatus(domain.StatusCompleted, now)

	alive := domain.NewIssueClaim("issue-alive", coder, now, nil)

	for _, c := range []*domain.IssueClaim{expired, done, alive} {
		if err := repo.Save(c); err != nil {
			t.Fatalf("save %s: %v", c.IssueID, err)
		}
	}

	got := repo.ListExpired(now)
	if len(got) != 1 || got[0].IssueID != "issue-expired" {
		t.Fatalf("expired = %v, want [issue-expired]", got)
	}
}

func TestRepositoryDeleteMissing(t *testing.T) {
	repo := NewInMemoryClaimRepository()
	if err := repo.Delete("absent"); err == nil {
		t.Fatal("deleting an absent claim should error")
	}
	if err := repo.Save(nil); err == nil {
		t.Fatal("saving nil should error")
	}
}

func TestBoardOrderingAndRemove(t *testing.T) {
	board := NewInMemoryStealableBoard()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newer := &domain.StealableEntry{IssueID: "issue-new", StealableAt: base.Add(time.Minute)}
	older := &domain.StealableEntry{IssueID: "issue-old", StealableAt: base}
	for _, e := range []*domain.StealableEntry{newer, older} {
		if err := board.Put(e); err != nil {
			t.Fatalf("put %s: %v", e.IssueID, err)
		}
	}

	entries := board.Entries()
	if len(entries) != 2 || entries[0].IssueID != "issue-old" {
		t.Fatalf("entries = %v, want oldest first", entries)
	}

	// Removal races are expected; removing an absent entry is fine.
	if err := board.Remove("absent"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	if err := board.Remove("issue-old"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := board.Get("issue-old"); ok {
		t.Fatal("removed entry still on board")
	}
}

func TestAgentRegistry(t *testing.T) {
	registry := NewInMemoryAgentRegistry()

	if err := registry.Register(&balance.Agent{ID: "coder-1", AgentType: "coder", MaxClaims: 5}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(&balance.Agent{}); err == nil {
		t.Fatal("agent without id must be rejected")
	}

	agent, err := registry.Get("coder-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Returned values are copies.
	agent.MaxClaims = 99
	fresh, _ := registry.Get("coder-1")
	if fresh.MaxClaims != 5 {
		t.Fatal("registry state aliased by a read")
	}

	if err := registry.UpdateStatus("coder-1", balance.AgentOffline); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got := len(registry.ListAvailable()); got != 0 {
		t.Fatalf("offline agent listed as available (%d)", got)
	}
	if got := registry.Count(); got != 1 {
		t.Fatalf("count = %d", got)
	}

	if err := registry.UpdateStatus("ghost", balance.AgentIdle); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("ghost update err = %v, want ErrAgentNotFound", err)
	}
	if err := registry.Remove("coder-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := registry.Get("coder-1"); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("get removed err = %v, want ErrAgentNotFound", err)
	}
}
