// Package claims provides storage for claim records, stealable-work
// entries, and the agent registry backing load decisions.
package claims

import (
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/claimflow/claimflow/internal/domain/claims"
)

// ClaimRepository stores the current claim per issue. At most one claim
// exists per issue id; history lives in the event log, not here.
type ClaimRepository interface {
	Save(claim *domain.IssueClaim) error
	Get(issueID string) (*domain.IssueClaim, bool)
	Delete(issueID string) error
	List() []*domain.IssueClaim
	ListByClaimant(claimantKey string) []*domain.IssueClaim
	ListByStatus(status domain.ClaimStatus) []*domain.IssueClaim
	ListExpired(now time.Time) []*domain.IssueClaim
	Count() int
	CountByClaimant(claimantKey string) int
}

// StealableBoard stores the entries advertising work open for stealing.
type StealableBoard interface {
	Put(entry *domain.StealableEntry) error
	Get(issueID string) (*domain.StealableEntry, bool)
	Remove(issueID string) error
	Entries() []*domain.StealableEntry
}

// InMemoryClaimRepository is the default ClaimRepository. All reads
// return clones so callers cannot mutate stored state.
type InMemoryClaimRepository struct {
	mu     sync.RWMutex
	claims map[string]*domain.IssueClaim
}

// NewInMemoryClaimRepository creates an empty repository.
func NewInMemoryClaimRepository() *InMemoryClaimRepository {
	return &InMemoryClaimRepository{
		claims: make(map[string]*domain.IssueClaim),
	}
}

// Save stores a clone of the claim under its issue id.
func (r *InMemoryClaimRepository) Save(claim *domain.IssueClaim) error {
	if claim == nil || claim.IssueID == "" {
		return fmt.Errorf("claim repository: missing issue id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.claims[claim.IssueID] = claim.Clone()
	return nil
}

// Get returns a clone of the claim for an issue, if any.
func (r *InMemoryClaimRepository) Get(issueID string) (*domain.IssueClaim, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	claim, exists := r.claims[issueID]
	if !exists {
		return nil, false
	}
	return claim.Clone(), true
}

// Delete removes the claim for an issue.
func (r *InMemoryClaimRepository) Delete(issueID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.claims[issueID]; !exists {
		return fmt.Errorf("claim repository: no claim for issue %s", issueID)
	}
	delete(r.claims, issueID)
	return nil
}

// List returns all claims ordered by issue id.
func (r *InMemoryClaimRepository) List() []*domain.IssueClaim {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.IssueClaim, 0, len(r.claims))
	for _, claim := range r.claims {
		result = append(result, claim.Clone())
	}
	sortClaims(result)
	return result
}

// ListByClaimant returns the claims held by one claimant key.
func (r *InMemoryClaimRepository) ListByClaimant(claimantKey string) []*domain.IssueClaim {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.IssueClaim, 0)
	for _, claim := range r.claims {
		if claim.Claimant.Key() == claimantKey {
			result = append(result, claim.Clone())
		}
	}
	sortClaims(result)
	return result
}

// ListByStatus returns the claims in one status.
func (r *InMemoryClaimRepository) ListByStatus(status domain.ClaimStatus) []*domain.IssueClaim {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.IssueClaim, 0)
	for _, claim := range r.claims {
		if claim.Status == status {
			result = append(result, claim.Clone())
		}
	}
	sortClaims(result)
	return result
}

// ListExpired returns non-terminal claims whose expiry has passed.
func (r *InMemoryClaimRepository) ListExpired(now time.Time) []*domain.IssueClaim {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.IssueClaim, 0)
	for _, claim := range r.claims {
		if !claim.Status.IsTerminal() && claim.IsExpired(now) {
			result = append(result, claim.Clone())
		}
	}
	sortClaims(result)
	return result
}

// Count returns the number of stored claims.
func (r *InMemoryClaimRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.claims)
}

// CountByClaimant returns the number of claims held by a claimant key.
func (r *InMemoryClaimRepository) CountByClaimant(claimantKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, claim := range r.claims {
		if claim.Claimant.Key() == claimantKey {
			count++
		}
	}
	return count
}

// Clear removes all claims (for testing).
func (r *InMemoryClaimRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = make(map[string]*domain.IssueClaim)
}

func sortClaims(claims []*domain.IssueClaim) {
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].IssueID < claims[j].IssueID
	})
}

// InMemoryStealableBoard is the default StealableBoard.
type InMemoryStealableBoard struct {
	mu      sync.RWMutex
	entries map[string]*domain.StealableEntry
}

// NewInMemoryStealableBoard creates an empty board.
func NewInMemoryStealableBoard() *InMemoryStealableBoard {
	return &InMemoryStealableBoard{
		entries: make(map[string]*domain.StealableEntry),
	}
}

// Put stores a clone of the entry under its issue id.
func (b *InMemoryStealableBoard) Put(entry *domain.StealableEntry) error {
	if entry == nil || entry.IssueID == "" {
		return fmt.Errorf("stealable board: missing issue id")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[entry.IssueID] = entry.Clone()
	return nil
}

// Get returns a clone of the entry for an issue, if any.
func (b *InMemoryStealableBoard) Get(issueID string) (*domain.StealableEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, exists := b.entries[issueID]
	if !exists {
		return nil, false
	}
	return entry.Clone(), true
}

// Remove deletes the entry for an issue. Removing an absent entry is
// not an error: steal resolution races removal with expiry sweeps.
func (b *InMemoryStealableBoard) Remove(issueID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, issueID)
	return nil
}

// Entries returns all entries ordered by how long they have waited.
func (b *InMemoryStealableBoard) Entries() []*domain.StealableEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]*domain.StealableEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		result = append(result, entry.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StealableAt.Equal(result[j].StealableAt) {
			return result[i].IssueID < result[j].IssueID
		}
		return result[i].StealableAt.Before(result[j].StealableAt)
	})
	return result
}
