package claims

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domain "github.com/claimflow/claimflow/internal/domain/claims"
	infra "github.com/claimflow/claimflow/internal/infrastructure/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/metrics"
	"github.com/claimflow/claimflow/internal/shared"
)

// stealRecord remembers who won an issue recently, so a losing attempt
// inside the contest window gets contest events instead of a bare
// rejection.
type stealRecord struct {
	winner domain.Claimant
	at     time.Time
}

// StealCoordinator runs the non-consensual transfer flow: owners (or
// the staleness sweep) advertise work on the stealable board, and the
// first stealer to win the per-issue lock takes it.
type StealCoordinator struct {
	locks   *shared.KeyedMutex
	repo    infra.ClaimRepository
	board   infra.StealableBoard
	emitter *Emitter
	clock   shared.Clock
	cfg     domain.StealConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	winners map[string]stealRecord
}

// NewStealCoordinator creates a StealCoordinator sharing the registry's
// lock set so steal and claim mutations on one issue serialize.
func NewStealCoordinator(registry *Registry, cfg domain.StealConfig,
	m *metrics.Metrics, logger *slog.Logger) *StealCoordinator {

	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StealCoordinator{
		locks:   registry.locks,
		repo:    registry.repo,
		board:   registry.board,
		emitter: registry.emitter,
		clock:   registry.clock,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		winners: make(map[string]stealRecord),
	}
}

// MarkStealable opens an owner's claim for stealing. The optional type
// filter restricts who may take it; empty means anyone.
func (s *StealCoordinator) MarkStealable(ctx context.Context, issueID string, owner domain.Claimant, reason domain.StealReason, preferredTypes []string) (*domain.StealableEntry, error) {
	if !reason.IsValid() {
		return nil, fmt.Errorf("mark stealable: unknown reason %q", reason)
	}

	unlock := s.locks.Lock(issueID)
	defer unlock()

	claim, ok := s.repo.Get(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}
	if !claim.IsOwnedBy(owner) {
		return nil, fmt.Errorf("%w: issue %s held by %s", domain.ErrNotOwner, issueID, claim.Claimant.Key())
	}
	if !domain.CanTransition(claim.Status, domain.StatusStealable) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, claim.Status, domain.StatusStealable)
	}

	return s.markLocked(ctx, claim, reason, preferredTypes)
}

// markLocked flips the claim to stealable and posts the board entry.
// Caller holds the issue lock.
func (s *StealCoordinator) markLocked(ctx context.Context, claim *domain.IssueClaim, reason domain.StealReason, preferredTypes []string) (*domain.StealableEntry, error) {
	before := claim.Clone()
	now := s.clock.Now()
	claim.SetStatus(domain.StatusStealable, now)

	if err := s.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("mark stealable: %w", err)
	}

	entry := &domain.StealableEntry{
		IssueID:                claim.IssueID,
		Reason:                 reason,
		StealableAt:            now,
		PreferredClaimantTypes: preferredTypes,
		Progress:               claim.Progress,
		Context:                claim.Context,
	}
	if err := s.board.Put(entry); err != nil {
		_ = s.repo.Save(before)
		return nil, fmt.Errorf("mark stealable: %w", err)
	}

	_, err := s.emitter.EmitIssue(ctx, claim.IssueID, &domain.WorkMarkedStealablePayload{
		IssueID:                claim.IssueID,
		Owner:                  claim.Claimant,
		Reason:                 reason,
		PreferredClaimantTypes: preferredTypes,
		Progress:               claim.Progress,
	}, "", "")
	if err != nil {
		_ = s.board.Remove(claim.IssueID)
		_ = s.repo.Save(before)
		return nil, err
	}

	s.metrics.StealableClaims.Inc()
	s.logger.Info("work marked stealable",
		"issueId", claim.IssueID, "owner", claim.Claimant.Key(), "reason", reason)
	return entry, nil
}

// Steal takes a stealable claim. Exactly one concurrent stealer wins;
// losers inside the contest window get contest events appended and
// ErrNotStealable back.
func (s *StealCoordinator) Steal(ctx context.Context, issueID string, stealer domain.Claimant) (*domain.IssueClaim, error) {
	unlock := s.locks.Lock(issueID)
	defer unlock()

	claim, ok := s.repo.Get(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}

	entry, onBoard := s.board.Get(issueID)
	if claim.Status != domain.StatusStealable || !onBoard {
		if err := s.recordContest(ctx, issueID, stealer); err != nil {
			return nil, err
		}
		s.metrics.StealsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotStealable, issueID)
	}

	if !entry.AllowsStealer(stealer) {
		s.metrics.StealsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: issue %s wants %v, stealer is %s",
			domain.ErrTypeMismatch, issueID, entry.PreferredClaimantTypes, stealer.TypeLabel())
	}
	if claim.IsOwnedBy(stealer) {
		return nil, fmt.Errorf("steal: %s already owns issue %s", stealer.Key(), issueID)
	}

	before := claim.Clone()
	previousOwner := claim.Claimant
	now := s.clock.Now()
	claim.TransferTo(stealer, now)

	if err := s.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("steal: %w", err)
	}
	_ = s.board.Remove(issueID)

	_, err := s.emitter.EmitIssue(ctx, issueID, &domain.WorkStolenPayload{
		IssueID: issueID,
		From:    previousOwner,
		To:      stealer,
		Reason:  entry.Reason,
	}, "", "")
	if err != nil {
		_ = s.board.Put(entry)
		_ = s.repo.Save(before)
		return nil, err
	}

	s.mu.Lock()
	s.winners[issueID] = stealRecord{winner: stealer, at: now}
	s.mu.Unlock()

	s.metrics.StealsTotal.WithLabelValues("stolen").Inc()
	s.metrics.StealableClaims.Dec()
	s.logger.Info("work stolen",
		"issueId", issueID, "from", previousOwner.Key(), "to", stealer.Key(), "reason", entry.Reason)
	return claim, nil
}

// recordContest emits contest events when a steal loses to a winner
// still inside the contest window. Outside the window the loss is an
// ordinary rejection with no audit trail.
func (s *StealCoordinator) recordContest(ctx context.Context, issueID string, challenger domain.Claimant) error {
	now := s.clock.Now()

	s.mu.Lock()
	record, exists := s.winners[issueID]
	if exists && now.Sub(record.at) > s.cfg.ContestWindow {
		delete(s.winners, issueID)
		exists = false
	}
	s.mu.Unlock()

	if !exists || record.winner.Equals(challenger) {
		return nil
	}

	contested, err := s.emitter.EmitIssue(ctx, issueID, &domain.StealContestedPayload{
		IssueID:    issueID,
		Challenger: challenger,
	}, "", "")
	if err != nil {
		return err
	}

	_, err = s.emitter.EmitIssue(ctx, issueID, &domain.StealContestResolvedPayload{
		IssueID: issueID,
		Winner:  record.winner,
		Loser:   challenger,
	}, contested.CorrelationID, contested.ID)
	if err != nil {
		return err
	}

	s.metrics.StealsTotal.WithLabelValues("contested").Inc()
	return nil
}

// Reclaim lets the owner withdraw their work from the stealable board.
func (s *StealCoordinator) Reclaim(ctx context.Context, issueID string, owner domain.Claimant) (*domain.IssueClaim, error) {
	unlock := s.locks.Lock(issueID)
	defer unlock()

	claim, ok := s.repo.Get(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}
	if !claim.IsOwnedBy(owner) {
		return nil, fmt.Errorf("%w: issue %s held by %s", domain.ErrNotOwner, issueID, claim.Claimant.Key())
	}
	if claim.Status != domain.StatusStealable {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, claim.Status, domain.StatusActive)
	}

	before := claim.Clone()
	claim.SetStatus(domain.StatusActive, s.clock.Now())

	if err := s.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("reclaim: %w", err)
	}
	_ = s.board.Remove(issueID)

	_, err := s.emitter.EmitIssue(ctx, issueID, &domain.ClaimStatusUpdatedPayload{
		IssueID:   issueID,
		Claimant:  owner,
		OldStatus: domain.StatusStealable,
		NewStatus: domain.StatusActive,
		Note:      "reclaimed by owner",
		Progress:  claim.Progress,
	}, "", "")
	if err != nil {
		_ = s.repo.Save(before)
		return nil, err
	}

	s.metrics.StealableClaims.Dec()
	return claim, nil
}

// Board returns the current stealable entries, oldest first.
func (s *StealCoordinator) Board() []*domain.StealableEntry {
	return s.board.Entries()
}

// DetectStaleWork sweeps live claims and marks stale or long-blocked
// ones stealable so idle work gets picked up. Claims past the progress
// protection threshold stay with their owner. Returns the issue ids
// marked.
func (s *StealCoordinator) DetectStaleWork(ctx context.Context) ([]string, error) {
	now := s.clock.Now()
	marked := make([]string, 0)

	for _, candidate := range s.repo.List() {
		var reason domain.StealReason
		switch {
		case domain.IsClaimStale(candidate, s.cfg, now):
			reason = domain.StealReasonStale
		case domain.IsClaimBlockedTooLong(candidate, s.cfg, now):
			reason = domain.StealReasonBlockedTimeout
		default:
			continue
		}
		if candidate.Progress >= s.cfg.ProgressProtection {
			continue
		}

		issueID := candidate.IssueID
		unlock := s.locks.Lock(issueID)

		claim, ok := s.repo.Get(issueID)
		if !ok || !domain.CanTransition(claim.Status, domain.StatusStealable) {
			unlock()
			continue
		}

		if _, err := s.markLocked(ctx, claim, reason, nil); err != nil {
			unlock()
			return marked, err
		}
		marked = append(marked, issueID)
		unlock()
	}
	return marked, nil
}
