package claims

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	domain "github.com/claimflow/claimflow/internal/domain/claims"
	infra "github.com/claimflow/claimflow/internal/infrastructure/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/metrics"
	"github.com/claimflow/claimflow/internal/shared"
)

// ClaimOptions carries optional claim parameters.
type ClaimOptions struct {
	// TTL sets an expiry; zero means the claim never expires.
	TTL time.Duration
	// Context is free-form work context carried on the claim.
	Context map[string]any
	// CorrelationID threads the claim into an existing trace.
	CorrelationID string
}

// Registry owns the claim lifecycle: claim, release, status updates,
// handoffs, and expiry. All mutations on one issue are serialized by a
// per-issue lock, and every mutation is rolled back if its event cannot
// be appended to the audit log.
type Registry struct {
	locks   *shared.KeyedMutex
	repo    infra.ClaimRepository
	board   infra.StealableBoard
	emitter *Emitter
	clock   shared.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(repo infra.ClaimRepository, board infra.StealableBoard, emitter *Emitter,
	clock shared.Clock, m *metrics.Metrics, logger *slog.Logger) *Registry {

	if clock == nil {
		clock = shared.SystemClock{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		locks:   shared.NewKeyedMutex(),
		repo:    repo,
		board:   board,
		emitter: emitter,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Claim takes exclusive ownership of an issue. Fails with
// ErrAlreadyClaimed while any live claim exists; a completed claim may
// be superseded.
func (r *Registry) Claim(ctx context.Context, issueID string, claimant domain.Claimant, opts ClaimOptions) (*domain.IssueClaim, error) {
	if issueID == "" || claimant.IsZero() {
		return nil, fmt.Errorf("claim: issue id and claimant are required")
	}

	unlock := r.locks.Lock(issueID)
	defer unlock()

	if existing, ok := r.repo.Get(issueID); ok && !existing.Status.IsTerminal() {
		r.metrics.ClaimErrors.WithLabelValues("already-claimed").Inc()
		return nil, fmt.Errorf("%w: issue %s held by %s", domain.ErrAlreadyClaimed, issueID, existing.Claimant.Key())
	}

	now := r.clock.Now()
	claim := domain.NewIssueClaim(issueID, claimant, now, opts.Context)
	if opts.TTL > 0 {
		expires := now.Add(opts.TTL)
		claim.ExpiresAt = &expires
	}

	if err := r.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	_, err := r.emitter.EmitIssue(ctx, issueID, &domain.IssueClaimedPayload{
		IssueID:   issueID,
		Claimant:  claimant,
		ClaimedAt: now,
		ExpiresAt: claim.ExpiresAt,
		Context:   opts.Context,
	}, opts.CorrelationID, "")
	if err != nil {
		// The claim is not real until its event is durable.
		_ = r.repo.Delete(issueID)
		return nil, err
	}

	r.metrics.ClaimsTotal.WithLabelValues("claim").Inc()
	r.metrics.ActiveClaims.Inc()
	r.logger.Info("issue claimed", "issueId", issueID, "claimant", claimant.Key())
	return claim, nil
}

// Release gives up ownership voluntarily. Only the owner may release.
func (r *Registry) Release(ctx context.Context, issueID string, claimant domain.Claimant, reason string) error {
	unlock := r.locks.Lock(issueID)
	defer unlock()

	claim, ok := r.repo.Get(issueID)
	if !ok {
		return fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}
	if !claim.IsOwnedBy(claimant) {
		r.metrics.ClaimErrors.WithLabelValues("not-owner").Inc()
		return fmt.Errorf("%w: issue %s held by %s", domain.ErrNotOwner, issueID, claim.Claimant.Key())
	}

	if err := r.repo.Delete(issueID); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	entry, onBoard := r.board.Get(issueID)
	_ = r.board.Remove(issueID)

	_, err := r.emitter.EmitIssue(ctx, issueID, &domain.IssueReleasedPayload{
		IssueID:  issueID,
		Claimant: claimant,
		Reason:   reason,
	}, "", "")
	if err != nil {
		_ = r.repo.Save(claim)
		if onBoard {
			_ = r.board.Put(entry)
		}
		return err
	}

	r.metrics.ClaimsTotal.WithLabelValues("release").Inc()
	r.metrics.ActiveClaims.Dec()
	r.logger.Info("issue released", "issueId", issueID, "claimant", claimant.Key(), "reason", reason)
	return nil
}

// UpdateStatus moves a claim through its lifecycle. Handoff-pending and
// stealable cannot be set here; they are owned by the handoff and steal
// flows. Blocking requires a note saying what is blocked on.
func (r *Registry) UpdateStatus(ctx context.Context, issueID string, claimant domain.Claimant, status domain.ClaimStatus, note string, progress float64) (*domain.IssueClaim, error) {
	unlock := r.locks.Lock(issueID)
	defer unlock()

	claim, ok := r.repo.Get(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}
	if !claim.IsOwnedBy(claimant) {
		r.metrics.ClaimErrors.WithLabelValues("not-owner").Inc()
		return nil, fmt.Errorf("%w: issue %s held by %s", domain.ErrNotOwner, issueID, claim.Claimant.Key())
	}
	if !domain.IsDirectlySettable(status) {
		return nil, fmt.Errorf("%w: %s is set by its own flow", domain.ErrInvalidTransition, status)
	}
	if !domain.CanTransition(claim.Status, status) {
		r.metrics.ClaimErrors.WithLabelValues("invalid-transition").Inc()
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, claim.Status, status)
	}
	if status == domain.StatusBlocked && note == "" {
		return nil, fmt.Errorf("%w: blocked requires a note", domain.ErrInvalidTransition)
	}

	before := claim.Clone()
	oldStatus := claim.Status
	claim.SetStatus(status, r.clock.Now())
	if progress > 0 {
		claim.SetProgress(progress)
	}
	if status == domain.StatusBlocked {
		claim.BlockReason = note
	}

	if err := r.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	_, err := r.emitter.EmitIssue(ctx, issueID, &domain.ClaimStatusUpdatedPayload{
		IssueID:   issueID,
		Claimant:  claimant,
		OldStatus: oldStatus,
		NewStatus: status,
		Note:      note,
		Progress:  claim.Progress,
	}, "", "")
	if err != nil {
		_ = r.repo.Save(before)
		return nil, err
	}

	if status == domain.StatusCompleted {
		r.metrics.ActiveClaims.Dec()
	}
	r.logger.Info("claim status updated",
		"issueId", issueID, "from", oldStatus, "to", status, "progress", claim.Progress)
	return claim, nil
}

// RequestHandoff opens a consensual transfer to a named target. The
// claim parks in handoff-pending until the target accepts or rejects.
func (r *Registry) RequestHandoff(ctx context.Context, issueID string, owner, to domain.Claimant, reason string) (*domain.IssueClaim, error) {
	if to.IsZero() || owner.Equals(to) {
		return nil, fmt.Errorf("handoff: target must be a different claimant")
	}

	unlock := r.locks.Lock(issueID)
	defer unlock()

	claim, ok := r.repo.Get(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}
	if !claim.IsOwnedBy(owner) {
		return nil, fmt.Errorf("%w: issue %s held by %s", domain.ErrNotOwner, issueID, claim.Claimant.Key())
	}
	if !domain.CanTransition(claim.Status, domain.StatusHandoffPending) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, claim.Status, domain.StatusHandoffPending)
	}

	before := claim.Clone()
	claim.SetStatus(domain.StatusHandoffPending, r.clock.Now())
	claim.HandoffTo = &to
	claim.HandoffReason = reason

	if err := r.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("request handoff: %w", err)
	}

	event, err := r.emitter.EmitIssue(ctx, issueID, &domain.HandoffRequestedPayload{
		IssueID:  issueID,
		From:     owner,
		To:       to,
		Reason:   reason,
		Progress: claim.Progress,
	}, "", "")
	if err != nil {
		_ = r.repo.Save(before)
		return nil, err
	}

	// Remember the request event so accept/reject can chain causation.
	claim.HandoffRequestID = event.ID
	claim.HandoffCorrelationID = event.CorrelationID
	if err := r.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("request handoff: %w", err)
	}

	r.metrics.HandoffsTotal.WithLabelValues("requested").Inc()
	r.logger.Info("handoff requested",
		"issueId", issueID, "from", owner.Key(), "to", to.Key(), "reason", reason)
	return claim, nil
}

// AcceptHandoff transfers ownership to the pending target. Only the
// named target may accept.
func (r *Registry) AcceptHandoff(ctx context.Context, issueID string, accepter domain.Claimant) (*domain.IssueClaim, error) {
	unlock := r.locks.Lock(issueID)
	defer unlock()

	claim, ok := r.repo.Get(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}
	if claim.Status != domain.StatusHandoffPending || claim.HandoffTo == nil {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNoPendingHandoff, issueID)
	}
	if !claim.HandoffTo.Equals(accepter) {
		r.metrics.ClaimErrors.WithLabelValues("not-target").Inc()
		return nil, fmt.Errorf("%w: handoff targets %s", domain.ErrNotTarget, claim.HandoffTo.Key())
	}

	before := claim.Clone()
	previousOwner := claim.Claimant
	requestID := claim.HandoffRequestID
	correlationID := claim.HandoffCorrelationID

	claim.TransferTo(accepter, r.clock.Now())
	claim.ClearHandoff()

	if err := r.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("accept handoff: %w", err)
	}

	_, err := r.emitter.EmitIssue(ctx, issueID, &domain.HandoffAcceptedPayload{
		IssueID: issueID,
		From:    previousOwner,
		To:      accepter,
	}, correlationID, requestID)
	if err != nil {
		_ = r.repo.Save(before)
		return nil, err
	}

	r.metrics.HandoffsTotal.WithLabelValues("accepted").Inc()
	r.logger.Info("handoff accepted",
		"issueId", issueID, "from", previousOwner.Key(), "to", accepter.Key())
	return claim, nil
}

// RejectHandoff declines the pending transfer; ownership is unchanged
// and the claim returns to active.
func (r *Registry) RejectHandoff(ctx context.Context, issueID string, rejecter domain.Claimant, reason string) (*domain.IssueClaim, error) {
	unlock := r.locks.Lock(issueID)
	defer unlock()

	claim, ok := r.repo.Get(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}
	if claim.Status != domain.StatusHandoffPending || claim.HandoffTo == nil {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNoPendingHandoff, issueID)
	}
	if !claim.HandoffTo.Equals(rejecter) {
		return nil, fmt.Errorf("%w: handoff targets %s", domain.ErrNotTarget, claim.HandoffTo.Key())
	}

	before := claim.Clone()
	owner := claim.Claimant
	requestID := claim.HandoffRequestID
	correlationID := claim.HandoffCorrelationID

	claim.SetStatus(domain.StatusActive, r.clock.Now())
	claim.ClearHandoff()

	if err := r.repo.Save(claim); err != nil {
		return nil, fmt.Errorf("reject handoff: %w", err)
	}

	_, err := r.emitter.EmitIssue(ctx, issueID, &domain.HandoffRejectedPayload{
		IssueID:    issueID,
		Owner:      owner,
		RejectedBy: rejecter,
		Reason:     reason,
	}, correlationID, requestID)
	if err != nil {
		_ = r.repo.Save(before)
		return nil, err
	}

	r.metrics.HandoffsTotal.WithLabelValues("rejected").Inc()
	r.logger.Info("handoff rejected",
		"issueId", issueID, "owner", owner.Key(), "rejectedBy", rejecter.Key(), "reason", reason)
	return claim, nil
}

// TransferOwnership reassigns a claim during rebalancing. The ownership
// change itself is audited by the balancer's rebalance event, which
// carries every executed action.
func (r *Registry) TransferOwnership(issueID string, to domain.Claimant) error {
	unlock := r.locks.Lock(issueID)
	defer unlock()

	claim, ok := r.repo.Get(issueID)
	if !ok {
		return fmt.Errorf("%w: issue %s", domain.ErrNotClaimed, issueID)
	}

	claim.TransferTo(to, r.clock.Now())
	return r.repo.Save(claim)
}

// ExpireStale sweeps claims whose expiry has passed, emitting one
// expired event per claim. Returns the issue ids expired.
func (r *Registry) ExpireStale(ctx context.Context) ([]string, error) {
	now := r.clock.Now()
	expired := make([]string, 0)

	for _, candidate := range r.repo.ListExpired(now) {
		issueID := candidate.IssueID
		unlock := r.locks.Lock(issueID)

		// Re-check under the lock; the owner may have acted meanwhile.
		claim, ok := r.repo.Get(issueID)
		if !ok || claim.Status.IsTerminal() || !claim.IsExpired(now) {
			unlock()
			continue
		}

		if err := r.repo.Delete(issueID); err != nil {
			unlock()
			return expired, fmt.Errorf("expire %s: %w", issueID, err)
		}
		entry, onBoard := r.board.Get(issueID)
		_ = r.board.Remove(issueID)

		_, err := r.emitter.EmitIssue(ctx, issueID, &domain.ClaimExpiredPayload{
			IssueID:   issueID,
			Claimant:  claim.Claimant,
			ExpiredAt: now,
		}, "", "")
		if err != nil {
			_ = r.repo.Save(claim)
			if onBoard {
				_ = r.board.Put(entry)
			}
			unlock()
			return expired, err
		}

		r.metrics.ClaimsTotal.WithLabelValues("expire").Inc()
		r.metrics.ActiveClaims.Dec()
		r.logger.Info("claim expired", "issueId", issueID, "claimant", claim.Claimant.Key())
		expired = append(expired, issueID)
		unlock()
	}
	return expired, nil
}

// Get returns the claim for an issue, if any.
func (r *Registry) Get(issueID string) (*domain.IssueClaim, bool) {
	return r.repo.Get(issueID)
}

// List returns every claim.
func (r *Registry) List() []*domain.IssueClaim {
	return r.repo.List()
}

// ListByClaimant returns the claims held by one claimant.
func (r *Registry) ListByClaimant(claimant domain.Claimant) []*domain.IssueClaim {
	return r.repo.ListByClaimant(claimant.Key())
}

// ListByStatus returns the claims in one status.
func (r *Registry) ListByStatus(status domain.ClaimStatus) []*domain.IssueClaim {
	return r.repo.ListByStatus(status)
}
