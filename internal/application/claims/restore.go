package claims

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/claimflow/claimflow/internal/domain/balance"
	domain "github.com/claimflow/claimflow/internal/domain/claims"
	infra "github.com/claimflow/claimflow/internal/infrastructure/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/eventlog"
)

// RestoreState rebuilds the claim repository and stealable board from
// the durable event log and primes the emitter's sequence counters, so
// a restarted process continues every aggregate's stream without gaps.
//
// Each issue stream folds independently. Rebalance transfers are
// recorded only on the balancer stream, so those are applied afterwards
// to any claim whose issue stream has no later event.
// It returns the aggregate ids found in the log so the caller can
// replay the same streams into its read models.
func RestoreState(ctx context.Context, store eventlog.Store, repo infra.ClaimRepository,
	board infra.StealableBoard, emitter *Emitter, logger *slog.Logger) ([]string, error) {

	if logger == nil {
		logger = slog.Default()
	}

	aggregateIDs, err := store.AggregateIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if len(aggregateIDs) == 0 {
		return nil, nil
	}

	folds := make(map[string]*issueFold, len(aggregateIDs))
	order := make([]string, 0, len(aggregateIDs))

	for _, aggregateID := range aggregateIDs {
		if aggregateID == BalancerAggregateID {
			continue
		}
		stream, err := store.GetEvents(ctx, aggregateID, eventlog.QueryOptions{})
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", aggregateID, err)
		}
		fold := &issueFold{}
		for _, event := range stream {
			fold.apply(event)
		}
		folds[aggregateID] = fold
		order = append(order, aggregateID)
	}

	if err := applyRebalanceTransfers(ctx, store, folds); err != nil {
		return nil, err
	}

	restored := 0
	for _, aggregateID := range order {
		fold := folds[aggregateID]
		if fold.claim == nil {
			continue
		}
		if err := repo.Save(fold.claim); err != nil {
			return nil, fmt.Errorf("restore %s: %w", aggregateID, err)
		}
		if fold.entry != nil {
			if err := board.Put(fold.entry); err != nil {
				return nil, fmt.Errorf("restore %s: %w", aggregateID, err)
			}
		}
		restored++
	}

	if err := emitter.SeedSequences(ctx, aggregateIDs); err != nil {
		return nil, err
	}

	logger.Info("state restored from event log",
		"aggregates", len(aggregateIDs), "liveClaims", restored)
	return aggregateIDs, nil
}

// issueFold accumulates one issue stream into its final claim state.
type issueFold struct {
	claim       *domain.IssueClaim
	entry       *domain.StealableEntry
	lastEventAt int64 // unix millis of the stream's newest event
}

func (f *issueFold) apply(event *domain.ClaimEvent) {
	f.lastEventAt = event.Timestamp.UnixMilli()

	switch p := event.Payload.(type) {
	case *domain.IssueClaimedPayload:
		f.claim = domain.NewIssueClaim(p.IssueID, p.Claimant, p.ClaimedAt, p.Context)
		f.claim.ExpiresAt = p.ExpiresAt
		f.entry = nil

	case *domain.IssueReleasedPayload, *domain.ClaimExpiredPayload:
		f.claim = nil
		f.entry = nil

	case *domain.ClaimStatusUpdatedPayload:
		if f.claim == nil {
			return
		}
		// Only the owner can update status, so the payload claimant is
		// authoritative even after a silent rebalance transfer.
		f.claim.Claimant = p.Claimant
		f.claim.SetStatus(p.NewStatus, event.Timestamp)
		f.claim.SetProgress(p.Progress)
		if p.NewStatus == domain.StatusBlocked {
			f.claim.BlockReason = p.Note
		} else {
			f.claim.BlockReason = ""
		}
		if p.NewStatus != domain.StatusStealable {
			f.entry = nil
		}

	case *domain.HandoffRequestedPayload:
		if f.claim == nil {
			return
		}
		f.claim.Claimant = p.From
		f.claim.SetStatus(domain.StatusHandoffPending, event.Timestamp)
		f.claim.SetProgress(p.Progress)
		to := p.To
		f.claim.HandoffTo = &to
		f.claim.HandoffReason = p.Reason
		f.claim.HandoffRequestID = event.ID
		f.claim.HandoffCorrelationID = event.CorrelationID

	case *domain.HandoffAcceptedPayload:
		if f.claim == nil {
			return
		}
		f.claim.TransferTo(p.To, event.Timestamp)
		f.claim.ClearHandoff()

	case *domain.HandoffRejectedPayload:
		if f.claim == nil {
			return
		}
		f.claim.Claimant = p.Owner
		f.claim.SetStatus(domain.StatusActive, event.Timestamp)
		f.claim.ClearHandoff()

	case *domain.WorkMarkedStealablePayload:
		if f.claim == nil {
			return
		}
		f.claim.Claimant = p.Owner
		f.claim.SetStatus(domain.StatusStealable, event.Timestamp)
		f.claim.SetProgress(p.Progress)
		f.entry = &domain.StealableEntry{
			IssueID:                p.IssueID,
			Reason:                 p.Reason,
			StealableAt:            event.Timestamp,
			PreferredClaimantTypes: p.PreferredClaimantTypes,
			Progress:               p.Progress,
			Context:                f.claim.Context,
		}

	case *domain.WorkStolenPayload:
		if f.claim == nil {
			return
		}
		f.claim.TransferTo(p.To, event.Timestamp)
		f.entry = nil
	}
}

// applyRebalanceTransfers replays the balancer stream's executed moves
// onto folded claims. A move is skipped when the issue stream has a
// newer event: the next owner action already corrected the claimant.
func applyRebalanceTransfers(ctx context.Context, store eventlog.Store, folds map[string]*issueFold) error {
	stream, err := store.GetEvents(ctx, BalancerAggregateID, eventlog.QueryOptions{})
	if err != nil {
		return fmt.Errorf("restore %s: %w", BalancerAggregateID, err)
	}

	for _, event := range stream {
		p, ok := event.Payload.(*domain.LoadRebalancedPayload)
		if !ok {
			continue
		}
		for _, action := range p.Actions {
			if action.Type == string(balance.ActionDefer) || action.ToAgent == "" {
				continue
			}
			fold := folds[action.IssueID]
			if fold == nil || fold.claim == nil {
				continue
			}
			if event.Timestamp.UnixMilli() <= fold.lastEventAt {
				continue
			}
			fold.claim.TransferTo(domain.NewAgent(action.ToAgent, action.ToAgentType), event.Timestamp)
		}
	}
	return nil
}
