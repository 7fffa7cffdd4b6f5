// Package eventlog provides append-only stores for claim domain events.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

// Store errors.
var (
	// ErrSequenceConflict indicates an append would break the gapless
	// strictly-increasing sequence for an aggregate.
	ErrSequenceConflict = errors.New("event log: sequence conflict")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("event log: store is closed")

	// ErrStoreInitFailed indicates store initialization failed.
	ErrStoreInitFailed = errors.New("event log: initialization failed")
)

// QueryOptions narrows a read of the log. Zero values mean "no bound".
type QueryOptions struct {
	FromSeq  int64
	ToSeq    int64
	Limit    int
	FromDate *time.Time
	ToDate   *time.Time
}

// Store is an append-only log of claim events with causal metadata.
// Events are immutable once persisted and never deleted. Sequence
// numbers must be gapless and strictly increasing per aggregate.
type Store interface {
	Append(ctx context.Context, event *claims.ClaimEvent) error
	AppendBatch(ctx context.Context, events []*claims.ClaimEvent) error
	GetEvents(ctx context.Context, aggregateID string, opts QueryOptions) ([]*claims.ClaimEvent, error)
	GetEventsByType(ctx context.Context, eventType claims.ClaimEventType, opts QueryOptions) ([]*claims.ClaimEvent, error)
	GetLatestEvent(ctx context.Context, aggregateID string) (*claims.ClaimEvent, error)
	// LatestSequence returns the highest persisted sequence for the
	// aggregate, 0 if none. Used to seed sequence generators on start.
	LatestSequence(ctx context.Context, aggregateID string) (int64, error)
	// AggregateIDs lists every aggregate with at least one event. Used
	// to restore in-memory state from the log on start.
	AggregateIDs(ctx context.Context) ([]string, error)
	Close() error
}

// matches applies QueryOptions bounds to one event.
func matches(e *claims.ClaimEvent, opts QueryOptions) bool {
	if opts.FromSeq > 0 && e.Sequence() < opts.FromSeq {
		return false
	}
	if opts.ToSeq > 0 && e.Sequence() > opts.ToSeq {
		return false
	}
	if opts.FromDate != nil && e.Timestamp.Before(*opts.FromDate) {
		return false
	}
	if opts.ToDate != nil && e.Timestamp.After(*opts.ToDate) {
		return false
	}
	return true
}
