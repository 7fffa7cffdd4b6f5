package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

// MemoryStore is the in-memory reference Store, used by tests and as
// the default backend when no durable store is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	events      []*claims.ClaimEvent
	byAggregate map[string][]*claims.ClaimEvent
	byType      map[claims.ClaimEventType][]*claims.ClaimEvent
	sequences   map[string]int64
	closed      bool
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAggregate: make(map[string][]*claims.ClaimEvent),
		byType:      make(map[claims.ClaimEventType][]*claims.ClaimEvent),
		sequences:   make(map[string]int64),
	}
}

// Append appends a single event, enforcing the per-aggregate sequence.
func (s *MemoryStore) Append(ctx context.Context, event *claims.ClaimEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.appendLocked(event)
}

// AppendBatch appends events atomically: either every event passes the
// sequence check and is stored, or none are.
func (s *MemoryStore) AppendBatch(ctx context.Context, events []*claims.ClaimEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	// Validate the whole batch before mutating anything.
	expected := make(map[string]int64, len(events))
	for _, event := range events {
		aggID := event.AggregateID()
		if _, ok := expected[aggID]; !ok {
			expected[aggID] = s.sequences[aggID]
		}
		if event.Sequence() != expected[aggID]+1 {
			return fmt.Errorf("%w: aggregate %s expected sequence %d, got %d",
				ErrSequenceConflict, aggID, expected[aggID]+1, event.Sequence())
		}
		expected[aggID]++
	}

	for _, event := range events {
		if err := s.appendLocked(event); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) appendLocked(event *claims.ClaimEvent) error {
	aggID := event.AggregateID()
	if event.Sequence() != s.sequences[aggID]+1 {
		return fmt.Errorf("%w: aggregate %s expected sequence %d, got %d",
			ErrSequenceConflict, aggID, s.sequences[aggID]+1, event.Sequence())
	}

	s.events = append(s.events, event)
	s.byAggregate[aggID] = append(s.byAggregate[aggID], event)
	s.byType[event.Type] = append(s.byType[event.Type], event)
	s.sequences[aggID] = event.Sequence()
	return nil
}

// GetEvents returns events for an aggregate in sequence order.
func (s *MemoryStore) GetEvents(ctx context.Context, aggregateID string, opts QueryOptions) ([]*claims.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return filter(s.byAggregate[aggregateID], opts), nil
}

// GetEventsByType returns events of one type in append order.
func (s *MemoryStore) GetEventsByType(ctx context.Context, eventType claims.ClaimEventType, opts QueryOptions) ([]*claims.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return filter(s.byType[eventType], opts), nil
}

// GetLatestEvent returns the newest event for an aggregate, nil if none.
func (s *MemoryStore) GetLatestEvent(ctx context.Context, aggregateID string) (*claims.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	events := s.byAggregate[aggregateID]
	if len(events) == 0 {
		return nil, nil
	}
	return events[len(events)-1], nil
}

// LatestSequence returns the highest sequence for an aggregate.
func (s *MemoryStore) LatestSequence(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return s.sequences[aggregateID], nil
}

// AggregateIDs lists aggregates in first-seen order.
func (s *MemoryStore) AggregateIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(s.byAggregate))
	seen := make(map[string]bool, len(s.byAggregate))
	for _, event := range s.events {
		if !seen[event.AggregateID()] {
			seen[event.AggregateID()] = true
			ids = append(ids, event.AggregateID())
		}
	}
	return ids, nil
}

// Count returns the total number of stored events.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close marks the store closed; further calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func filter(events []*claims.ClaimEvent, opts QueryOptions) []*claims.ClaimEvent {
	result := make([]*claims.ClaimEvent, 0, len(events))
	for _, e := range events {
		if !matches(e, opts) {
			continue
		}
		result = append(result, e)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result
}
