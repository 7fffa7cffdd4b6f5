// Package claims provides the application services for claiming,
// handoff, and work stealing.
package claims

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domain "github.com/claimflow/claimflow/internal/domain/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/eventlog"
	"github.com/claimflow/claimflow/internal/infrastructure/events"
	"github.com/claimflow/claimflow/internal/infrastructure/metrics"
	"github.com/claimflow/claimflow/internal/shared"
)

// BalancerAggregateID is the singleton stream for balance events.
const BalancerAggregateID = "load-balancer"

// EmitterConfig controls event stamping and batching.
type EmitterConfig struct {
	Source        string        `yaml:"source"`
	Environment   string        `yaml:"environment"`
	SchemaVersion string        `yaml:"schemaVersion"`
	BatchEnabled  bool          `yaml:"batchEnabled"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// DefaultEmitterConfig returns the production defaults. Batching is
// off: every emit is durable before the operation returns.
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		Source:        "claimflow",
		SchemaVersion: "1.0",
		BatchSize:     50,
		FlushInterval: 2 * time.Second,
	}
}

// Emitter stamps, persists, and publishes claim events. Persistence
// comes first: an event that cannot be appended to the log is never
// published, and the caller is expected to roll back its state change.
//
// With batching enabled, events are buffered and flushed when the
// buffer fills or the flush interval elapses. That trades immediate
// durability for throughput; callers get the append error at flush
// time instead of emit time.
type Emitter struct {
	mu      sync.Mutex
	cfg     EmitterConfig
	store   eventlog.Store
	bus     events.Publisher
	clock   shared.Clock
	ids     shared.IDGenerator
	seqs    shared.SequenceGenerator
	metrics *metrics.Metrics
	logger  *slog.Logger

	pending    []*domain.ClaimEvent
	flushTimer *time.Timer
	closed     bool
}

// NewEmitter creates an Emitter. Nil clock, ids, metrics, or logger
// fall back to production defaults.
func NewEmitter(cfg EmitterConfig, store eventlog.Store, bus events.Publisher,
	clock shared.Clock, ids shared.IDGenerator, seqs shared.SequenceGenerator,
	m *metrics.Metrics, logger *slog.Logger) *Emitter {

	if clock == nil {
		clock = shared.SystemClock{}
	}
	if ids == nil {
		ids = shared.UUIDGenerator{}
	}
	if seqs == nil {
		seqs = shared.NewAtomicSequenceGenerator()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Emitter{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		clock:   clock,
		ids:     ids,
		seqs:    seqs,
		metrics: m,
		logger:  logger,
	}
}

// EmitIssue emits an event on an issue's stream.
func (e *Emitter) EmitIssue(ctx context.Context, issueID string, payload domain.Payload, correlationID, causationID string) (*domain.ClaimEvent, error) {
	return e.emit(ctx, domain.AggregateIssue, issueID, payload, correlationID, causationID)
}

// EmitBalancer emits an event on the balancer's singleton stream.
func (e *Emitter) EmitBalancer(ctx context.Context, payload domain.Payload, correlationID string) (*domain.ClaimEvent, error) {
	return e.emit(ctx, domain.AggregateBalancer, BalancerAggregateID, payload, correlationID, "")
}

func (e *Emitter) emit(ctx context.Context, aggregateType, aggregateID string, payload domain.Payload, correlationID, causationID string) (*domain.ClaimEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, eventlog.ErrStoreClosed
	}

	seq := e.seqs.Next(aggregateID)
	event := &domain.ClaimEvent{
		ID:            e.ids.NewID(),
		Type:          payload.EventType(),
		Timestamp:     e.clock.Now(),
		Source:        e.cfg.Source,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Payload:       payload,
		Metadata: domain.EventMetadata{
			Version:        1,
			SchemaVersion:  e.cfg.SchemaVersion,
			Environment:    e.cfg.Environment,
			AggregateID:    aggregateID,
			AggregateType:  aggregateType,
			SequenceNumber: seq,
		},
	}
	if event.CorrelationID == "" {
		event.CorrelationID = event.ID
	}

	if e.cfg.BatchEnabled {
		e.pending = append(e.pending, event)
		if len(e.pending) >= e.cfg.BatchSize {
			if err := e.flushLocked(ctx); err != nil {
				return nil, err
			}
		} else {
			e.armTimerLocked()
		}
		return event, nil
	}

	if err := e.store.Append(ctx, event); err != nil {
		// Rewind the burned sequence so the stream stays gapless.
		// Safe because callers serialize emits per aggregate.
		e.seqs.Rewind(aggregateID, seq-1)
		return nil, fmt.Errorf("emit %s: %w", event.Type, err)
	}

	e.metrics.EventsEmitted.WithLabelValues(string(event.Type)).Inc()
	e.bus.Publish(event)
	return event, nil
}

// FlushBatch persists and publishes any buffered events. Safe to call
// when the buffer is empty or batching is disabled.
func (e *Emitter) FlushBatch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked(ctx)
}

func (e *Emitter) flushLocked(ctx context.Context) error {
	if e.flushTimer != nil {
		e.flushTimer.Stop()
		e.flushTimer = nil
	}
	if len(e.pending) == 0 {
		return nil
	}

	batch := e.pending
	if err := e.store.AppendBatch(ctx, batch); err != nil {
		return fmt.Errorf("flush %d events: %w", len(batch), err)
	}
	e.pending = nil

	for _, event := range batch {
		e.metrics.EventsEmitted.WithLabelValues(string(event.Type)).Inc()
	}
	e.bus.PublishBatch(batch)
	return nil
}

func (e *Emitter) armTimerLocked() {
	if e.flushTimer != nil || e.cfg.FlushInterval <= 0 {
		return
	}
	e.flushTimer = time.AfterFunc(e.cfg.FlushInterval, func() {
		if err := e.FlushBatch(context.Background()); err != nil {
			e.logger.Error("event batch flush failed", "error", err)
		}
	})
}

// SeedSequences primes the sequence counters from the durable log so a
// restarted process continues each stream without gaps.
func (e *Emitter) SeedSequences(ctx context.Context, aggregateIDs []string) error {
	for _, aggregateID := range aggregateIDs {
		seq, err := e.store.LatestSequence(ctx, aggregateID)
		if err != nil {
			return fmt.Errorf("seed sequence for %s: %w", aggregateID, err)
		}
		e.seqs.Seed(aggregateID, seq)
	}
	return nil
}

// Close flushes buffered events and stops the timer.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	err := e.flushLocked(ctx)
	e.closed = true
	return err
}
