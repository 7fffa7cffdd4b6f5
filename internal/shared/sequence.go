package shared

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// SequenceGenerator assigns per-aggregate monotonic sequence numbers.
// Next must be gapless and strictly increasing for a given aggregate.
type SequenceGenerator interface {
	Next(aggregateID string) int64
	Seed(aggregateID string, current int64)
	Rewind(aggregateID string, to int64)
}

// AtomicSequenceGenerator implements SequenceGenerator with one atomic
// counter per aggregate. Increment-and-read is a single atomic op, so
// concurrent emitters for the same aggregate never observe the same
// sequence number.
type AtomicSequenceGenerator struct {
	counters *xsync.Map[string, *atomic.Int64]
}

// NewAtomicSequenceGenerator creates an empty sequence generator.
func NewAtomicSequenceGenerator() *AtomicSequenceGenerator {
	return &AtomicSequenceGenerator{
		counters: xsync.NewMap[string, *atomic.Int64](),
	}
}

// Next returns the next sequence number for the aggregate, starting at 1.
func (g *AtomicSequenceGenerator) Next(aggregateID string) int64 {
	counter, _ := g.counters.LoadOrStore(aggregateID, &atomic.Int64{})
	return counter.Add(1)
}

// Seed sets the current sequence number for an aggregate, typically from
// the highest sequence already in the event log. Seeding below the
// current value is ignored so replays cannot rewind a live counter.
func (g *AtomicSequenceGenerator) Seed(aggregateID string, current int64) {
	counter, _ := g.counters.LoadOrStore(aggregateID, &atomic.Int64{})
	for {
		existing := counter.Load()
		if existing >= current {
			return
		}
		if counter.CompareAndSwap(existing, current) {
			return
		}
	}
}

// Rewind lowers the counter to undo a burned sequence number after a
// failed persist. Only valid when the caller serializes emits for the
// aggregate, so no other goroutine holds a number above to.
func (g *AtomicSequenceGenerator) Rewind(aggregateID string, to int64) {
	counter, _ := g.counters.LoadOrStore(aggregateID, &atomic.Int64{})
	for {
		existing := counter.Load()
		if existing <= to {
			return
		}
		if counter.CompareAndSwap(existing, to) {
			return
		}
	}
}
