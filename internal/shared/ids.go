package shared

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator supplies unique identifiers for events and workflows.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator generates random UUIDv4 identifiers.
type UUIDGenerator struct{}

// NewID returns a new UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequentialIDGenerator generates predictable ids for tests.
type SequentialIDGenerator struct {
	Prefix  string
	counter atomic.Int64
}

// NewID returns the next id in the sequence.
func (g *SequentialIDGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.counter.Add(1))
}
