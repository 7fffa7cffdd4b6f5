package claims

import (
	"context"
	"sync"
	"time"

	domain "github.com/claimflow/claimflow/internal/domain/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/eventlog"
	"github.com/claimflow/claimflow/internal/infrastructure/events"
)

// Projection is a read model fed from the audit stream.
type Projection interface {
	Apply(event *domain.ClaimEvent)
	Reset()
}

// ClaimantStats counts per-claimant activity across the event stream.
type ClaimantStats struct {
	ClaimantKey       string    `json:"claimantKey"`
	TotalClaims       int       `json:"totalClaims"`
	CompletedClaims   int       `json:"completedClaims"`
	ReleasedClaims    int       `json:"releasedClaims"`
	HandoffsInitiated int       `json:"handoffsInitiated"`
	HandoffsReceived  int       `json:"handoffsReceived"`
	WorkStolen        int       `json:"workStolen"`
	WorkLost          int       `json:"workLost"`
	LastActivityAt    time.Time `json:"lastActivityAt"`
}

// SystemStats aggregates system-wide counters.
type SystemStats struct {
	TotalClaims     int       `json:"totalClaims"`
	CompletedClaims int       `json:"completedClaims"`
	ReleasedClaims  int       `json:"releasedClaims"`
	ExpiredClaims   int       `json:"expiredClaims"`
	TotalHandoffs   int       `json:"totalHandoffs"`
	RejectedHandoff int       `json:"rejectedHandoffs"`
	TotalSteals     int       `json:"totalSteals"`
	ContestedSteals int       `json:"contestedSteals"`
	Rebalances      int       `json:"rebalances"`
	LastEventAt     time.Time `json:"lastEventAt"`
}

// ClaimantStatsProjection maintains per-claimant counters.
type ClaimantStatsProjection struct {
	mu    sync.RWMutex
	stats map[string]*ClaimantStats
}

// NewClaimantStatsProjection creates an empty projection.
func NewClaimantStatsProjection() *ClaimantStatsProjection {
	return &ClaimantStatsProjection{stats: make(map[string]*ClaimantStats)}
}

// Apply folds one event into the counters.
func (p *ClaimantStatsProjection) Apply(event *domain.ClaimEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch payload := event.Payload.(type) {
	case *domain.IssueClaimedPayload:
		stats := p.getOrCreate(payload.Claimant.Key())
		stats.TotalClaims++
		stats.LastActivityAt = event.Timestamp

	case *domain.IssueReleasedPayload:
		stats := p.getOrCreate(payload.Claimant.Key())
		stats.ReleasedClaims++
		stats.LastActivityAt = event.Timestamp

	case *domain.ClaimStatusUpdatedPayload:
		if payload.NewStatus == domain.StatusCompleted {
			stats := p.getOrCreate(payload.Claimant.Key())
			stats.CompletedClaims++
			stats.LastActivityAt = event.Timestamp
		}

	case *domain.HandoffRequestedPayload:
		stats := p.getOrCreate(payload.From.Key())
		stats.HandoffsInitiated++
		stats.LastActivityAt = event.Timestamp

	case *domain.HandoffAcceptedPayload:
		stats := p.getOrCreate(payload.To.Key())
		stats.HandoffsReceived++
		stats.LastActivityAt = event.Timestamp

	case *domain.WorkStolenPayload:
		thief := p.getOrCreate(payload.To.Key())
		thief.WorkStolen++
		thief.LastActivityAt = event.Timestamp
		victim := p.getOrCreate(payload.From.Key())
		victim.WorkLost++
	}
}

func (p *ClaimantStatsProjection) getOrCreate(key string) *ClaimantStats {
	if stats, exists := p.stats[key]; exists {
		return stats
	}
	stats := &ClaimantStats{ClaimantKey: key}
	p.stats[key] = stats
	return stats
}

// Reset clears all counters.
func (p *ClaimantStatsProjection) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = make(map[string]*ClaimantStats)
}

// Get returns the stats for one claimant key.
func (p *ClaimantStatsProjection) Get(claimantKey string) (*ClaimantStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats, exists := p.stats[claimantKey]
	if !exists {
		return nil, false
	}
	statsCopy := *stats
	return &statsCopy, true
}

// GetAll returns stats for every claimant seen in the stream.
func (p *ClaimantStatsProjection) GetAll() []*ClaimantStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*ClaimantStats, 0, len(p.stats))
	for _, stats := range p.stats {
		statsCopy := *stats
		result = append(result, &statsCopy)
	}
	return result
}

// SystemStatsProjection maintains system-wide counters.
type SystemStatsProjection struct {
	mu    sync.RWMutex
	stats SystemStats
}

// NewSystemStatsProjection creates an empty projection.
func NewSystemStatsProjection() *SystemStatsProjection {
	return &SystemStatsProjection{}
}

// Apply folds one event into the counters.
func (p *SystemStatsProjection) Apply(event *domain.ClaimEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.LastEventAt = event.Timestamp

	switch event.Type {
	case domain.EventIssueClaimed:
		p.stats.TotalClaims++
	case domain.EventIssueReleased:
		p.stats.ReleasedClaims++
	case domain.EventClaimExpired:
		p.stats.ExpiredClaims++
	case domain.EventClaimStatusUpdated:
		if payload, ok := event.Payload.(*domain.ClaimStatusUpdatedPayload); ok {
			if payload.NewStatus == domain.StatusCompleted {
				p.stats.CompletedClaims++
			}
		}
	case domain.EventHandoffAccepted:
		p.stats.TotalHandoffs++
	case domain.EventHandoffRejected:
		p.stats.RejectedHandoff++
	case domain.EventWorkStolen:
		p.stats.TotalSteals++
	case domain.EventStealContested:
		p.stats.ContestedSteals++
	case domain.EventLoadRebalanced:
		p.stats.Rebalances++
	}
}

// Reset clears the counters.
func (p *SystemStatsProjection) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = SystemStats{}
}

// Get returns a snapshot of the counters.
func (p *SystemStatsProjection) Get() SystemStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// ProjectionManager feeds registered projections from the live bus and
// can rebuild them by replaying the durable event log.
type ProjectionManager struct {
	mu          sync.Mutex
	projections []Projection
	store       eventlog.Store
	bus         events.Publisher
	subID       string
}

// NewProjectionManager creates a manager over a store and bus.
func NewProjectionManager(store eventlog.Store, bus events.Publisher) *ProjectionManager {
	return &ProjectionManager{store: store, bus: bus}
}

// Register adds a projection.
func (m *ProjectionManager) Register(projection Projection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections = append(m.projections, projection)
}

// Start subscribes the projections to all live events.
func (m *ProjectionManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subID != "" {
		return
	}
	m.subID = m.bus.Subscribe(events.Wildcard, func(event *domain.ClaimEvent) {
		m.mu.Lock()
		projections := m.projections
		m.mu.Unlock()
		for _, p := range projections {
			p.Apply(event)
		}
	})
}

// Stop detaches the projections from the bus.
func (m *ProjectionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subID != "" {
		m.bus.Unsubscribe(events.Wildcard, m.subID)
		m.subID = ""
	}
}

// Rebuild resets every projection and replays issue and balancer
// events from the durable log in stored order.
func (m *ProjectionManager) Rebuild(ctx context.Context, aggregateIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.projections {
		p.Reset()
	}

	for _, aggregateID := range aggregateIDs {
		stream, err := m.store.GetEvents(ctx, aggregateID, eventlog.QueryOptions{})
		if err != nil {
			return err
		}
		for _, event := range stream {
			for _, p := range m.projections {
				p.Apply(event)
			}
		}
	}
	return nil
}
