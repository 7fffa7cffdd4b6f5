// Package claimflow provides the public API for the claims engine.
//
// It wires the claim registry, steal coordinator, load balancer, and
// event-sourced audit log behind one Engine value.
//
// Example:
//
//	engine, err := claimflow.New(claimflow.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close(context.Background())
//
//	claim, err := engine.Claims.Claim(ctx, "issue-42",
//	    claimflow.NewAgent("coder-1", "coder"), claimflow.ClaimOptions{})
package claimflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	appbalance "github.com/claimflow/claimflow/internal/application/balance"
	appclaims "github.com/claimflow/claimflow/internal/application/claims"
	"github.com/claimflow/claimflow/internal/config"
	"github.com/claimflow/claimflow/internal/domain/balance"
	domain "github.com/claimflow/claimflow/internal/domain/claims"
	infra "github.com/claimflow/claimflow/internal/infrastructure/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/eventlog"
	"github.com/claimflow/claimflow/internal/infrastructure/events"
	"github.com/claimflow/claimflow/internal/infrastructure/metrics"
	"github.com/claimflow/claimflow/internal/shared"
)

// Re-export the domain types callers work with.
type (
	Claimant       = domain.Claimant
	ClaimantKind   = domain.ClaimantKind
	ClaimStatus    = domain.ClaimStatus
	IssueClaim     = domain.IssueClaim
	StealableEntry = domain.StealableEntry
	StealReason    = domain.StealReason
	ClaimEvent     = domain.ClaimEvent
	ClaimEventType = domain.ClaimEventType
	EventHandler   = domain.EventHandler
	StealConfig    = domain.StealConfig

	Agent             = balance.Agent
	AgentLoad         = balance.AgentLoad
	AgentStatus       = balance.AgentStatus
	ImbalanceReport   = balance.ImbalanceReport
	RebalanceResult   = balance.RebalanceResult
	RebalancePreview  = balance.RebalancePreview
	ImbalanceSeverity = balance.ImbalanceSeverity

	ClaimOptions = appclaims.ClaimOptions
	Config       = config.Config
)

// Claim status constants.
const (
	StatusActive          = domain.StatusActive
	StatusPaused          = domain.StatusPaused
	StatusBlocked         = domain.StatusBlocked
	StatusHandoffPending  = domain.StatusHandoffPending
	StatusReviewRequested = domain.StatusReviewRequested
	StatusStealable       = domain.StatusStealable
	StatusCompleted       = domain.StatusCompleted
)

// Steal reason constants.
const (
	StealReasonOverloaded     = domain.StealReasonOverloaded
	StealReasonStale          = domain.StealReasonStale
	StealReasonBlockedTimeout = domain.StealReasonBlockedTimeout
	StealReasonVoluntary      = domain.StealReasonVoluntary
)

// Sentinel errors callers match with errors.Is.
var (
	ErrAlreadyClaimed    = domain.ErrAlreadyClaimed
	ErrNotClaimed        = domain.ErrNotClaimed
	ErrNotOwner          = domain.ErrNotOwner
	ErrNotTarget         = domain.ErrNotTarget
	ErrNoPendingHandoff  = domain.ErrNoPendingHandoff
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrNotStealable      = domain.ErrNotStealable
	ErrTypeMismatch      = domain.ErrTypeMismatch
	ErrAgentNotFound     = domain.ErrAgentNotFound
	ErrOnCooldown        = domain.ErrOnCooldown
)

// Result is the flat success/error shape returned over tool
// boundaries (CLI output, RPC wrappers) instead of a Go error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ResultOf maps an operation error into a Result. A nil error is a
// success.
func ResultOf(err error) Result {
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true}
}

// NewAgent builds an agent claimant.
func NewAgent(id, agentType string) Claimant { return domain.NewAgent(id, agentType) }

// NewHuman builds a human claimant.
func NewHuman(id, displayName string) Claimant { return domain.NewHuman(id, displayName) }

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Options configures a new Engine.
type Options struct {
	// Config is the engine configuration; zero value means defaults.
	Config *Config
	// Logger receives structured operation logs; nil means slog.Default.
	Logger *slog.Logger
	// Registerer receives the Prometheus collectors; nil means a
	// private registry (nothing scraped).
	Registerer prometheus.Registerer
	// Clock overrides time, for tests.
	Clock shared.Clock
}

// Engine is the assembled claims engine.
type Engine struct {
	Claims   *appclaims.Registry
	Stealing *appclaims.StealCoordinator
	Balancer *appbalance.Balancer
	Agents   infra.AgentRegistry

	// Read models fed from the live event bus.
	SystemStats   *infra.SystemStatsProjection
	ClaimantStats *infra.ClaimantStatsProjection

	cfg         Config
	store       eventlog.Store
	bus         *events.Bus
	bridge      *events.NATSBridge
	emitter     *appclaims.Emitter
	projections *infra.ProjectionManager
}

// New assembles an Engine from options.
func New(opts Options) (*Engine, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	} else {
		m = metrics.NewNop()
	}

	store, err := openStore(cfg.EventLog)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	var bridge *events.NATSBridge
	if cfg.NATS.Enabled {
		bridge, err = events.NewNATSBridge(bus, cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	emitter := appclaims.NewEmitter(cfg.Emitter, store, bus,
		opts.Clock, nil, nil, m, logger)

	repo := infra.NewInMemoryClaimRepository()
	board := infra.NewInMemoryStealableBoard()
	agents := infra.NewInMemoryAgentRegistry()

	// A durable backend carries history from previous processes; fold it
	// back into live state and continue each stream where it left off.
	restored, err := appclaims.RestoreState(context.Background(), store, repo, board, emitter, logger)
	if err != nil {
		if bridge != nil {
			bridge.Close()
		}
		store.Close()
		return nil, err
	}

	registry := appclaims.NewRegistry(repo, board, emitter, opts.Clock, m, logger)
	stealer := appclaims.NewStealCoordinator(registry, cfg.Steal, m, logger)
	balancer := appbalance.NewBalancer(cfg.Balance, registry, agents, emitter,
		nil, opts.Clock, m, logger)

	systemStats := infra.NewSystemStatsProjection()
	claimantStats := infra.NewClaimantStatsProjection()
	projections := infra.NewProjectionManager(store, bus)
	projections.Register(systemStats)
	projections.Register(claimantStats)
	projections.Start()
	if len(restored) > 0 {
		if err := projections.Rebuild(context.Background(), restored); err != nil {
			if bridge != nil {
				bridge.Close()
			}
			store.Close()
			return nil, err
		}
	}

	return &Engine{
		Claims:        registry,
		Stealing:      stealer,
		Balancer:      balancer,
		Agents:        agents,
		SystemStats:   systemStats,
		ClaimantStats: claimantStats,
		cfg:           cfg,
		store:         store,
		bus:           bus,
		bridge:        bridge,
		emitter:       emitter,
		projections:   projections,
	}, nil
}

// RebuildProjections resets the read models and replays the given
// aggregate streams from the durable log.
func (e *Engine) RebuildProjections(ctx context.Context, aggregateIDs []string) error {
	return e.projections.Rebuild(ctx, aggregateIDs)
}

func openStore(cfg config.EventLogConfig) (eventlog.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return eventlog.NewMemoryStore(), nil
	case "sqlite":
		return eventlog.NewSQLiteStore(cfg.Path)
	case "postgres":
		return eventlog.NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown event log backend %q", cfg.Backend)
	}
}

// Subscribe registers a handler for one event type; "*" matches all.
func (e *Engine) Subscribe(eventType ClaimEventType, handler EventHandler) string {
	return e.bus.Subscribe(eventType, handler)
}

// Unsubscribe removes a subscription returned by Subscribe.
func (e *Engine) Unsubscribe(eventType ClaimEventType, subscriptionID string) bool {
	return e.bus.Unsubscribe(eventType, subscriptionID)
}

// Events reads an issue's audit stream in sequence order.
func (e *Engine) Events(ctx context.Context, issueID string) ([]*ClaimEvent, error) {
	return e.store.GetEvents(ctx, issueID, eventlog.QueryOptions{})
}

// BalancerEvents reads the balancer's audit stream.
func (e *Engine) BalancerEvents(ctx context.Context) ([]*ClaimEvent, error) {
	return e.store.GetEvents(ctx, appclaims.BalancerAggregateID, eventlog.QueryOptions{})
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Close flushes pending events and shuts the engine down.
func (e *Engine) Close(ctx context.Context) error {
	e.projections.Stop()
	err := e.emitter.Close(ctx)
	if e.bridge != nil {
		if berr := e.bridge.Close(); err == nil {
			err = berr
		}
	}
	e.bus.Close()
	if serr := e.store.Close(); err == nil {
		err = serr
	}
	return err
}
