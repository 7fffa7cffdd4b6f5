// Package balance implements load inspection and the rebalance loop
// that moves claims off overloaded agents.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	appclaims "github.com/claimflow/claimflow/internal/application/claims"
	"github.com/claimflow/claimflow/internal/domain/balance"
	domain "github.com/claimflow/claimflow/internal/domain/claims"
	infra "github.com/claimflow/claimflow/internal/infrastructure/claims"
	"github.com/claimflow/claimflow/internal/infrastructure/metrics"
	"github.com/claimflow/claimflow/internal/shared"
)

// cooldownMessage is the user-facing text for a skipped pass.
const cooldownMessage = "Rebalance on cooldown"

// Config controls the balancer.
type Config struct {
	// ImbalanceThreshold is the minimum score that counts as imbalance.
	ImbalanceThreshold float64 `yaml:"imbalanceThreshold"`
	// Cooldown is the minimum gap between executed rebalance passes.
	Cooldown time.Duration `yaml:"cooldown"`
	// MaxActionsPerRebalance caps how many planned actions a single
	// pass keeps after the strategy prioritizes them. Zero means no cap.
	MaxActionsPerRebalance int `yaml:"maxActionsPerRebalance"`
	// MinUtilizationForRebalance marks busy agents below this
	// utilization as rebalance targets alongside idle ones.
	MinUtilizationForRebalance float64 `yaml:"minUtilizationForRebalance"`
	// Thresholds classify agents as idle, busy, or overloaded.
	Thresholds balance.Thresholds `yaml:"thresholds"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ImbalanceThreshold:         20,
		Cooldown:                   5 * time.Minute,
		MaxActionsPerRebalance:     10,
		MinUtilizationForRebalance: 30,
		Thresholds:                 balance.DefaultThresholds(),
	}
}

// Balancer inspects agent load and runs rebalance passes. Only one
// pass runs at a time, and executed passes respect a cooldown so the
// swarm is not churned continuously.
type Balancer struct {
	cfg      Config
	registry *appclaims.Registry
	agents   infra.AgentRegistry
	emitter  *appclaims.Emitter
	strategy balance.Strategy
	clock    shared.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger

	runLock sync.Mutex // single-flight guard for Rebalance

	mu          sync.Mutex
	lastRunAt   time.Time
	hasCooldown bool
}

// NewBalancer creates a Balancer. A nil strategy gets LowProgressFirst.
func NewBalancer(cfg Config, registry *appclaims.Registry, agents infra.AgentRegistry,
	emitter *appclaims.Emitter, strategy balance.Strategy,
	clock shared.Clock, m *metrics.Metrics, logger *slog.Logger) *Balancer {

	if strategy == nil {
		strategy = balance.NewLowProgressFirst()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Balancer{
		cfg:      cfg,
		registry: registry,
		agents:   agents,
		emitter:  emitter,
		strategy: strategy,
		clock:    clock,
		metrics:  m,
		logger:   logger,
	}
}

// GetAgentLoad returns the derived load view for one agent.
func (b *Balancer) GetAgentLoad(agentID string) (*balance.AgentLoad, error) {
	agent, err := b.agents.Get(agentID)
	if err != nil {
		return nil, err
	}
	load := b.loadFor(agent)
	return &load, nil
}

// GetAllLoads returns the load view for every registered agent.
func (b *Balancer) GetAllLoads() []balance.AgentLoad {
	agents := b.agents.List()
	loads := make([]balance.AgentLoad, 0, len(agents))
	for _, agent := range agents {
		loads = append(loads, b.loadFor(agent))
	}
	return loads
}

func (b *Balancer) loadFor(agent *balance.Agent) balance.AgentLoad {
	current := b.registry.ListByClaimant(domain.NewAgent(agent.ID, agent.AgentType))
	utilization := balance.Utilization(len(current), agent.MaxClaims)

	status := agent.Status
	if status != balance.AgentOffline {
		status = b.cfg.Thresholds.StatusFor(utilization)
	}

	lastActivity := b.clock.Now()
	if len(current) > 0 {
		lastActivity = current[0].ClaimedAt
		for _, claim := range current[1:] {
			if claim.ClaimedAt.After(lastActivity) {
				lastActivity = claim.ClaimedAt
			}
		}
	}

	return balance.AgentLoad{
		AgentID:             agent.ID,
		AgentType:           agent.AgentType,
		Status:              status,
		CurrentClaims:       len(current),
		MaxClaims:           agent.MaxClaims,
		UtilizationPercent:  utilization,
		QueuedTasks:         agent.QueuedTasks,
		AverageTaskDuration: agent.AverageTaskDuration,
		LastActivityAt:      lastActivity,
	}
}

// DetectImbalance scores the current load spread. When the score
// crosses the configured threshold an imbalance event is appended to
// the audit log.
func (b *Balancer) DetectImbalance(ctx context.Context) (*balance.ImbalanceReport, error) {
	loads := b.availableLoads()
	utilizations := make([]float64, 0, len(loads))
	for _, load := range loads {
		utilizations = append(utilizations, load.UtilizationPercent)
	}

	score, maxUtil, minUtil, stddev := balance.ImbalanceScore(utilizations)
	severity := balance.SeverityFor(score, b.cfg.ImbalanceThreshold)
	report := &balance.ImbalanceReport{
		Detected:       score > b.cfg.ImbalanceThreshold,
		Score:          score,
		Severity:       severity,
		MaxUtilization: maxUtil,
		MinUtilization: minUtil,
		StdDev:         stddev,
		AgentCount:     len(loads),
	}

	b.metrics.ImbalanceScore.Set(score)

	if report.Detected {
		_, err := b.emitter.EmitBalancer(ctx, &domain.ImbalanceDetectedPayload{
			Score:          score,
			Severity:       string(severity),
			MaxUtilization: maxUtil,
			MinUtilization: minUtil,
			AgentCount:     len(loads),
		}, "")
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

// PreviewRebalance plans a pass without executing it. State is not
// mutated and no cooldown is consumed.
func (b *Balancer) PreviewRebalance() *balance.RebalancePreview {
	overloaded, underloaded := b.classify()
	actions := b.truncate(b.strategy.PlanActions(overloaded, underloaded, b.claimsByAgent(overloaded)))

	useful := 0
	for _, action := range actions {
		if action.Type.MutatesOwnership() {
			useful++
		}
	}

	preview := &balance.RebalancePreview{
		Actions:             actions,
		Overloaded:          overloaded,
		Underloaded:         underloaded,
		ExpectedImprovement: balance.ExpectedImprovement(useful),
		RiskLevel:           b.strategy.Risk(actions),
	}
	if len(overloaded) == 0 {
		preview.Warnings = append(preview.Warnings, "no overloaded agents")
	}
	if len(underloaded) == 0 && len(overloaded) > 0 {
		preview.Warnings = append(preview.Warnings, "no agents with spare capacity")
	}
	for _, action := range actions {
		if action.Type == balance.ActionDefer {
			preview.Warnings = append(preview.Warnings,
				fmt.Sprintf("issue %s deferred: progress too high to move", action.Claim.IssueID))
		}
	}
	return preview
}

// Rebalance plans and executes one pass. A concurrent call fails fast,
// and a call inside the cooldown window is refused without planning.
func (b *Balancer) Rebalance(ctx context.Context) (*balance.RebalanceResult, error) {
	if !b.runLock.TryLock() {
		return nil, fmt.Errorf("rebalance already in progress")
	}
	defer b.runLock.Unlock()

	start := b.clock.Now()

	b.mu.Lock()
	onCooldown := b.hasCooldown && start.Sub(b.lastRunAt) < b.cfg.Cooldown
	b.mu.Unlock()
	if onCooldown {
		b.metrics.RebalanceRuns.WithLabelValues("skipped").Inc()
		return &balance.RebalanceResult{
			Success: false,
			Error:   cooldownMessage,
		}, fmt.Errorf("%w: %s remaining", domain.ErrOnCooldown, b.cooldownRemaining(start))
	}

	overloaded, underloaded := b.classify()
	result := &balance.RebalanceResult{
		Success:           true,
		BeforeOverloaded:  len(overloaded),
		BeforeUnderloaded: len(underloaded),
	}

	// An empty pass still arms the cooldown, otherwise a caller polling
	// an idle swarm would re-classify every agent on every tick.
	if len(overloaded) == 0 || len(underloaded) == 0 {
		result.AfterOverloaded = len(overloaded)
		result.AfterUnderloaded = len(underloaded)
		result.Duration = b.clock.Now().Sub(start)
		b.mu.Lock()
		b.lastRunAt = b.clock.Now()
		b.hasCooldown = true
		b.mu.Unlock()
		b.metrics.RebalanceRuns.WithLabelValues("success").Inc()
		return result, nil
	}

	actions := b.truncate(b.strategy.PlanActions(overloaded, underloaded, b.claimsByAgent(overloaded)))

	for _, action := range actions {
		if !action.Type.MutatesOwnership() {
			result.Actions = append(result.Actions, action)
			continue
		}

		target, err := b.agents.Get(action.ToAgent)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			continue
		}
		to := domain.NewAgent(target.ID, target.AgentType)
		if err := b.registry.TransferOwnership(action.Claim.IssueID, to); err != nil {
			result.Success = false
			result.Error = err.Error()
			continue
		}

		result.Actions = append(result.Actions, action)
		result.MovedClaims++
	}

	afterOverloaded, afterUnderloaded := b.classify()
	result.AfterOverloaded = len(afterOverloaded)
	result.AfterUnderloaded = len(afterUnderloaded)
	result.Duration = b.clock.Now().Sub(start)

	if len(result.Actions) > 0 {
		records := make([]domain.RebalanceActionRecord, 0, len(result.Actions))
		for _, action := range result.Actions {
			records = append(records, action.Record())
		}
		_, err := b.emitter.EmitBalancer(ctx, &domain.LoadRebalancedPayload{
			Actions:           records,
			MovedClaims:       result.MovedClaims,
			BeforeOverloaded:  result.BeforeOverloaded,
			BeforeUnderloaded: result.BeforeUnderloaded,
			AfterOverloaded:   result.AfterOverloaded,
			AfterUnderloaded:  result.AfterUnderloaded,
		}, "")
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		}
	}

	b.mu.Lock()
	b.lastRunAt = b.clock.Now()
	b.hasCooldown = true
	b.mu.Unlock()

	outcome := "success"
	if !result.Success {
		outcome = "failed"
	}
	b.metrics.RebalanceRuns.WithLabelValues(outcome).Inc()
	b.metrics.RebalanceSeconds.Observe(result.Duration.Seconds())
	b.logger.Info("rebalance pass finished",
		"moved", result.MovedClaims, "actions", len(result.Actions),
		"beforeOverloaded", result.BeforeOverloaded, "afterOverloaded", result.AfterOverloaded,
		"duration", result.Duration)
	return result, nil
}

// ResetCooldown clears the cooldown so the next pass runs immediately.
func (b *Balancer) ResetCooldown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasCooldown = false
}

func (b *Balancer) cooldownRemaining(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.cfg.Cooldown - now.Sub(b.lastRunAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining.Round(time.Second)
}

// GiniCoefficient measures claim-count inequality across agents:
// 0 is perfectly even, 1 is one agent holding everything.
func (b *Balancer) GiniCoefficient() float64 {
	agents := b.agents.List()
	counts := make([]float64, 0, len(agents))
	for _, agent := range agents {
		claimant := domain.NewAgent(agent.ID, agent.AgentType)
		counts = append(counts, float64(len(b.registry.ListByClaimant(claimant))))
	}
	if len(counts) < 2 {
		return 0
	}

	sort.Float64s(counts)
	n := float64(len(counts))
	var sumDiffs, sum float64
	for i, a := range counts {
		sum += a
		for j, c := range counts {
			if i != j {
				sumDiffs += math.Abs(a - c)
			}
		}
	}
	if sum == 0 {
		return 0
	}
	return sumDiffs / (2 * n * sum)
}

// availableLoads returns loads for agents that can take part in
// balancing; offline agents are ignored.
func (b *Balancer) availableLoads() []balance.AgentLoad {
	loads := make([]balance.AgentLoad, 0)
	for _, agent := range b.agents.List() {
		if agent.Status == balance.AgentOffline {
			continue
		}
		loads = append(loads, b.loadFor(agent))
	}
	return loads
}

func (b *Balancer) classify() (overloaded, underloaded []balance.AgentLoad) {
	for _, load := range b.availableLoads() {
		switch {
		case load.Status == balance.AgentOverloaded:
			overloaded = append(overloaded, load)
		case load.Status == balance.AgentIdle,
			load.UtilizationPercent < b.cfg.MinUtilizationForRebalance:
			underloaded = append(underloaded, load)
		}
	}
	return overloaded, underloaded
}

// truncate enforces the per-pass action cap. The strategy returns
// actions already prioritized, so the tail is what gets dropped.
func (b *Balancer) truncate(actions []balance.RebalanceAction) []balance.RebalanceAction {
	if limit := b.cfg.MaxActionsPerRebalance; limit > 0 && len(actions) > limit {
		return actions[:limit]
	}
	return actions
}

func (b *Balancer) claimsByAgent(overloaded []balance.AgentLoad) map[string][]*domain.IssueClaim {
	byAgent := make(map[string][]*domain.IssueClaim, len(overloaded))
	for _, load := range overloaded {
		claimant := domain.NewAgent(load.AgentID, load.AgentType)
		byAgent[load.AgentID] = b.registry.ListByClaimant(claimant)
	}
	return byAgent
}
