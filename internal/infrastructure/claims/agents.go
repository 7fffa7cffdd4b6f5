package claims

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/claimflow/claimflow/internal/domain/balance"
	domain "github.com/claimflow/claimflow/internal/domain/claims"
)

// AgentRegistry tracks the agents the balancer can move work between.
type AgentRegistry interface {
	Register(agent *balance.Agent) error
	Get(agentID string) (*balance.Agent, error)
	List() []*balance.Agent
	ListAvailable() []*balance.Agent
	UpdateStatus(agentID string, status balance.AgentStatus) error
	TouchActivity(agentID string, at time.Time) error
	Remove(agentID string) error
	Count() int
}

// InMemoryAgentRegistry is the default AgentRegistry.
type InMemoryAgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*balance.Agent
}

// NewInMemoryAgentRegistry creates an empty registry.
func NewInMemoryAgentRegistry() *InMemoryAgentRegistry {
	return &InMemoryAgentRegistry{
		agents: make(map[string]*balance.Agent),
	}
}

// Register adds or replaces an agent.
func (r *InMemoryAgentRegistry) Register(agent *balance.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent registry: missing agent id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agentCopy := *agent
	r.agents[agent.ID] = &agentCopy
	return nil
}

// Get returns a copy of the agent.
func (r *InMemoryAgentRegistry) Get(agentID string) (*balance.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}

	agentCopy := *agent
	return &agentCopy, nil
}

// List returns all agents ordered by id.
func (r *InMemoryAgentRegistry) List() []*balance.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*balance.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agentCopy := *agent
		result = append(result, &agentCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ListAvailable returns agents that can accept work.
func (r *InMemoryAgentRegistry) ListAvailable() []*balance.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*balance.Agent, 0)
	for _, agent := range r.agents {
		if agent.IsAvailable() {
			agentCopy := *agent
			result = append(result, &agentCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// UpdateStatus sets an agent's status.
func (r *InMemoryAgentRegistry) UpdateStatus(agentID string, status balance.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}
	agent.Status = status
	return nil
}

// TouchActivity records the agent's most recent activity time.
func (r *InMemoryAgentRegistry) TouchActivity(agentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}
	agent.LastActivityAt = at
	return nil
}

// Remove deletes an agent.
func (r *InMemoryAgentRegistry) Remove(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}
	delete(r.agents, agentID)
	return nil
}

// Count returns the number of registered agents.
func (r *InMemoryAgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
