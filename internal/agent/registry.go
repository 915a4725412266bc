package agent

import (
	"context"
	"sync"
	"time"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// sweepInterval mirrors the predecessor's tool-call timeout monitor,
// which polled every 500ms rather than scheduling a per-call timer.
const sweepInterval = 500 * time.Millisecond

// Registry holds every live Agent in one cluster, and runs the
// stale-detection sweep (spec §4.5 "Stale detection", §5 "Timeouts").
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Add registers agent under its definition id.
func (r *Registry) Add(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.def.ID] = a
}

// Remove unsubscribes and drops agentID from the registry.
func (r *Registry) Remove(agentID string) {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	delete(r.agents, agentID)
	r.mu.Unlock()
	if ok {
		a.Close()
	}
}

// Get returns the agent registered under agentID, or nil.
func (r *Registry) Get(agentID string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// GetAgents implements trigger.ClusterInfo: the current agent roster.
func (r *Registry) GetAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) all() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// RunStaleSweep polls every agent for staleness until ctx is canceled.
// A stale agent (executing longer than its staleDuration_ms without
// completing) gets an AGENT_STALE record and its in-flight task
// canceled; the orchestrator is not otherwise involved (spec §4.5
// allows the core itself to perform the cancellation it describes).
func (r *Registry) RunStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Registry) sweepOnce(ctx context.Context) {
	now := time.Now()
	for _, a := range r.all() {
		st := a.State()
		if st.State != domain.AgentStateExecuting {
			continue
		}
		if !st.IsStale(a.def.EffectiveStaleDurationMs(), now) {
			continue
		}
		a.publish(ctx, domain.TopicAgentStale, domain.Content{Text: "agent exceeded staleDuration_ms without completing"}, nil)
		a.Cancel()
	}
}
