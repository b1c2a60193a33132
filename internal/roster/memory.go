package roster

import (
	"context"
	"sort"
	"sync"
)

// MemoryRoster is an in-memory Roster, used by tests and as the fallback
// when no database is configured.
type MemoryRoster struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewMemoryRoster creates a roster seeded with the given agents.
func NewMemoryRoster(agents ...Agent) *MemoryRoster {
	m := &MemoryRoster{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		m.agents[a.ID] = a
	}
	return m
}

// Upsert adds or replaces an agent.
func (m *MemoryRoster) Upsert(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

// ListAgents returns all agents sorted by ID.
func (m *MemoryRoster) ListAgents(_ context.Context) ([]Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAgent returns the agent with the given ID.
func (m *MemoryRoster) GetAgent(_ context.Context, id string) (Agent, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok, nil
}

// SetModel updates the model hint for an agent. Unknown IDs are a no-op.
func (m *MemoryRoster) SetModel(_ context.Context, id, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[id]; ok {
		a.Model = model
		m.agents[id] = a
	}
	return nil
}
