package memory

import (
	"slices"
	"sync"
)

// AgentSet is a concurrency-safe set of agent ids. Periodic jobs iterate the
// set to know which agents to process; all per-agent state lives elsewhere.
type AgentSet struct {
	mu     sync.RWMutex
	agents map[string]struct{}
}

// NewAgentSet returns a set seeded with the given agent ids.
func NewAgentSet(ids ...string) *AgentSet {
	s := &AgentSet{agents: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts an agent id. Empty ids are ignored.
func (s *AgentSet) Add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.agents[id] = struct{}{}
	s.mu.Unlock()
}

// List returns the agent ids in sorted order.
func (s *AgentSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
