package pipeline

import (
	"sync"

	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/memory"
)

// Agents holds the configured agents. It can be updated while the pipeline
// runs, e.g. when config.toml changes.
type Agents struct {
	set *memory.AgentSet

	mu   sync.RWMutex
	byID map[string]config.AgentConfig
}

// NewAgents returns a registry seeded with cfgs.
func NewAgents(cfgs []config.AgentConfig) *Agents {
	a := &Agents{
		set:  memory.NewAgentSet(),
		byID: make(map[string]config.AgentConfig),
	}
	a.Update(cfgs)
	return a
}

// Update replaces the per-agent settings. Agents are never removed from the
// set of known agents: their summaries still need rolling up.
func (a *Agents) Update(cfgs []config.AgentConfig) {
	byID := make(map[string]config.AgentConfig, len(cfgs))
	for _, c := range cfgs {
		byID[c.ID] = c
		a.set.Add(c.ID)
	}

	a.mu.Lock()
	a.byID = byID
	a.mu.Unlock()
}

// Set returns the set of known agent ids.
func (a *Agents) Set() *memory.AgentSet {
	return a.set
}

// ReflectorFor returns the reflector agent id configured for agentID, or
// agentID itself.
func (a *Agents) ReflectorFor(agentID string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if c, ok := a.byID[agentID]; ok && c.ReflectorAgentID != "" {
		return c.ReflectorAgentID
	}
	return agentID
}

// PersistentContext returns the fixed context entries of agentID.
func (a *Agents) PersistentContext(agentID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.byID[agentID].PersistentContext
}

// InsightsFor returns the reflector agent id that reviews agentID's
// insights, falling back to its reflector.
func (a *Agents) InsightsFor(agentID string) string {
	a.mu.RLock()
	c, ok := a.byID[agentID]
	a.mu.RUnlock()

	if ok && c.InsightsAgentID != "" {
		return c.InsightsAgentID
	}
	return a.ReflectorFor(agentID)
}
