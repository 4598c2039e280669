package agent

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAgentNotFound is returned when a registry lookup misses.
var ErrAgentNotFound = errors.New("agent: not found")

// Registry is the roster of live agents. Lookups are cheap; the
// per-agent mailbox, not the registry lock, serializes state access.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty roster.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Add registers an agent. Re-adding an id replaces the previous entry.
func (r *Registry) Add(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
}

// Remove drops an agent from the roster. Existing references stay
// valid; the mailbox keeps serializing until they drain.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	return a, nil
}

// All returns a snapshot of every live agent. The slice is the
// caller's; ordering is unspecified.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Len returns the roster size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
