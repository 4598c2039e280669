package agent

import (
	"context"
	"sync"
)

// Agent pairs a State with its mailbox. All mutations funnel through
// [Agent.Do], which admits one writer at a time, so State needs no
// internal locking.
type Agent struct {
	id string

	mu    sync.Mutex
	state *State
}

// NewAgent wraps a state in its mailbox.
func NewAgent(st *State) *Agent {
	return &Agent{id: st.ID, state: st}
}

// ID returns the stable agent identifier.
func (a *Agent) ID() string { return a.id }

// Do runs f with exclusive access to the agent's state. The context is
// checked before f runs so callers holding a dead context never mutate.
func (a *Agent) Do(ctx context.Context, f func(*State) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return f(a.state)
}

// Snapshot returns a shallow copy of the state with its own trait map
// and goal slice, safe to read after the mailbox is released.
func (a *Agent) Snapshot(ctx context.Context) (State, error) {
	var snap State
	err := a.Do(ctx, func(s *State) error {
		snap = *s
		snap.Traits = make(map[Trait]float64, len(s.Traits))
		for t, v := range s.Traits {
			snap.Traits[t] = v
		}
		snap.Goals = append([]Goal(nil), s.Goals...)
		return nil
	})
	return snap, err
}

// DoPair runs f with exclusive access to both agents' states. Mailboxes
// lock in ascending id order, so concurrent pairwise operations cannot
// deadlock. The callback receives states in the order the agents were
// passed.
func DoPair(ctx context.Context, a, b *Agent, f func(sa, sb *State) error) error {
	if a == b {
		return a.Do(ctx, func(s *State) error { return f(s, s) })
	}
	first, second := a, b
	if b.id < a.id {
		first, second = b, a
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return f(a.state, b.state)
}
