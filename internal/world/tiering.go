package world

import (
	"sync"

	"github.com/MrWong99/agentfield/internal/agent"
)

// Tier is the scheduling bucket an agent lands in after
// reclassification. Hotter tiers run more often and do more work.
type Tier string

const (
	// TierActive agents are in a conversation or interacted within the
	// last minute. Processed every tick: vitals, mood, goals, gossip.
	TierActive Tier = "active"
	// TierNearby agents share a zone with at least one player.
	// Processed every 2nd tick: vitals, mood, goals.
	TierNearby Tier = "nearby"
	// TierIdle agents are initialized but quiet. Processed every 8th
	// tick: vitals only.
	TierIdle Tier = "idle"
	// TierDormant agents saw no activity for over 30 minutes. A vitals
	// heartbeat runs once per accrued simulated hour, no cognition.
	TierDormant Tier = "dormant"
)

// allTiers is the fixed reporting order.
var allTiers = [...]Tier{TierActive, TierNearby, TierIdle, TierDormant}

const (
	activeWindowSecs  = 60
	dormantAfterSecs  = 30 * 60
	nearbyEvery       = 2
	idleEvery         = 8
	dormantEveryHours = 1.0
)

// Tiering classifies agents by interaction recency and player
// proximity, and meters the simulated hours each one owes when it next
// runs. Skipped ticks accumulate as debt so a cold agent catches up on
// decay in one pass instead of losing it.
type Tiering struct {
	mu             sync.Mutex
	inConversation func(agentID string) bool
	lastRun        map[string]float64
	slipped        map[string]struct{}
}

// NewTiering builds an empty classifier.
func NewTiering() *Tiering {
	return &Tiering{
		lastRun: make(map[string]float64),
		slipped: make(map[string]struct{}),
	}
}

// SetConversationCheck installs the hook that pins agents in a live
// group conversation to the active tier.
func (t *Tiering) SetConversationCheck(f func(agentID string) bool) {
	t.mu.Lock()
	t.inConversation = f
	t.mu.Unlock()
}

// Classify places one agent snapshot into its tier. Agents that never
// interacted fall back to their spawn time for recency.
func (t *Tiering) Classify(s agent.State, now int64, playerZones map[string]bool) Tier {
	if t.conversing(s.ID) {
		return TierActive
	}
	ref := s.LastInteractionAt
	if ref == 0 {
		ref = s.CreatedAt
	}
	since := now - ref
	switch {
	case since <= activeWindowSecs:
		return TierActive
	case s.Zone != "" && playerZones[s.Zone]:
		return TierNearby
	case since > dormantAfterSecs:
		return TierDormant
	default:
		return TierIdle
	}
}

func (t *Tiering) conversing(id string) bool {
	t.mu.Lock()
	f := t.inConversation
	t.mu.Unlock()
	return f != nil && f(id)
}

// due reports whether the agent runs this tick and how many simulated
// hours it owes. First sight seeds the debt baseline at one tick. An
// agent that slipped a budgeted tick runs on the next one regardless
// of cadence.
func (t *Tiering) due(id string, tier Tier, tickNo uint64, total, tickHours float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastRun[id]
	if !ok {
		last = total - tickHours
		t.lastRun[id] = last
	}
	owed := total - last
	if _, forced := t.slipped[id]; forced {
		return owed, true
	}
	switch tier {
	case TierActive:
		return owed, true
	case TierNearby:
		return owed, tickNo%nearbyEvery == 0
	case TierIdle:
		return owed, tickNo%idleEvery == 0
	default:
		return owed, owed >= dormantEveryHours-1e-9
	}
}

// slip marks an agent whose turn was cut by the tick budget.
func (t *Tiering) slip(id string) {
	t.mu.Lock()
	t.slipped[id] = struct{}{}
	t.mu.Unlock()
}

// ran settles the agent's debt through the given world time.
func (t *Tiering) ran(id string, total float64) {
	t.mu.Lock()
	t.lastRun[id] = total
	delete(t.slipped, id)
	t.mu.Unlock()
}

// prune drops bookkeeping for agents no longer in the roster.
func (t *Tiering) prune(roster map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.lastRun {
		if _, ok := roster[id]; !ok {
			delete(t.lastRun, id)
			delete(t.slipped, id)
		}
	}
}
