// Package faction runs the background politics of the simulation:
// standings between factions that drift back toward neutrality unless
// refreshed by events, territorial battles that grind on across ticks,
// trade routes that pay out or get raided, and the reputation ripples a
// player's actions send through a faction's enemies.
package faction

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/store"
)

// Diplomatic labels derived from a standing score.
const (
	LabelEnemy    = "enemy"
	LabelHostile  = "hostile"
	LabelNeutral  = "neutral"
	LabelFriendly = "friendly"
	LabelAllied   = "allied"
)

// Event kinds accepted by [Engine.ApplyEvent].
const (
	EventSkirmish       = "skirmish"
	EventBetrayal       = "betrayal"
	EventTradeDeal      = "trade_deal"
	EventAllianceFormed = "alliance_formed"
)

// eventDeltas maps an event kind to the standing shift it applies.
var eventDeltas = map[string]float64{
	EventSkirmish:       -0.15,
	EventBetrayal:       -0.4,
	EventTradeDeal:      0.1,
	EventAllianceFormed: 0.5,
}

const (
	// driftHalfLife is the simulated-hour half-life of an untouched
	// standing; every tick multiplies by 0.5^(Δh/driftHalfLife).
	driftHalfLife = 48.0

	// enemyRipple scales the opposite-sign reputation shift a player
	// picks up with each enemy of the faction they helped or hurt.
	enemyRipple = 0.5
)

// LabelFor maps a standing score in [-1, 1] to its diplomatic label.
func LabelFor(score float64) string {
	switch {
	case score < -0.6:
		return LabelEnemy
	case score < -0.2:
		return LabelHostile
	case score <= 0.2:
		return LabelNeutral
	case score <= 0.6:
		return LabelFriendly
	default:
		return LabelAllied
	}
}

// Update is published on [bus.TopicFactionUpdate] whenever a standing
// between two factions changes through an event.
type Update struct {
	Kind        string  `json:"kind"`
	FactionA    string  `json:"faction_a"`
	FactionB    string  `json:"faction_b"`
	Score       float64 `json:"score"`
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
}

// TerritoryUpdate is published on [bus.TopicTerritoryUpdate] when a
// battle starts or ends.
type TerritoryUpdate struct {
	Territory store.TerritoryRecord `json:"territory"`
	BattleID  string                `json:"battle_id"`
	Status    string                `json:"status"`
}

// Engine owns factions, territories, trade routes and battles. All
// state lives in the store; the engine adds the rules that move it.
type Engine struct {
	store  *store.Store
	events *bus.Bus
	now    func() int64

	mu         sync.Mutex
	rng        *rand.Rand
	lastTickAt int64
	routeHours float64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBus attaches the event bus; without it updates are store-only.
func WithBus(b *bus.Bus) Option {
	return func(e *Engine) { e.events = b }
}

// WithClock overrides the unix-seconds clock, for tests.
func WithClock(now func() int64) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSeed makes every strength draw and trade roll reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewEngine builds the faction engine over a store. Standings touched
// before construction are eligible for drift on the first tick.
func NewEngine(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		now:   func() int64 { return time.Now().Unix() },
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastTickAt = e.now()
	return e
}

// roll draws a uniform float in [0, 1).
func (e *Engine) roll() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

// between draws a uniform float in [lo, hi).
func (e *Engine) between(lo, hi float64) float64 {
	return lo + (hi-lo)*e.roll()
}

// ApplyEvent shifts the standing between two factions by the delta for
// kind and pins the row against drift for one tick. The updated
// standing is broadcast and recorded as a world event.
func (e *Engine) ApplyEvent(ctx context.Context, kind, factionA, factionB, description string) (store.FactionRelationRecord, error) {
	delta, ok := eventDeltas[kind]
	if !ok {
		return store.FactionRelationRecord{}, fmt.Errorf("faction: unknown event kind %q", kind)
	}
	if factionA == factionB {
		return store.FactionRelationRecord{}, fmt.Errorf("faction: event %s needs two distinct factions", kind)
	}

	cur, err := e.store.GetFactionRelation(ctx, factionA, factionB)
	if err != nil {
		return store.FactionRelationRecord{}, fmt.Errorf("faction: apply event: %w", err)
	}
	a, b := store.OrderPair(factionA, factionB)
	rec := store.FactionRelationRecord{
		FactionA:  a,
		FactionB:  b,
		Score:     clamp(cur+delta, -1, 1),
		UpdatedAt: e.now(),
	}
	if err := e.store.PutFactionRelation(ctx, rec); err != nil {
		return store.FactionRelationRecord{}, fmt.Errorf("faction: apply event: %w", err)
	}

	e.recordWorldEvent(ctx, "faction_event", map[string]any{
		"event":       kind,
		"factions":    []string{a, b},
		"score":       rec.Score,
		"description": description,
	})
	e.events.Publish(bus.TopicFactionUpdate, Update{
		Kind:        kind,
		FactionA:    a,
		FactionB:    b,
		Score:       rec.Score,
		Label:       LabelFor(rec.Score),
		Description: description,
	})
	slog.Debug("faction: event applied",
		"kind", kind, "a", a, "b", b, "score", rec.Score)
	return rec, nil
}

// RippleReputation shifts a player's reputation with a faction and
// sends the opposite half-strength shift to each of that faction's
// enemies. A zero delta is a no-op.
func (e *Engine) RippleReputation(ctx context.Context, playerID, factionID string, delta float64) error {
	if delta == 0 {
		return nil
	}
	now := e.now()
	if err := e.shiftReputation(ctx, playerID, factionID, delta, now); err != nil {
		return err
	}

	rels, err := e.store.ListFactionRelations(ctx, factionID)
	if err != nil {
		return fmt.Errorf("faction: ripple: %w", err)
	}
	for _, rel := range rels {
		if LabelFor(rel.Score) != LabelEnemy {
			continue
		}
		other := rel.FactionA
		if other == factionID {
			other = rel.FactionB
		}
		if err := e.shiftReputation(ctx, playerID, other, -enemyRipple*delta, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) shiftReputation(ctx context.Context, playerID, factionID string, delta float64, now int64) error {
	cur, err := e.store.GetReputation(ctx, playerID, factionID)
	if err != nil {
		return fmt.Errorf("faction: reputation %s/%s: %w", playerID, factionID, err)
	}
	err = e.store.PutReputation(ctx, store.ReputationRecord{
		PlayerID:   playerID,
		TargetID:   factionID,
		TargetKind: store.TargetFaction,
		Score:      cur + delta,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("faction: reputation %s/%s: %w", playerID, factionID, err)
	}
	return nil
}

// recordWorldEvent appends to the world-event ring and broadcasts; log
// only on failure so background rules never abort on bookkeeping.
func (e *Engine) recordWorldEvent(ctx context.Context, kind string, payload map[string]any) {
	rec := store.WorldEventRecord{TS: e.now(), Kind: kind, Payload: payload}
	if err := e.store.AppendWorldEvent(ctx, rec); err != nil {
		slog.Warn("faction: world event not recorded", "kind", kind, "error", err)
		return
	}
	e.events.Publish(bus.TopicWorldEvent, rec)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
