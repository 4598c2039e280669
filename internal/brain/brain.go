// Package brain runs the perceive-think-act loop for a single agent:
// concurrent context assembly, one Oracle cognition pass, survival
// overrides, then the ordered effects that commit the outcome to agent
// state and the store.
//
// Interactions with the same agent serialize on a per-agent lock held
// across the whole pipeline, but the agent mailbox itself is taken only
// while state actually changes, so world ticks never stall behind a
// provider call.
package brain

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/store"
)

const (
	// Context assembly bounds.
	promptMemoryLimit = 8
	promptRumorLimit  = 3
	promptGoalLimit   = 3

	// factionRippleShare of the trust delta carries over to the
	// player's standing with the agent's faction.
	factionRippleShare = 0.25

	// urgencyEventThreshold emits a world event; urgencyDriftThreshold
	// nudges a personality trait.
	urgencyEventThreshold = 0.85
	urgencyDriftThreshold = 0.7

	// traitInertia damps event-driven trait drift.
	traitInertia = 0.95

	// rumorChance is the odds a committed interaction spawns a rumor
	// about the player.
	rumorChance = 0.3
)

// Brain coordinates one interaction end to end. It owns no state of
// its own beyond per-agent locks and random streams.
type Brain struct {
	store    *store.Store
	memory   *memory.Engine
	oracle   *oracle.Oracle
	factions *faction.Engine
	vitals   *store.WriteBehind
	events   *bus.Bus
	now      func() int64
	seed     uint64

	mu    sync.Mutex
	rngs  map[string]*rand.Rand
	locks map[string]*sync.Mutex
}

// Option customizes a Brain.
type Option func(*Brain)

// WithFactions attaches the faction engine for reputation ripples.
// Without it trust deltas stop at the agent.
func WithFactions(f *faction.Engine) Option {
	return func(b *Brain) { b.factions = f }
}

// WithWriteBehind routes vitals persistence through the coalescing
// writer instead of direct updates.
func WithWriteBehind(w *store.WriteBehind) Option {
	return func(b *Brain) { b.vitals = w }
}

// WithBus attaches the event bus for urgent world events.
func WithBus(eventBus *bus.Bus) Option {
	return func(b *Brain) { b.events = eventBus }
}

// WithClock overrides the unix-seconds clock, for tests.
func WithClock(now func() int64) Option {
	return func(b *Brain) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSeed fixes the master seed behind the per-agent random streams.
func WithSeed(seed uint64) Option {
	return func(b *Brain) { b.seed = seed }
}

// New builds a Brain over its three required collaborators.
func New(st *store.Store, mem *memory.Engine, orc *oracle.Oracle, opts ...Option) (*Brain, error) {
	if st == nil || mem == nil || orc == nil {
		return nil, errors.New("brain: store, memory engine and oracle are all required")
	}
	b := &Brain{
		store:  st,
		memory: mem,
		oracle: orc,
		now:    func() int64 { return time.Now().Unix() },
		seed:   rand.Uint64(),
		rngs:   make(map[string]*rand.Rand),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Result is one committed interaction: the acted-on frame plus the
// state it left behind.
type Result struct {
	Frame   oracle.CognitiveFrame
	Outcome oracle.Outcome

	// Reason explains a fallback outcome; empty otherwise.
	Reason string

	// Overridden reports that a survival override replaced the model's
	// intent.
	Overridden bool

	// Mood is the agent's mood after the frame applied.
	Mood agent.Mood

	// Reputation is the player's standing with this agent after the
	// trust delta.
	Reputation float64

	// MemoriesAdded counts new memories inserted from this exchange.
	MemoriesAdded int

	// RumorStarted reports that this exchange spawned a rumor about
	// the player.
	RumorStarted bool
}

// Process runs one full interaction with an agent. The returned error
// is non-nil only for store failures or a dead context; provider
// trouble surfaces as a fallback frame that still commits.
func (b *Brain) Process(ctx context.Context, a *agent.Agent, playerID, playerName, utterance string) (Result, error) {
	lock := b.interactionLock(a.ID())
	lock.Lock()
	defer lock.Unlock()

	pc, err := b.assemble(ctx, a, playerID, playerName, utterance)
	if err != nil {
		return Result{}, err
	}

	res, err := b.oracle.Cognize(ctx, oracle.CognizeRequest{
		AgentID:   a.ID(),
		System:    systemPrompt(pc),
		Prompt:    situationPrompt(pc),
		MoodLabel: string(pc.state.Mood.Label),
	})
	if err != nil {
		return Result{}, fmt.Errorf("brain: cognize %s: %w", a.ID(), err)
	}

	frame := res.Frame
	overridden := applyOverrides(&frame, &pc.state)

	out := Result{
		Frame:      frame,
		Outcome:    res.Outcome,
		Reason:     res.Reason,
		Overridden: overridden,
	}
	if err := b.commit(ctx, a, &pc, &out); err != nil {
		return out, err
	}

	slog.Debug("brain: interaction committed",
		"agent", a.ID(), "player", playerID,
		"intent", out.Frame.Intent, "outcome", out.Outcome.String(),
		"overridden", overridden)
	return out, nil
}

// commit applies the frame's effects in their fixed order: mood shift,
// new memories, reputation, faction ripple, urgent world event, trait
// drift, rumor roll. Cited memories were already reinforced when the
// prompt recalled them.
func (b *Brain) commit(ctx context.Context, a *agent.Agent, pc *promptContext, out *Result) error {
	frame := out.Frame
	now := b.now()

	var vitals store.VitalsUpdate
	err := a.Do(ctx, func(s *agent.State) error {
		s.ApplyAction(frame.MoodShift.Arousal, frame.MoodShift.Valence)
		s.Touch(now)
		out.Mood = s.Mood
		vitals = s.VitalsUpdate()
		return nil
	})
	if err != nil {
		return fmt.Errorf("brain: apply frame %s: %w", a.ID(), err)
	}
	if err := b.persistVitals(ctx, vitals); err != nil {
		return err
	}

	if out.Outcome == oracle.OutcomeOk {
		topics := topicsFromFrame(frame, pc.utterance)
		added, err := b.memory.Remember(ctx, a.ID(), pc.playerID, topics)
		if err != nil {
			return err
		}
		out.MemoriesAdded = len(added)
	}

	out.Reputation = pc.reputation
	if frame.TrustDelta != 0 {
		next := clampAbs(pc.reputation+frame.TrustDelta, 1)
		err := b.store.PutReputation(ctx, store.ReputationRecord{
			PlayerID:   pc.playerID,
			TargetID:   a.ID(),
			TargetKind: store.TargetAgent,
			Score:      next,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("brain: reputation %s/%s: %w", pc.playerID, a.ID(), err)
		}
		out.Reputation = next

		if b.factions != nil && pc.state.FactionID != "" {
			err := b.factions.RippleReputation(ctx, pc.playerID, pc.state.FactionID, factionRippleShare*frame.TrustDelta)
			if err != nil {
				return err
			}
		}
	}

	if frame.Urgency >= urgencyEventThreshold {
		rec := store.WorldEventRecord{
			TS:   now,
			Kind: "urgent_interaction",
			Payload: map[string]any{
				"agent_id":  a.ID(),
				"player_id": pc.playerID,
				"intent":    string(frame.Intent),
				"urgency":   frame.Urgency,
				"dialogue":  frame.Dialogue,
			},
		}
		if err := b.store.AppendWorldEvent(ctx, rec); err != nil {
			slog.Warn("brain: urgent event not recorded", "agent", a.ID(), "error", err)
		} else {
			b.events.Publish(bus.TopicWorldEvent, rec)
		}
	}

	if out.Outcome == oracle.OutcomeOk && frame.Urgency > urgencyDriftThreshold {
		if err := b.driftTrait(ctx, a, frame.Intent, now); err != nil {
			return err
		}
	}

	if out.Outcome == oracle.OutcomeOk {
		started, err := b.rollRumor(ctx, a.ID(), pc, frame.TrustDelta)
		if err != nil {
			return err
		}
		out.RumorStarted = started
	}
	return nil
}

// driftTrait nudges the intent-matched trait through the soft-clamp and
// persists both the new trait map and the delta-log entry.
func (b *Brain) driftTrait(ctx context.Context, a *agent.Agent, intent oracle.Intent, now int64) error {
	trait, delta := driftFor(intent)
	if trait == "" {
		return nil
	}

	var deltaRec store.TraitDeltaRecord
	var rec store.AgentRecord
	err := a.Do(ctx, func(s *agent.State) error {
		dr, err := s.ApplyTraitDelta(trait, delta, "event impact", now)
		if err != nil {
			return err
		}
		deltaRec = dr
		rec = s.Record()
		return nil
	})
	if err != nil {
		return fmt.Errorf("brain: trait drift %s: %w", a.ID(), err)
	}
	if err := b.store.AppendTraitDelta(ctx, deltaRec); err != nil {
		return fmt.Errorf("brain: trait drift %s: %w", a.ID(), err)
	}
	if err := b.store.PutAgent(ctx, rec); err != nil {
		return fmt.Errorf("brain: trait drift %s: %w", a.ID(), err)
	}
	return nil
}

// rollRumor gives each committed exchange a chance to start a rumor
// about the player, colored by how the exchange went.
func (b *Brain) rollRumor(ctx context.Context, agentID string, pc *promptContext, sentiment float64) (bool, error) {
	rng := b.rngFor(agentID)
	if rng.Float64() >= rumorChance {
		return false, nil
	}
	about := pc.playerName
	if about == "" {
		about = pc.playerID
	}
	content := memory.RumorContent(rng, about, sentiment)
	strength := 0.7 + 0.3*rng.Float64()
	if _, err := b.memory.CreateRumor(ctx, pc.playerID, agentID, content, strength); err != nil {
		return false, err
	}
	slog.Debug("brain: rumor started", "agent", agentID, "about", pc.playerID)
	return true, nil
}

// persistVitals hands the update to the write-behind when configured,
// else writes through directly.
func (b *Brain) persistVitals(ctx context.Context, u store.VitalsUpdate) error {
	if b.vitals != nil {
		if err := b.vitals.Enqueue(ctx, u); err != nil {
			return fmt.Errorf("brain: enqueue vitals %s: %w", u.AgentID, err)
		}
		return nil
	}
	if err := b.store.UpdateAgentVitals(ctx, u); err != nil {
		return fmt.Errorf("brain: persist vitals %s: %w", u.AgentID, err)
	}
	return nil
}

// interactionLock returns the lock serializing interactions with one
// agent, creating it on first use.
func (b *Brain) interactionLock(agentID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[agentID] = lock
	}
	return lock
}

// rngFor returns the agent's personal random stream, derived from the
// master seed and the agent id so identical seeds replay identically.
func (b *Brain) rngFor(agentID string) *rand.Rand {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rngs[agentID]; ok {
		return r
	}
	h := fnv.New64a()
	h.Write([]byte(agentID))
	r := rand.New(rand.NewPCG(b.seed, h.Sum64()))
	b.rngs[agentID] = r
	return r
}

// topicsFromFrame converts the model's extracted topics into memory
// topics, borrowing the keyword extractor's category when it recognizes
// one. A frame without topics falls back to scanning the utterance.
func topicsFromFrame(frame oracle.CognitiveFrame, utterance string) []memory.Topic {
	if len(frame.Topics) == 0 {
		return memory.ExtractTopics(utterance)
	}
	out := make([]memory.Topic, 0, len(frame.Topics))
	for _, raw := range frame.Topics {
		topic := memory.Topic{
			Category: memory.CategoryEvent,
			Content:  raw,
			Weight:   frame.EmotionalWeight,
		}
		if cands := memory.ExtractTopics(raw); len(cands) > 0 {
			topic.Category = cands[0].Category
		}
		out = append(out, topic)
	}
	return out
}

func clampAbs(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
