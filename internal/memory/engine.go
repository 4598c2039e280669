// Package memory is the remembering half of the simulation: it turns
// utterances into durable topic memories, decays them over simulated
// time, reinforces them on recall and moves hearsay between agents as
// gossip and rumors.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/agentfield/internal/cache"
	"github.com/MrWong99/agentfield/internal/store"
)

const (
	// DefaultDecayRate is λ in s·exp(−λ·Δh·(1−w)), per simulated hour.
	// A plain memory halves in roughly 35 simulated hours; an emotional
	// one (w 0.9) holds for two weeks.
	DefaultDecayRate = 0.02

	// ReinforceAlpha is α in s ← min(1, s + α·(1−s)).
	ReinforceAlpha = 0.1

	// Gossip moves at most this many memories per exchange and
	// attenuates the copy to trust·0.7 of the original strength.
	shareLimit    = 3
	shareTransfer = 0.7

	// Rumor spread chance per known rumor during one casual exchange.
	rumorSpreadChance = 0.7
)

// Engine coordinates everything memory-shaped on top of the store.
// Reads that feed prompts reinforce; plain reads do not.
type Engine struct {
	store     *store.Store
	cache     *cache.Cache
	decayRate float64
	now       func() int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDecayRate overrides λ. Values ≤ 0 are ignored.
func WithDecayRate(lambda float64) Option {
	return func(e *Engine) {
		if lambda > 0 {
			e.decayRate = lambda
		}
	}
}

// WithClock overrides the unix-seconds clock, for tests.
func WithClock(now func() int64) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds the memory engine over a store and shared cache.
func NewEngine(st *store.Store, c *cache.Cache, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		cache:     c,
		decayRate: DefaultDecayRate,
		now:       func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Remember inserts the extracted topics as fresh memories for owner
// about subject, strength 1.0. Exact repeats of content the owner
// already holds firsthand are skipped. Returns the inserted records.
func (e *Engine) Remember(ctx context.Context, owner, subject string, topics []Topic) ([]store.MemoryRecord, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	now := e.now()
	var inserted []store.MemoryRecord
	for _, topic := range topics {
		known, err := e.store.HasMemory(ctx, owner, "", topic.Content)
		if err != nil {
			return inserted, fmt.Errorf("memory: remember: %w", err)
		}
		if known {
			continue
		}
		rec := store.MemoryRecord{
			ID:               uuid.NewString(),
			OwnerAgent:       owner,
			SubjectID:        subject,
			Category:         topic.Category,
			Content:          topic.Content,
			Strength:         1.0,
			EmotionalWeight:  topic.Weight,
			CreatedAt:        now,
			LastReferencedAt: now,
		}
		if err := e.store.InsertMemory(ctx, rec); err != nil {
			return inserted, fmt.Errorf("memory: remember: %w", err)
		}
		inserted = append(inserted, rec)
	}
	if len(inserted) > 0 {
		e.cache.InvalidatePrefix("agent:" + owner)
	}
	return inserted, nil
}

// Recall returns the owner's visible memories about subject, ranked by
// strength·(1 + 0.5·emotionalWeight), capped at limit (default 8).
// This is the plain read path: cached, no reinforcement. Callers must
// not mutate the returned slice.
func (e *Engine) Recall(ctx context.Context, owner, subject string, limit int) ([]store.MemoryRecord, error) {
	key := fmt.Sprintf("agent:%s:mem:%s:%d", owner, subject, limit)
	if v, ok := e.cache.Get(key); ok {
		return v.([]store.MemoryRecord), nil
	}
	out, err := e.store.QueryMemories(ctx, store.MemoryQuery{
		Owner: owner, Subject: subject, Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}
	e.cache.Put(key, out)
	return out, nil
}

// RecallForPrompt is the prompt-assembly read: it bypasses the cache,
// reinforces every returned memory (α 0.1) and stamps the reference.
// Returned strengths are the pre-reinforcement values.
func (e *Engine) RecallForPrompt(ctx context.Context, owner, subject string, limit int) ([]store.MemoryRecord, error) {
	out, err := e.store.QueryMemories(ctx, store.MemoryQuery{
		Owner: owner, Subject: subject, Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: recall for prompt: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	ids := make([]string, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	if err := e.store.ReinforceMemories(ctx, ids, ReinforceAlpha, e.now()); err != nil {
		return nil, fmt.Errorf("memory: recall for prompt: %w", err)
	}
	e.cache.InvalidatePrefix("agent:" + owner)
	return out, nil
}

// Reinforce strengthens the given memories without reading them, for
// frames that cite memories by id.
func (e *Engine) Reinforce(ctx context.Context, owner string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.store.ReinforceMemories(ctx, ids, ReinforceAlpha, e.now()); err != nil {
		return fmt.Errorf("memory: reinforce: %w", err)
	}
	e.cache.InvalidatePrefix("agent:" + owner)
	return nil
}

// SweepResult summarizes one decay sweep.
type SweepResult struct {
	MemoriesDecayed int64
	MemoriesDeleted int64
	RumorsDecayed   int64
}

// Sweep ages every memory and rumor by deltaHours in single bulk
// statements and deletes what fell below the floor. Called once per
// world tick.
func (e *Engine) Sweep(ctx context.Context, deltaHours float64) (SweepResult, error) {
	var res SweepResult
	var err error
	if res.MemoriesDecayed, err = e.store.DecayMemories(ctx, e.decayRate, deltaHours); err != nil {
		return res, fmt.Errorf("memory: sweep: %w", err)
	}
	if res.MemoriesDeleted, err = e.store.DeleteBelow(ctx, store.MemoryDeleteBelow); err != nil {
		return res, fmt.Errorf("memory: sweep: %w", err)
	}
	if res.RumorsDecayed, err = e.store.DecayRumors(ctx, e.decayRate, deltaHours); err != nil {
		return res, fmt.Errorf("memory: sweep: %w", err)
	}
	// Strengths moved under every cached list; drop them all.
	e.cache.InvalidatePrefix("agent:")
	slog.Debug("memory: decay sweep",
		"delta_hours", deltaHours,
		"decayed", res.MemoriesDecayed,
		"deleted", res.MemoriesDeleted,
		"rumors", res.RumorsDecayed)
	return res, nil
}

// Share gossips the teller's strongest firsthand memories about subject
// to a listener. Copies land secondhand: strength orig·trust·0.7,
// source set to the teller, deduped on (owner, source, content), never
// re-shared onward. Listeners that do not trust the teller (trust ≤ 0)
// hear nothing. Sharing nudges the pair closer. Returns how many
// memories transferred.
func (e *Engine) Share(ctx context.Context, from, to, subject string) (int, error) {
	if from == to {
		return 0, nil
	}
	trust := e.trust(ctx, to, from)
	if trust <= 0 {
		return 0, nil
	}
	mems, err := e.store.QueryMemories(ctx, store.MemoryQuery{
		Owner: from, Subject: subject, Limit: shareLimit * 2,
	})
	if err != nil {
		return 0, fmt.Errorf("memory: share: %w", err)
	}

	now := e.now()
	shared := 0
	for _, m := range mems {
		if shared >= shareLimit {
			break
		}
		if m.Secondhand() {
			continue
		}
		known, err := e.store.HasMemory(ctx, to, from, m.Content)
		if err != nil {
			return shared, fmt.Errorf("memory: share: %w", err)
		}
		if known {
			continue
		}
		strength := m.Strength * trust * shareTransfer
		if strength < store.MemoryDeleteBelow {
			continue
		}
		copyRec := store.MemoryRecord{
			ID:               uuid.NewString(),
			OwnerAgent:       to,
			SubjectID:        m.SubjectID,
			Category:         m.Category,
			Content:          m.Content,
			Strength:         strength,
			EmotionalWeight:  m.EmotionalWeight,
			Source:           from,
			CreatedAt:        now,
			LastReferencedAt: now,
		}
		if err := e.store.InsertMemory(ctx, copyRec); err != nil {
			return shared, fmt.Errorf("memory: share: %w", err)
		}
		shared++
	}
	if shared > 0 {
		e.cache.InvalidatePrefix("agent:" + to)
		if err := e.strengthenRelation(ctx, from, to, 0.03*float64(shared), now); err != nil {
			return shared, err
		}
		slog.Debug("memory: gossip shared", "from", from, "to", to, "subject", subject, "count", shared)
	}
	return shared, nil
}

// CreateRumor starts a rumor and marks the creator as believing it
// fully.
func (e *Engine) CreateRumor(ctx context.Context, about, createdBy, content string, strength float64) (store.RumorRecord, error) {
	rec := store.RumorRecord{
		ID:        uuid.NewString(),
		About:     about,
		Content:   content,
		CreatedBy: createdBy,
		Strength:  strength,
		CreatedAt: e.now(),
	}
	if err := e.store.InsertRumor(ctx, rec); err != nil {
		return store.RumorRecord{}, fmt.Errorf("memory: create rumor: %w", err)
	}
	return rec, nil
}

// SpreadRumor records the listener hearing a rumor from the teller.
// Belief scales with the listener's trust toward the teller, 0.5 when
// they are strangers; re-hearing keeps the first impression.
func (e *Engine) SpreadRumor(ctx context.Context, rumorID, from, to string) error {
	belief := clamp01(0.5 + 0.4*e.trust(ctx, to, from))
	err := e.store.AddRumorHearing(ctx, store.RumorHearing{
		RumorID: rumorID, AgentID: to, HeardFrom: from,
		Belief: belief, HeardAt: e.now(),
	})
	if err != nil {
		return fmt.Errorf("memory: spread rumor: %w", err)
	}
	return nil
}

// RumorsAbout lists the rumors an agent has heard about a subject,
// strongest first.
func (e *Engine) RumorsAbout(ctx context.Context, subject, agentID string, limit int) ([]store.RumorRecord, error) {
	if limit <= 0 {
		limit = shareLimit
	}
	heard, err := e.store.RumorsHeardBy(ctx, agentID, 50)
	if err != nil {
		return nil, fmt.Errorf("memory: rumors about: %w", err)
	}
	var out []store.RumorRecord
	for _, r := range heard {
		if r.About != subject {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GossipResult summarizes one casual exchange between two agents.
type GossipResult struct {
	RumorsSpread   int
	MemoriesShared int
}

// Gossip runs one casual exchange: the teller passes along its
// strongest known rumors (70% chance each) and, when a subject is
// given, shares memories about that subject. The pair grows slightly
// closer.
func (e *Engine) Gossip(ctx context.Context, rng *rand.Rand, from, to, subject string) (GossipResult, error) {
	var res GossipResult
	if from == to {
		return res, nil
	}
	rumors, err := e.store.RumorsHeardBy(ctx, from, shareLimit)
	if err != nil {
		return res, fmt.Errorf("memory: gossip: %w", err)
	}
	for _, r := range rumors {
		if rng.Float64() >= rumorSpreadChance {
			continue
		}
		if err := e.SpreadRumor(ctx, r.ID, from, to); err != nil {
			return res, err
		}
		res.RumorsSpread++
	}
	if subject != "" {
		if res.MemoriesShared, err = e.Share(ctx, from, to, subject); err != nil {
			return res, err
		}
	}
	if res.RumorsSpread > 0 {
		if err := e.strengthenRelation(ctx, from, to, 0.05, e.now()); err != nil {
			return res, err
		}
	}
	return res, nil
}

// trust reads who's directed trust toward the other, 0 for strangers.
func (e *Engine) trust(ctx context.Context, who, toward string) float64 {
	rel, err := e.store.GetRelation(ctx, who, toward)
	if err != nil {
		return 0
	}
	return rel.Trust(who)
}

// strengthenRelation bumps familiarity and both trust directions,
// creating the relation row for first contact.
func (e *Engine) strengthenRelation(ctx context.Context, a, b string, delta float64, now int64) error {
	rel, err := e.store.GetRelation(ctx, a, b)
	if errors.Is(err, store.ErrNotFound) {
		rel.AgentA, rel.AgentB = store.OrderPair(a, b)
	} else if err != nil {
		return fmt.Errorf("memory: strengthen relation: %w", err)
	}
	rel.Familiarity = clamp01(rel.Familiarity + delta)
	rel.TrustAB = clampSigned(rel.TrustAB + delta)
	rel.TrustBA = clampSigned(rel.TrustBA + delta)
	rel.LastInteractionAt = now
	if err := e.store.PutRelation(ctx, rel); err != nil {
		return fmt.Errorf("memory: strengthen relation: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
