// Package quest turns what agents remember about players into favors
// they ask of them. Quests generate from memory, age out on the world
// clock, and pay reputation back to the giver when completed.
package quest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/store"
)

// Quest types, matched to the memory categories that inspire them.
const (
	TypeFetch       = "fetch"
	TypeProtect     = "protect"
	TypeInvestigate = "investigate"
	TypeRevenge     = "revenge"
	TypeTrade       = "trade"
	TypeRescue      = "rescue"
)

const (
	// Expiry window in simulated hours.
	expiryMinHours = 24
	expiryMaxHours = 72

	// generateMemoryLimit bounds how many memories shape one quest.
	generateMemoryLimit = 10

	// completeReputationFallback applies when a quest carries no
	// explicit reputation reward.
	completeReputationFallback = 0.1
)

// Update is the bus payload for quest lifecycle changes.
type Update struct {
	ID         string `json:"id"`
	GiverAgent string `json:"giver_agent"`
	PlayerID   string `json:"player_id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     string `json:"status"`
}

// Engine owns quest generation and lifecycle.
type Engine struct {
	store  *store.Store
	events *bus.Bus
	now    func() int64

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBus attaches the event bus for quest updates.
func WithBus(eventBus *bus.Bus) Option {
	return func(e *Engine) { e.events = eventBus }
}

// WithClock overrides the unix-seconds clock, for tests.
func WithClock(now func() int64) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSeed fixes the random stream so generation is reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// NewEngine builds a quest engine over the store.
func NewEngine(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		now:   func() int64 { return time.Now().Unix() },
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate builds a quest from the giver's strongest memories about the
// player. Memory categories steer the quest type, average memory
// strength sets the difficulty, and the deadline lands 24-72 simulated
// hours out.
func (e *Engine) Generate(ctx context.Context, giverID, playerID string) (store.QuestRecord, error) {
	if _, err := e.store.GetAgent(ctx, giverID); err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: giver: %w", err)
	}
	memories, err := e.store.QueryMemories(ctx, store.MemoryQuery{
		Owner: giverID, Subject: playerID, Limit: generateMemoryLimit,
	})
	if err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: generate: %w", err)
	}

	e.mu.Lock()
	questType := typeFor(memories, e.rng)
	title, description := render(e.rng, questType, memories)
	lifetime := expiryMinHours + e.rng.IntN(expiryMaxHours-expiryMinHours+1)
	e.mu.Unlock()

	difficulty := difficultyFor(memories)
	now := e.now()
	rec := store.QuestRecord{
		ID:          uuid.NewString(),
		GiverAgent:  giverID,
		PlayerID:    playerID,
		Type:        questType,
		Title:       title,
		Description: description,
		Difficulty:  difficulty,
		Rewards:     rewardsFor(difficulty),
		Status:      store.QuestAvailable,
		CreatedAt:   now,
		ExpiresAt:   now + int64(lifetime)*3600,
	}
	if err := e.store.PutQuest(ctx, rec); err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: generate: %w", err)
	}

	e.recordWorldEvent(ctx, "quest_posted", map[string]any{
		"quest_id": rec.ID, "giver": giverID, "player": playerID,
		"type": questType, "title": title,
	})
	e.publish(rec)
	slog.Info("quest: posted", "quest", rec.ID, "giver", giverID, "type", questType, "difficulty", difficulty)
	return rec, nil
}

// Accept moves an available quest to accepted.
func (e *Engine) Accept(ctx context.Context, id string) (store.QuestRecord, error) {
	rec, err := e.store.GetQuest(ctx, id)
	if err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: accept: %w", err)
	}
	if rec.Status != store.QuestAvailable {
		return store.QuestRecord{}, fmt.Errorf("quest: %s is %s, not available", id, rec.Status)
	}
	rec.Status = store.QuestAccepted
	if err := e.store.PutQuest(ctx, rec); err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: accept: %w", err)
	}
	e.publish(rec)
	return rec, nil
}

// Complete finishes an accepted quest and pays the reputation reward
// toward the giver.
func (e *Engine) Complete(ctx context.Context, id string) (store.QuestRecord, error) {
	rec, err := e.store.GetQuest(ctx, id)
	if err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: complete: %w", err)
	}
	if rec.Status != store.QuestAccepted {
		return store.QuestRecord{}, fmt.Errorf("quest: %s is %s, not accepted", id, rec.Status)
	}
	rec.Status = store.QuestCompleted
	if err := e.store.PutQuest(ctx, rec); err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: complete: %w", err)
	}

	bump := rec.Rewards["reputation"]
	if bump == 0 {
		bump = completeReputationFallback
	}
	cur, err := e.store.GetReputation(ctx, rec.PlayerID, rec.GiverAgent)
	if err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: complete: %w", err)
	}
	err = e.store.PutReputation(ctx, store.ReputationRecord{
		PlayerID: rec.PlayerID, TargetID: rec.GiverAgent, TargetKind: store.TargetAgent,
		Score: cur + bump, UpdatedAt: e.now(),
	})
	if err != nil {
		return store.QuestRecord{}, fmt.Errorf("quest: complete: %w", err)
	}

	e.recordWorldEvent(ctx, "quest_completed", map[string]any{
		"quest_id": rec.ID, "giver": rec.GiverAgent, "player": rec.PlayerID, "title": rec.Title,
	})
	e.publish(rec)
	slog.Info("quest: completed", "quest", rec.ID, "player", rec.PlayerID, "reputation_bump", bump)
	return rec, nil
}

// ExpireDue flips every overdue quest to expired and announces each
// one. Called once per world tick.
func (e *Engine) ExpireDue(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.store.DueQuests(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("quest: expire: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	if _, err := e.store.ExpireQuests(ctx, now); err != nil {
		return 0, fmt.Errorf("quest: expire: %w", err)
	}
	for _, rec := range due {
		rec.Status = store.QuestExpired
		e.publish(rec)
	}
	slog.Debug("quest: expiry sweep", "expired", len(due))
	return len(due), nil
}

func (e *Engine) publish(rec store.QuestRecord) {
	e.events.Publish(bus.TopicQuestUpdate, Update{
		ID: rec.ID, GiverAgent: rec.GiverAgent, PlayerID: rec.PlayerID,
		Type: rec.Type, Title: rec.Title, Status: rec.Status,
	})
}

func (e *Engine) recordWorldEvent(ctx context.Context, kind string, payload map[string]any) {
	rec := store.WorldEventRecord{TS: e.now(), Kind: kind, Payload: payload}
	if err := e.store.AppendWorldEvent(ctx, rec); err != nil {
		slog.Warn("quest: world event not recorded", "kind", kind, "error", err)
		return
	}
	e.events.Publish(bus.TopicWorldEvent, rec)
}
