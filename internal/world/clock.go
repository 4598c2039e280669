// Package world advances simulated time. Each tick decays memories,
// moves faction politics, runs per-agent upkeep at a cadence set by the
// agent's tier, expires stale quests and leaves a summary in the
// world-event ring. Ticks fire manually through [Clock.Tick] or on a
// wall-clock schedule through [Clock.Start].
package world

import (
	"cmp"
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"maps"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/observe"
	"github.com/MrWong99/agentfield/internal/quest"
	"github.com/MrWong99/agentfield/internal/store"
)

const (
	// defaultTickHours is the simulated span of a tick when the caller
	// passes zero.
	defaultTickHours = 1.0

	// goalProgressPerHour is the autonomous progress an agent's top
	// goal gains per simulated hour of active or nearby presence.
	goalProgressPerHour = 0.01

	// gossipBase scales sociability into a per-tick gossip chance.
	gossipBase = 0.05

	// Autorun clamps, matching the limits the original operators ran
	// with: simulated hours per tick and wall seconds between ticks.
	minTimeScale    = 0.1
	maxTimeScale    = 100.0
	minTickInterval = 10 * time.Second
	maxTickInterval = 300 * time.Second

	maxWorkers = 32
)

// WorldTime is the simulation calendar, derived from total elapsed
// simulated hours. Day 1 starts at hour zero.
type WorldTime struct {
	Day        int     `json:"day"`
	Hour       int     `json:"hour"`
	Minute     int     `json:"minute"`
	TotalHours float64 `json:"total_hours"`
}

func timeAt(total float64) WorldTime {
	whole := int(total)
	return WorldTime{
		Day:        whole/24 + 1,
		Hour:       whole % 24,
		Minute:     int(total*60) % 60,
		TotalHours: total,
	}
}

func (t WorldTime) String() string {
	return fmt.Sprintf("day %d, %02d:%02d", t.Day, t.Hour, t.Minute)
}

// TickReport summarizes everything one tick changed.
type TickReport struct {
	Time             WorldTime      `json:"time"`
	Tiers            map[string]int `json:"tiers"`
	AgentsProcessed  int            `json:"agents_processed"`
	Slipped          int            `json:"slipped"`
	GossipExchanges  int            `json:"gossip_exchanges"`
	GoalsCompleted   int            `json:"goals_completed"`
	GoalsAbandoned   int            `json:"goals_abandoned"`
	MemoriesDecayed  int64          `json:"memories_decayed"`
	MemoriesDeleted  int64          `json:"memories_deleted"`
	RumorsDecayed    int64          `json:"rumors_decayed"`
	RelationsDrifted int64          `json:"relations_drifted"`
	BattlesResolved  int            `json:"battles_resolved"`
	TradesExecuted   int            `json:"trades_executed"`
	QuestsExpired    int            `json:"quests_expired"`
}

// Clock owns simulated time. It fans per-agent upkeep out to a bounded
// worker pool and drives the background engines in a fixed order so a
// tick is reproducible from the same state and seed.
type Clock struct {
	store      *store.Store
	registry   *agent.Registry
	memory     *memory.Engine
	factions   *faction.Engine
	quests     *quest.Engine
	proximity  *Proximity
	tiering    *Tiering
	vitals     *store.WriteBehind
	events     *bus.Bus
	metrics    *observe.Metrics
	now        func() int64
	seed       uint64
	workers    int
	budget     int
	gossipProb float64

	// tickMu serializes whole ticks; manual and scheduled ticks never
	// interleave.
	tickMu sync.Mutex

	mu         sync.Mutex
	total      float64
	tickNo     uint64
	lastReport TickReport
	rng        *rand.Rand
	agentRNGs  map[string]*rand.Rand

	cronMu sync.Mutex
	cron   *cronlib.Cron
}

// Option customizes a Clock.
type Option func(*Clock)

// WithFactions wires the faction engine into the tick order.
func WithFactions(f *faction.Engine) Option {
	return func(c *Clock) { c.factions = f }
}

// WithQuests wires the quest engine's expiry sweep into the tick order.
func WithQuests(q *quest.Engine) Option {
	return func(c *Clock) { c.quests = q }
}

// WithProximity attaches the spatial index used for player-zone
// classification and gossip partner picks.
func WithProximity(p *Proximity) Option {
	return func(c *Clock) { c.proximity = p }
}

// WithWriteBehind routes vitals persistence through the write-behind
// instead of synchronous store writes.
func WithWriteBehind(w *store.WriteBehind) Option {
	return func(c *Clock) { c.vitals = w }
}

// WithBus attaches the event bus; without it tick events are store-only.
func WithBus(b *bus.Bus) Option {
	return func(c *Clock) { c.events = b }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Clock) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the unix-seconds wall clock, for tests.
func WithClock(now func() int64) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSeed fixes the master seed behind the tick stream and every
// per-agent stream, making a tick sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Clock) {
		c.seed = seed
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithWorkers bounds the upkeep worker pool. Values below one fall
// back to the default.
func WithWorkers(n int) Option {
	return func(c *Clock) {
		if n > 0 {
			c.workers = min(n, maxWorkers)
		}
	}
}

// WithTickBudget caps how many agents one tick may process. Active and
// nearby agents always run; idle and dormant agents slip to the next
// tick once the budget is spent. Zero means no cap.
func WithTickBudget(n int) Option {
	return func(c *Clock) { c.budget = max(n, 0) }
}

// WithGossipProbability overrides the base per-tick gossip chance.
// The effective chance is still scaled by the agent's sociability.
func WithGossipProbability(p float64) Option {
	return func(c *Clock) {
		if p > 0 {
			c.gossipProb = p
		}
	}
}

// NewClock builds the world clock over a store, an agent registry and
// the memory engine.
func NewClock(st *store.Store, reg *agent.Registry, mem *memory.Engine, opts ...Option) (*Clock, error) {
	if st == nil || reg == nil || mem == nil {
		return nil, fmt.Errorf("world: store, registry and memory engine are required")
	}
	c := &Clock{
		store:      st,
		registry:   reg,
		memory:     mem,
		tiering:    NewTiering(),
		metrics:    observe.DefaultMetrics(),
		now:        func() int64 { return time.Now().Unix() },
		seed:       rand.Uint64(),
		workers:    defaultWorkers(),
		gossipProb: gossipBase,
		agentRNGs:  make(map[string]*rand.Rand),
	}
	c.rng = rand.New(rand.NewPCG(c.seed, c.seed^0x9e3779b97f4a7c15))
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultWorkers() int {
	return min(max(2, runtime.GOMAXPROCS(0)), maxWorkers)
}

// SetConversationCheck installs the group-conversation hook that pins
// participating agents to the active tier.
func (c *Clock) SetConversationCheck(f func(agentID string) bool) {
	c.tiering.SetConversationCheck(f)
}

// Time returns the current simulation calendar.
func (c *Clock) Time() WorldTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return timeAt(c.total)
}

// LastReport returns the most recent tick's summary.
func (c *Clock) LastReport() TickReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	rep := c.lastReport
	rep.Tiers = maps.Clone(rep.Tiers)
	return rep
}

// Tick advances the world by deltaHours simulated hours (1.0 when zero
// or negative) and runs the full pipeline: time, memory decay, faction
// politics, per-agent upkeep, quest expiry, event ring.
func (c *Clock) Tick(ctx context.Context, deltaHours float64) (TickReport, error) {
	if deltaHours <= 0 {
		deltaHours = defaultTickHours
	}
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	start := time.Now()

	c.mu.Lock()
	c.total += deltaHours
	c.tickNo++
	total := c.total
	tickNo := c.tickNo
	c.mu.Unlock()

	rep := TickReport{Time: timeAt(total)}

	sweep, err := c.memory.Sweep(ctx, deltaHours)
	if err != nil {
		return rep, fmt.Errorf("world: decay sweep: %w", err)
	}
	rep.MemoriesDecayed = sweep.MemoriesDecayed
	rep.MemoriesDeleted = sweep.MemoriesDeleted
	rep.RumorsDecayed = sweep.RumorsDecayed
	c.metrics.RecordSweep(ctx, sweep.MemoriesDecayed, sweep.MemoriesDeleted, sweep.RumorsDecayed)

	if c.factions != nil {
		fr, err := c.factions.Tick(ctx, deltaHours)
		if err != nil {
			return rep, fmt.Errorf("world: faction tick: %w", err)
		}
		rep.RelationsDrifted = fr.RelationsDrifted
		rep.BattlesResolved = fr.BattlesResolved
		rep.TradesExecuted = fr.TradesExecuted
	}

	if err := c.runAgents(ctx, &rep, tickNo, total, deltaHours); err != nil {
		return rep, err
	}

	if c.quests != nil {
		expired, err := c.quests.ExpireDue(ctx)
		if err != nil {
			return rep, fmt.Errorf("world: quest expiry: %w", err)
		}
		rep.QuestsExpired = expired
	}

	c.recordTickEvent(ctx, rep)
	c.metrics.RecordTick(ctx, time.Since(start).Seconds())

	c.mu.Lock()
	c.lastReport = rep
	c.mu.Unlock()

	slog.Debug("world: tick complete",
		"time", rep.Time.String(),
		"agents", rep.AgentsProcessed,
		"slipped", rep.Slipped,
		"gossip", rep.GossipExchanges)
	return rep, nil
}

type workItem struct {
	agent *agent.Agent
	state agent.State
	tier  Tier
	hours float64
}

type upkeepResult struct {
	ok        bool
	abandoned int
	completed []store.GoalRecord
}

// runAgents reclassifies every agent, selects the ones due this tick
// and fans their upkeep out to the worker pool. A failing agent is
// logged and skipped; its debt stays owed. Workers only mutate their
// own agent; every effect whose order a reader can observe is staged
// and committed after the pool drains, in work-list order.
func (c *Clock) runAgents(ctx context.Context, rep *TickReport, tickNo uint64, total, deltaHours float64) error {
	agents := c.registry.All()
	slices.SortFunc(agents, func(a, b *agent.Agent) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	now := c.now()
	var playerZones map[string]bool
	if c.proximity != nil {
		playerZones = c.proximity.PlayerZones()
	}

	roster := make(map[string]struct{}, len(agents))
	counts := make(map[Tier]int, len(allTiers))
	var urgent, deferrable []workItem
	for _, a := range agents {
		snap, err := a.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("world: snapshot %s: %w", a.ID(), err)
		}
		roster[snap.ID] = struct{}{}
		tier := c.tiering.Classify(snap, now, playerZones)
		counts[tier]++
		owed, run := c.tiering.due(snap.ID, tier, tickNo, total, deltaHours)
		if !run {
			continue
		}
		item := workItem{agent: a, state: snap, tier: tier, hours: owed}
		if tier == TierActive || tier == TierNearby {
			urgent = append(urgent, item)
		} else {
			deferrable = append(deferrable, item)
		}
	}
	c.tiering.prune(roster)

	rep.Tiers = make(map[string]int, len(allTiers))
	for _, tier := range allTiers {
		rep.Tiers[string(tier)] = counts[tier]
		c.metrics.RecordTierCount(ctx, string(tier), int64(counts[tier]))
	}

	if c.budget > 0 && len(urgent)+len(deferrable) > c.budget {
		remaining := max(c.budget-len(urgent), 0)
		if len(deferrable) > remaining {
			c.mu.Lock()
			c.rng.Shuffle(len(deferrable), func(i, j int) {
				deferrable[i], deferrable[j] = deferrable[j], deferrable[i]
			})
			c.mu.Unlock()
			slipped := deferrable[remaining:]
			deferrable = deferrable[:remaining]
			byTier := make(map[Tier]int64)
			for _, item := range slipped {
				byTier[item.tier]++
				c.tiering.slip(item.state.ID)
			}
			for tier, n := range byTier {
				c.metrics.RecordTierBudgetExceeded(ctx, string(tier), n)
			}
			rep.Slipped = len(slipped)
		}
	}

	work := append(urgent, deferrable...)
	results := make([]upkeepResult, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, item := range work {
		g.Go(func() error {
			res, err := c.upkeep(gctx, item)
			if err != nil {
				slog.Warn("world: agent upkeep failed", "agent_id", item.state.ID, "error", err)
				return nil
			}
			res.ok = true
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Commit phase. World events and gossip writes land here, single
	// threaded in work-list order, so replaying the same seed over the
	// same snapshot logs identical bytes whatever the worker count.
	for i, item := range work {
		res := results[i]
		if !res.ok {
			continue
		}
		c.tiering.ran(item.state.ID, total)
		rep.AgentsProcessed++
		rep.GoalsAbandoned += res.abandoned
		rep.GoalsCompleted += len(res.completed)
		for _, goal := range res.completed {
			c.recordWorldEvent(ctx, "goal_completed", map[string]any{
				"agent_id":    goal.AgentID,
				"goal_id":     goal.ID,
				"description": goal.Description,
			})
		}
		if item.tier == TierActive {
			rep.GossipExchanges += c.maybeGossip(ctx, item.state)
		}
	}
	return nil
}

// upkeep runs one agent's share of the tick: vitals decay for the owed
// hours, and for the cognitive tiers mood relaxation and goal upkeep.
// Completed goals come back staged; the caller records their events.
// Gossip rolls also happen in the caller's commit phase, not here.
func (c *Clock) upkeep(ctx context.Context, item workItem) (upkeepResult, error) {
	var res upkeepResult
	var vitals store.VitalsUpdate
	var changed []store.GoalRecord
	cognitive := item.tier == TierActive || item.tier == TierNearby
	wallNow := c.now()

	err := item.agent.Do(ctx, func(s *agent.State) error {
		s.ApplyVitalDecay(item.hours)
		if cognitive {
			s.Mood.TickDecay()
			for _, g := range s.ActiveGoals() {
				if g.Deadline > 0 && g.Deadline < wallNow {
					if dropped, ok := s.AbandonGoal(g.ID); ok {
						changed = append(changed, dropped.Record(s.ID))
						res.abandoned++
					}
				}
			}
			if goals := s.ActiveGoals(); len(goals) > 0 {
				if g, ok := s.ProgressGoal(goals[0].ID, goalProgressPerHour*item.hours); ok {
					rec := g.Record(s.ID)
					changed = append(changed, rec)
					if g.Status == store.GoalCompleted {
						res.completed = append(res.completed, rec)
					}
				}
			}
		}
		vitals = s.VitalsUpdate()
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("world: upkeep %s: %w", item.state.ID, err)
	}

	if err := c.persistVitals(ctx, vitals); err != nil {
		return res, err
	}
	for _, g := range changed {
		if err := c.store.PutGoal(ctx, g); err != nil {
			return res, fmt.Errorf("world: persist goal %s: %w", g.ID, err)
		}
	}
	return res, nil
}

// maybeGossip rolls the agent's sociability-weighted chance to chat
// with a neighbor and spread rumors. Failures are logged, never fatal.
func (c *Clock) maybeGossip(ctx context.Context, s agent.State) int {
	rng := c.rngFor(s.ID)
	if rng.Float64() >= c.gossipProb*s.Traits[agent.TraitSociability] {
		return 0
	}
	partner := c.gossipPartner(s.ID, rng)
	if partner == "" {
		return 0
	}
	if _, err := c.memory.Gossip(ctx, rng, s.ID, partner, ""); err != nil {
		slog.Warn("world: gossip failed", "from", s.ID, "to", partner, "error", err)
		return 0
	}
	return 1
}

// gossipPartner prefers someone within earshot, then falls back to any
// other registered agent.
func (c *Clock) gossipPartner(agentID string, rng *rand.Rand) string {
	if c.proximity != nil {
		if near := c.proximity.Nearby(agentID, defaultNearbyRadius); len(near) > 0 {
			return near[rng.IntN(len(near))]
		}
	}
	var others []string
	for _, a := range c.registry.All() {
		if id := a.ID(); id != agentID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return ""
	}
	slices.Sort(others)
	return others[rng.IntN(len(others))]
}

// persistVitals hands the update to the write-behind when configured,
// otherwise writes through synchronously.
func (c *Clock) persistVitals(ctx context.Context, u store.VitalsUpdate) error {
	if c.vitals != nil {
		if err := c.vitals.Enqueue(ctx, u); err != nil {
			return fmt.Errorf("world: enqueue vitals %s: %w", u.AgentID, err)
		}
		return nil
	}
	if err := c.store.UpdateAgentVitals(ctx, u); err != nil {
		return fmt.Errorf("world: persist vitals %s: %w", u.AgentID, err)
	}
	return nil
}

// rngFor returns the agent's dedicated random stream, derived from the
// master seed so reruns with the same seed draw the same sequence.
func (c *Clock) rngFor(agentID string) *rand.Rand {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rng, ok := c.agentRNGs[agentID]; ok {
		return rng
	}
	h := fnv.New64a()
	h.Write([]byte(agentID))
	rng := rand.New(rand.NewPCG(c.seed, h.Sum64()))
	c.agentRNGs[agentID] = rng
	return rng
}

// recordTickEvent leaves a summary in the world-event ring when the
// tick changed something beyond routine decay.
func (c *Clock) recordTickEvent(ctx context.Context, rep TickReport) {
	if rep.QuestsExpired == 0 && rep.BattlesResolved == 0 && rep.TradesExecuted == 0 &&
		rep.GossipExchanges == 0 && rep.GoalsCompleted == 0 && rep.GoalsAbandoned == 0 &&
		rep.MemoriesDeleted == 0 {
		return
	}
	c.recordWorldEvent(ctx, "world_tick", map[string]any{
		"time":             rep.Time.String(),
		"agents_processed": rep.AgentsProcessed,
		"gossip_exchanges": rep.GossipExchanges,
		"goals_completed":  rep.GoalsCompleted,
		"memories_deleted": rep.MemoriesDeleted,
		"quests_expired":   rep.QuestsExpired,
		"battles_resolved": rep.BattlesResolved,
		"trades_executed":  rep.TradesExecuted,
	})
}

// recordWorldEvent appends to the world-event ring and broadcasts; log
// only on failure so upkeep never aborts on bookkeeping.
func (c *Clock) recordWorldEvent(ctx context.Context, kind string, payload map[string]any) {
	rec := store.WorldEventRecord{TS: c.now(), Kind: kind, Payload: payload}
	if err := c.store.AppendWorldEvent(ctx, rec); err != nil {
		slog.Warn("world: world event not recorded", "kind", kind, "error", err)
		return
	}
	c.events.Publish(bus.TopicWorldEvent, rec)
}

// Start schedules automatic ticks of timeScale simulated hours every
// tickInterval of wall time. Both are clamped to sane operator ranges.
// Returns an error when autorun is already running.
func (c *Clock) Start(timeScale float64, tickInterval time.Duration) error {
	timeScale = min(max(timeScale, minTimeScale), maxTimeScale)
	if tickInterval < minTickInterval {
		tickInterval = minTickInterval
	}
	if tickInterval > maxTickInterval {
		tickInterval = maxTickInterval
	}

	c.cronMu.Lock()
	defer c.cronMu.Unlock()
	if c.cron != nil {
		return fmt.Errorf("world: autorun already started")
	}
	runner := cronlib.New(cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)))
	_, err := runner.AddFunc(fmt.Sprintf("@every %s", tickInterval), func() {
		if _, err := c.Tick(context.Background(), timeScale); err != nil {
			slog.Error("world: autorun tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("world: schedule autorun: %w", err)
	}
	runner.Start()
	c.cron = runner
	slog.Info("world: autorun started",
		"time_scale", timeScale,
		"tick_interval", tickInterval.String())
	return nil
}

// Stop halts autorun after the in-flight tick finishes. Safe to call
// when autorun never started.
func (c *Clock) Stop() {
	c.cronMu.Lock()
	runner := c.cron
	c.cron = nil
	c.cronMu.Unlock()
	if runner == nil {
		return
	}
	<-runner.Stop().Done()
	slog.Info("world: autorun stopped")
}

// Running reports whether autorun is scheduled.
func (c *Clock) Running() bool {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()
	return c.cron != nil
}
