// Package app assembles the simulation from its parts: the store, the
// cognition oracle, the engines, the world clock and the HTTP boundary.
// It owns startup order, first-boot world seeding and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/boundary"
	"github.com/MrWong99/agentfield/internal/brain"
	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/cache"
	"github.com/MrWong99/agentfield/internal/config"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/group"
	"github.com/MrWong99/agentfield/internal/health"
	"github.com/MrWong99/agentfield/internal/inspect"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/observe"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/quest"
	"github.com/MrWong99/agentfield/internal/store"
	"github.com/MrWong99/agentfield/internal/world"
	"github.com/MrWong99/agentfield/pkg/provider/llm"
	"github.com/MrWong99/agentfield/pkg/provider/stt"
	"github.com/MrWong99/agentfield/pkg/provider/tts"
)

// bootPageSize bounds one store read while warming the registry.
const bootPageSize = 500

// Providers bundles the oracle backends selected by configuration. LLM
// may be nil: cognition then runs entirely on fallback frames. TTS and
// STT may be nil: the voice endpoints report themselves unconfigured.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
	STT stt.Provider
}

// App is the assembled server. Build one with [New], drive it with
// [App.Run] and release resources with [App.Shutdown].
type App struct {
	cfg *config.Config

	store     *store.Store
	cache     *cache.Cache
	vitals    *store.WriteBehind
	events    *bus.Bus
	registry  *agent.Registry
	memory    *memory.Engine
	oracle    *oracle.Oracle
	brain     *brain.Brain
	factions  *faction.Engine
	quests    *quest.Engine
	proximity *world.Proximity
	clock     *world.Clock
	groups    *group.Orchestrator
	boundary  *boundary.Server

	httpSrv *http.Server
	metrics *observe.Metrics
	now     func() int64

	unregisterCacheStats func() error
	closeOnce            sync.Once
}

// Option customizes an App.
type Option func(*App)

// WithMetrics attaches a metrics set; [observe.DefaultMetrics] otherwise.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithClock overrides the wall-clock source. Tests use this to pin
// timestamps.
func WithClock(now func() int64) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// New wires the full simulation from cfg and the selected providers.
// It opens the store, warms the agent registry from persisted state,
// loads persona definitions from cfg.AgentsDir and applies the
// declarative world seed when the store is empty.
func New(ctx context.Context, cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}

	a := &App{
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
		now:     func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(a)
	}

	seed := uint64(cfg.World.Seed)
	if cfg.World.Seed == 0 {
		seed = rand.Uint64()
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	a.store = st

	a.cache = cache.New(cache.DefaultCapacity, 0)
	a.unregisterCacheStats, err = observe.RegisterCacheStats(otel.GetMeterProvider(), func() (int64, int64) {
		s := a.cache.Stats()
		return s.Hits, s.Misses
	})
	if err != nil {
		slog.Warn("app: cache stats not exported", "error", err)
	}
	a.vitals = store.NewWriteBehind(st, cfg.Store.WriteBehindWindow.Std())
	a.events = bus.New()
	a.registry = agent.NewRegistry()
	a.proximity = world.NewProximity()

	a.memory = memory.NewEngine(st, a.cache, memory.WithClock(a.now))

	llmProvider := providers.LLM
	if llmProvider == nil {
		slog.Warn("app: no llm provider configured, cognition degrades to fallback frames")
		llmProvider = offlineLLM{}
	}
	a.oracle, err = oracle.New(llmProvider, providers.TTS, providers.STT,
		oracle.WithMetrics(a.metrics),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build oracle: %w", err)
	}

	a.factions = faction.NewEngine(st,
		faction.WithBus(a.events),
		faction.WithClock(a.now),
		faction.WithSeed(seed),
	)
	a.quests = quest.NewEngine(st,
		quest.WithBus(a.events),
		quest.WithClock(a.now),
		quest.WithSeed(seed),
	)

	a.brain, err = brain.New(st, a.memory, a.oracle,
		brain.WithFactions(a.factions),
		brain.WithWriteBehind(a.vitals),
		brain.WithBus(a.events),
		brain.WithClock(a.now),
		brain.WithSeed(seed),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build brain: %w", err)
	}

	a.clock, err = world.NewClock(st, a.registry, a.memory,
		world.WithFactions(a.factions),
		world.WithQuests(a.quests),
		world.WithProximity(a.proximity),
		world.WithWriteBehind(a.vitals),
		world.WithBus(a.events),
		world.WithMetrics(a.metrics),
		world.WithClock(a.now),
		world.WithSeed(seed),
		world.WithGossipProbability(cfg.World.GossipProbability),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build world clock: %w", err)
	}

	a.groups, err = group.New(st, a.registry, a.brain, a.oracle, a.memory,
		group.WithProximity(a.proximity),
		group.WithMetrics(a.metrics),
		group.WithClock(a.now),
		group.WithIdleTimeout(cfg.World.GroupIdleTimeout.Std()),
		group.WithNearbyRadius(cfg.World.NearbyRadius),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build group orchestrator: %w", err)
	}
	a.clock.SetConversationCheck(a.groups.InConversation)

	if err := a.boot(ctx); err != nil {
		st.Close()
		return nil, err
	}

	inspector, err := inspect.New(st, a.registry, inspect.WithClock(a.clock))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build inspector: %w", err)
	}

	a.boundary, err = boundary.New(boundary.Deps{
		Store:     st,
		Registry:  a.registry,
		Brain:     a.brain,
		Memory:    a.memory,
		Oracle:    a.oracle,
		Cache:     a.cache,
		Factions:  a.factions,
		Quests:    a.quests,
		Groups:    a.groups,
		Clock:     a.clock,
		Proximity: a.proximity,
		Bus:       a.events,
		Health:    a.healthHandler(),
		Inspect:   inspector.Handler(),
	}, boundary.WithMetrics(a.metrics), boundary.WithClock(a.now), boundary.WithSeed(seed))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build boundary: %w", err)
	}

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.boundary.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Handler exposes the boundary routes. Tests mount this on httptest
// servers instead of binding a socket.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Registry exposes the live agent roster.
func (a *App) Registry() *agent.Registry { return a.registry }

// Clock exposes the world clock.
func (a *App) Clock() *world.Clock { return a.clock }

// Run serves HTTP and the background loops until ctx is cancelled. When
// cfg.World.Autostart is set the clock begins autorun immediately;
// otherwise it waits for POST /world/start.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.World.Autostart {
		err := a.clock.Start(a.cfg.World.TimeScale, a.cfg.World.TickInterval.Std())
		if err != nil {
			return fmt.Errorf("app: autostart world clock: %w", err)
		}
		slog.Info("world clock autorun started",
			"time_scale", a.cfg.World.TimeScale,
			"tick_interval", a.cfg.World.TickInterval.Std(),
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.groups.Run(ctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops the clock, flushes the write-behind queue and closes
// the store. Call after [App.Run] returns; extra calls are no-ops.
func (a *App) Shutdown(_ context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		a.clock.Stop()
		if a.unregisterCacheStats != nil {
			if err := a.unregisterCacheStats(); err != nil {
				slog.Debug("app: cache stats unregister", "error", err)
			}
		}
		if err := a.vitals.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: flush write-behind: %w", err))
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close store: %w", err))
		}
	})
	return errors.Join(errs...)
}

// ─── boot ────────────────────────────────────────────────────────────────────

// boot warms the registry from persisted agents, loads persona
// definitions and applies the declarative world seed on first boot.
func (a *App) boot(ctx context.Context) error {
	if err := a.loadPersistedAgents(ctx); err != nil {
		return err
	}
	if a.cfg.AgentsDir != "" {
		if err := a.loadDefinitions(ctx, a.cfg.AgentsDir); err != nil {
			return err
		}
	}
	if err := a.seedWorld(ctx); err != nil {
		return err
	}
	slog.Info("boot complete", "agents", a.registry.Len())
	return nil
}

func (a *App) loadPersistedAgents(ctx context.Context) error {
	for offset := 0; ; offset += bootPageSize {
		recs, err := a.store.ListAgents(ctx, store.AgentFilter{Limit: bootPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("app: load persisted agents: %w", err)
		}
		for _, rec := range recs {
			state := agent.FromRecord(rec)
			a.registry.Add(agent.NewAgent(state))
			if state.HasPosition {
				a.proximity.UpdateAgent(state.ID, state.Zone, state.X, state.Y, state.Z)
			}
		}
		if len(recs) < bootPageSize {
			return nil
		}
	}
}

func (a *App) loadDefinitions(ctx context.Context, dir string) error {
	defs, err := agent.LoadDefinitions(dir)
	if err != nil {
		return fmt.Errorf("app: load agent definitions: %w", err)
	}
	created := 0
	for _, def := range defs {
		// Persisted state wins over the definition file: a restart must
		// not reset vitals, mood or memories of a known agent.
		if _, err := a.registry.Get(def.ID); err == nil {
			continue
		}
		if _, err := a.store.GetAgent(ctx, def.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("app: check agent %s: %w", def.ID, err)
		}

		state := def.NewState(a.now())
		if err := a.store.PutAgent(ctx, state.Record()); err != nil {
			return fmt.Errorf("app: persist agent %s: %w", def.ID, err)
		}
		a.registry.Add(agent.NewAgent(state))
		if state.HasPosition {
			a.proximity.UpdateAgent(state.ID, state.Zone, state.X, state.Y, state.Z)
		}
		created++
	}
	if len(defs) > 0 {
		slog.Info("agent definitions loaded", "dir", dir, "definitions", len(defs), "created", created)
	}
	return nil
}

// seedWorld applies cfg.World.Factions/Territories/Routes to an empty
// store. A store that already holds factions is left untouched.
func (a *App) seedWorld(ctx context.Context) error {
	existing, err := a.store.ListFactions(ctx)
	if err != nil {
		return fmt.Errorf("app: list factions: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	w := a.cfg.World
	if len(w.Factions) == 0 && len(w.Territories) == 0 && len(w.Routes) == 0 {
		return nil
	}

	for _, f := range w.Factions {
		err := a.store.PutFaction(ctx, store.FactionRecord{
			ID: f.ID, Name: f.Name, Values: f.Values, Resources: f.Resources,
		})
		if err != nil {
			return fmt.Errorf("app: seed faction %s: %w", f.ID, err)
		}
	}
	for _, t := range w.Territories {
		err := a.store.PutTerritory(ctx, store.TerritoryRecord{
			ID: t.ID, Name: t.Name, ControllingFaction: t.Faction,
			ControlStrength: t.ControlStrength, StrategicValue: t.StrategicValue,
		})
		if err != nil {
			return fmt.Errorf("app: seed territory %s: %w", t.ID, err)
		}
	}
	for _, r := range w.Routes {
		err := a.store.PutRoute(ctx, store.TradeRouteRecord{
			ID:        uuid.NewString(),
			FromAgent: r.From, ToAgent: r.To, Goods: r.Goods,
			ProfitMargin: r.ProfitMargin, RiskLevel: r.RiskLevel,
			Status: store.RouteActive, CreatedAt: a.now(),
		})
		if err != nil {
			return fmt.Errorf("app: seed route %s-%s: %w", r.From, r.To, err)
		}
	}
	slog.Info("world seed applied",
		"factions", len(w.Factions),
		"territories", len(w.Territories),
		"routes", len(w.Routes),
	)
	return nil
}

// ─── health ──────────────────────────────────────────────────────────────────

func (a *App) healthHandler() *health.Handler {
	return health.New(
		health.Checker{Name: "store", Check: a.store.Ping},
		health.Checker{Name: "oracle", Check: func(context.Context) error {
			if a.oracle.BreakerState() == oracle.BreakerOpen {
				return errors.New("cognition breaker open")
			}
			return nil
		}},
	)
}

// ─── offline llm ─────────────────────────────────────────────────────────────

// errLLMUnconfigured drives every cognition through the fallback path
// when no llm provider is configured.
var errLLMUnconfigured = errors.New("app: no llm provider configured")

// offlineLLM satisfies [llm.Provider] with permanent failure, keeping
// boot alive without a backend. The brain converts the failures into
// deterministic fallback frames.
type offlineLLM struct{}

func (offlineLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errLLMUnconfigured
}

func (offlineLLM) CountTokens(messages []llm.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(m.Content) / 4
	}
	return n, nil
}

func (offlineLLM) Capabilities() llm.ModelCapabilities {
	return llm.ModelCapabilities{ContextWindow: 8192, MaxOutputTokens: 1024}
}
