// Package boundary is the HTTP and WebSocket surface of the simulation.
// Every route performs exactly one core operation; classification of
// core errors into wire kinds happens here and nowhere else. Oracle-bound
// work (cognition, synthesis, transcription) passes through a bounded
// dispatch pool so a slow provider saturates into 429s instead of
// unbounded goroutines.
package boundary

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/brain"
	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/cache"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/group"
	"github.com/MrWong99/agentfield/internal/health"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/observe"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/quest"
	"github.com/MrWong99/agentfield/internal/store"
	"github.com/MrWong99/agentfield/internal/world"
)

// defaultDispatchLimit caps concurrent Oracle-bound requests.
const defaultDispatchLimit = 16

// dispatchWait is how long a request waits for a pool slot before 429.
const dispatchWait = 2 * time.Second

// Deps are the core collaborators the boundary fronts. Store, Registry,
// Brain, Memory and Oracle are required; the rest disable their routes
// when nil.
type Deps struct {
	Store    *store.Store
	Registry *agent.Registry
	Brain    *brain.Brain
	Memory   *memory.Engine
	Oracle   *oracle.Oracle

	Cache     *cache.Cache
	Factions  *faction.Engine
	Quests    *quest.Engine
	Groups    *group.Orchestrator
	Clock     *world.Clock
	Proximity *world.Proximity
	Bus       *bus.Bus
	Health    *health.Handler

	// Inspect is the mounted MCP handler, served under /mcp.
	Inspect http.Handler
}

// Server translates HTTP and WebSocket traffic into core operations.
type Server struct {
	deps    Deps
	metrics *observe.Metrics
	now     func() int64
	sem     chan struct{}

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics attaches the metrics set used by the middleware and the
// WS connection gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the unix-seconds clock, for tests.
func WithClock(now func() int64) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDispatchLimit bounds concurrent Oracle-bound requests.
func WithDispatchLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithSeed fixes the goal-generation random stream.
func WithSeed(seed uint64) Option {
	return func(s *Server) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New builds a Server over its collaborators.
func New(deps Deps, opts ...Option) (*Server, error) {
	if deps.Store == nil || deps.Registry == nil || deps.Brain == nil || deps.Memory == nil || deps.Oracle == nil {
		return nil, fmt.Errorf("boundary: store, registry, brain, memory and oracle are required")
	}
	s := &Server{
		deps:    deps,
		metrics: observe.DefaultMetrics(),
		now:     func() int64 { return time.Now().Unix() },
		sem:     make(chan struct{}, defaultDispatchLimit),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the full route table wrapped in the observability
// middleware. Routes whose engine is absent are simply not registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Agents and interactions.
	mux.HandleFunc("POST /npc/init", s.handleNPCInit)
	mux.HandleFunc("POST /npc/action", s.handleNPCAction)
	mux.HandleFunc("GET /npc/status/{id}", s.handleNPCStatus)
	mux.HandleFunc("GET /npc/list", s.handleNPCList)
	mux.HandleFunc("GET /npc/memories/{agent}/{player}", s.handleNPCMemories)
	mux.HandleFunc("POST /npc/share-memories", s.handleShareMemories)
	mux.HandleFunc("GET /npc/heard-about/{agent}/{player}", s.handleHeardAbout)
	mux.HandleFunc("POST /npc/goal/generate/{agent}", s.handleGoalGenerate)
	mux.HandleFunc("GET /npc/goals/{agent}", s.handleGoalList)
	mux.HandleFunc("POST /goal/{id}/progress", s.handleGoalProgress)
	mux.HandleFunc("POST /goal/{id}/abandon", s.handleGoalAbandon)

	// Memory maintenance.
	mux.HandleFunc("POST /memory/decay", s.handleMemoryDecay)

	// World clock.
	if s.deps.Clock != nil {
		mux.HandleFunc("POST /world/start", s.handleWorldStart)
		mux.HandleFunc("POST /world/stop", s.handleWorldStop)
		mux.HandleFunc("POST /world/tick", s.handleWorldTick)
		mux.HandleFunc("POST /world/advance/{hours}", s.handleWorldAdvance)
		mux.HandleFunc("GET /world/status", s.handleWorldStatus)
	}
	mux.HandleFunc("GET /world/events", s.handleWorldEvents)

	// Quests.
	if s.deps.Quests != nil {
		mux.HandleFunc("POST /quest/generate/{agent}", s.handleQuestGenerate)
		mux.HandleFunc("POST /quest/accept/{id}", s.handleQuestAccept)
		mux.HandleFunc("POST /quest/complete/{id}", s.handleQuestComplete)
		mux.HandleFunc("GET /quest/list/{player}", s.handleQuestList)
	}

	// Factions, territories, trade.
	mux.HandleFunc("GET /factions", s.handleFactions)
	mux.HandleFunc("GET /territory/control", s.handleTerritoryControl)
	mux.HandleFunc("GET /traderoutes", s.handleTradeRoutes)
	if s.deps.Factions != nil {
		mux.HandleFunc("POST /faction/event", s.handleFactionEvent)
		mux.HandleFunc("POST /territory/{territory}/battle", s.handleBattleStart)
		mux.HandleFunc("POST /battle/{id}/resolve", s.handleBattleResolve)
		mux.HandleFunc("POST /traderoute/establish", s.handleRouteEstablish)
		mux.HandleFunc("POST /traderoute/execute", s.handleRouteExecute)
		mux.HandleFunc("POST /traderoute/disrupt", s.handleRouteDisrupt)
		mux.HandleFunc("POST /traderoute/restore", s.handleRouteRestore)
	}

	// Group conversations.
	if s.deps.Groups != nil {
		mux.HandleFunc("POST /conversation/start", s.handleConversationStart)
		mux.HandleFunc("POST /conversation/message", s.handleConversationMessage)
		mux.HandleFunc("POST /conversation/end", s.handleConversationEnd)
		mux.HandleFunc("POST /conversation/add-npc", s.handleConversationAddNPC)
		mux.HandleFunc("POST /conversation/remove-npc", s.handleConversationRemoveNPC)
		mux.HandleFunc("GET /conversation/{id}", s.handleConversationGet)
	}
	if s.deps.Proximity != nil {
		mux.HandleFunc("POST /conversation/location/{kind}/{id}", s.handleLocationUpdate)
	}

	// Voice.
	mux.HandleFunc("POST /voice/generate/{id}", s.handleVoiceGenerate)
	mux.HandleFunc("POST /speech/transcribe", s.handleSpeechTranscribe)

	// Realtime gateway.
	mux.HandleFunc("GET /ws/game", s.handleWS)

	// Operational surface.
	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.deps.Inspect != nil {
		mux.Handle("/mcp", s.deps.Inspect)
	}

	return observe.Middleware(s.metrics)(mux)
}

// dispatch runs f under the Oracle pool. A request that cannot get a
// slot within dispatchWait is shed with 429 rather than queued forever.
func (s *Server) dispatch(ctx context.Context, f func() error) error {
	timer := time.NewTimer(dispatchWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
	case <-timer.C:
		return errSaturated
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()
	return f()
}

// roll hands out goal-generation randomness under the server lock.
func (s *Server) roll(f func(rng *rand.Rand)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s.rng)
}
