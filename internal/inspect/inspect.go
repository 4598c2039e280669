// Package inspect exposes a read-only MCP surface over the simulation
// so that authoring tools and debug UIs can query live world state with
// any MCP-capable client. All tools are queries; mutation stays on the
// HTTP boundary.
package inspect

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/store"
	"github.com/MrWong99/agentfield/internal/world"
)

const serverVersion = "1.0.0"

// Service owns the MCP server and its tool handlers.
type Service struct {
	store *store.Store
	reg   *agent.Registry
	clock *world.Clock

	srv *mcp.Server
}

// Option customizes a Service.
type Option func(*Service)

// WithClock attaches the world clock so world_status can report
// simulated time; without it the tool reports store-level counts only.
func WithClock(c *world.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New builds the inspect service and registers its tools.
func New(st *store.Store, reg *agent.Registry, opts ...Option) (*Service, error) {
	if st == nil || reg == nil {
		return nil, fmt.Errorf("inspect: store and registry are required")
	}
	s := &Service{store: st, reg: reg}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = mcp.NewServer(&mcp.Implementation{
		Name:    "agentfield-inspect",
		Version: serverVersion,
	}, nil)

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "get_agent",
		Description: "Look up one NPC agent: identity, vitals, mood, traits, goals.",
	}, s.getAgent)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "query_memories",
		Description: "List what an agent remembers about a player, strongest first.",
	}, s.queryMemories)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "faction_standings",
		Description: "List all factions with their pairwise standings and diplomatic labels.",
	}, s.factionStandings)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "world_status",
		Description: "Report simulated world time, clock state and population counts.",
	}, s.worldStatus)

	return s, nil
}

// Handler returns the streamable-HTTP endpoint for mounting under /mcp.
func (s *Service) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}

// ─── get_agent ───────────────────────────────────────────────────────────────

type getAgentInput struct {
	AgentID string `json:"agent_id" jsonschema:"id of the agent to look up"`
}

type goalSummary struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Progress    float64 `json:"progress"`
	Status      string  `json:"status"`
}

type agentSummary struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Role              string             `json:"role"`
	Persona           string             `json:"persona,omitempty"`
	Zone              string             `json:"zone,omitempty"`
	FactionID         string             `json:"faction_id,omitempty"`
	Traits            map[string]float64 `json:"traits"`
	Hunger            float64            `json:"hunger"`
	Fatigue           float64            `json:"fatigue"`
	Mood              string             `json:"mood"`
	Goals             []goalSummary      `json:"goals,omitempty"`
	Live              bool               `json:"live"`
	LastInteractionAt int64              `json:"last_interaction_at"`
}

func (s *Service) getAgent(ctx context.Context, _ *mcp.CallToolRequest, in getAgentInput) (*mcp.CallToolResult, agentSummary, error) {
	if in.AgentID == "" {
		return nil, agentSummary{}, fmt.Errorf("inspect: agent_id is required")
	}

	var state agent.State
	live := false
	if a, err := s.reg.Get(in.AgentID); err == nil {
		snap, err := a.Snapshot(ctx)
		if err != nil {
			return nil, agentSummary{}, err
		}
		state, live = snap, true
	} else {
		rec, err := s.store.GetAgent(ctx, in.AgentID)
		if err != nil {
			return nil, agentSummary{}, fmt.Errorf("inspect: agent %s: %w", in.AgentID, err)
		}
		state = *agent.FromRecord(rec)
	}

	traits := make(map[string]float64, len(state.Traits))
	for tr, v := range state.Traits {
		traits[string(tr)] = v
	}
	out := agentSummary{
		ID: state.ID, Name: state.Name, Role: state.Role, Persona: state.Persona,
		Zone: state.Zone, FactionID: state.FactionID,
		Traits: traits,
		Hunger: state.Vitals.Hunger, Fatigue: state.Vitals.Fatigue,
		Mood:              string(state.Mood.Label),
		Live:              live,
		LastInteractionAt: state.LastInteractionAt,
	}
	for _, g := range state.Goals {
		rec := g.Record(state.ID)
		out.Goals = append(out.Goals, goalSummary{
			ID: rec.ID, Type: rec.Type, Description: rec.Description,
			Progress: rec.Progress, Status: rec.Status,
		})
	}
	return nil, out, nil
}

// ─── query_memories ──────────────────────────────────────────────────────────

type queryMemoriesInput struct {
	AgentID  string `json:"agent_id" jsonschema:"the remembering agent"`
	PlayerID string `json:"player_id" jsonschema:"the player the memories are about"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum memories to return, default 20"`
}

type memorySummary struct {
	ID              string  `json:"id"`
	Category        string  `json:"category"`
	Content         string  `json:"content"`
	Strength        float64 `json:"strength"`
	EmotionalWeight float64 `json:"emotional_weight"`
	Source          string  `json:"source,omitempty"`
}

type queryMemoriesOutput struct {
	Memories []memorySummary `json:"memories"`
}

func (s *Service) queryMemories(ctx context.Context, _ *mcp.CallToolRequest, in queryMemoriesInput) (*mcp.CallToolResult, queryMemoriesOutput, error) {
	if in.AgentID == "" || in.PlayerID == "" {
		return nil, queryMemoriesOutput{}, fmt.Errorf("inspect: agent_id and player_id are required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	recs, err := s.store.QueryMemories(ctx, store.MemoryQuery{
		Owner: in.AgentID, Subject: in.PlayerID, Limit: limit,
	})
	if err != nil {
		return nil, queryMemoriesOutput{}, fmt.Errorf("inspect: query memories: %w", err)
	}

	out := queryMemoriesOutput{Memories: make([]memorySummary, 0, len(recs))}
	for _, m := range recs {
		out.Memories = append(out.Memories, memorySummary{
			ID: m.ID, Category: m.Category, Content: m.Content,
			Strength: m.Strength, EmotionalWeight: m.EmotionalWeight, Source: m.Source,
		})
	}
	return nil, out, nil
}

// ─── faction_standings ───────────────────────────────────────────────────────

type factionStandingsInput struct{}

type standing struct {
	Other string  `json:"other"`
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

type factionSummary struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Values    []string   `json:"values,omitempty"`
	Resources float64    `json:"resources"`
	Standings []standing `json:"standings,omitempty"`
}

type factionStandingsOutput struct {
	Factions []factionSummary `json:"factions"`
}

func (s *Service) factionStandings(ctx context.Context, _ *mcp.CallToolRequest, _ factionStandingsInput) (*mcp.CallToolResult, factionStandingsOutput, error) {
	factions, err := s.store.ListFactions(ctx)
	if err != nil {
		return nil, factionStandingsOutput{}, fmt.Errorf("inspect: list factions: %w", err)
	}

	out := factionStandingsOutput{Factions: make([]factionSummary, 0, len(factions))}
	for _, f := range factions {
		fs := factionSummary{ID: f.ID, Name: f.Name, Values: f.Values, Resources: f.Resources}
		rels, err := s.store.ListFactionRelations(ctx, f.ID)
		if err != nil {
			return nil, factionStandingsOutput{}, fmt.Errorf("inspect: relations for %s: %w", f.ID, err)
		}
		for _, rel := range rels {
			other := rel.FactionA
			if other == f.ID {
				other = rel.FactionB
			}
			fs.Standings = append(fs.Standings, standing{
				Other: other, Score: rel.Score, Label: faction.LabelFor(rel.Score),
			})
		}
		out.Factions = append(out.Factions, fs)
	}
	return nil, out, nil
}

// ─── world_status ────────────────────────────────────────────────────────────

type worldStatusInput struct{}

type worldStatusOutput struct {
	Day        int     `json:"day,omitempty"`
	Hour       int     `json:"hour,omitempty"`
	Minute     int     `json:"minute,omitempty"`
	TotalHours float64 `json:"total_hours,omitempty"`
	Running    bool    `json:"running"`
	LiveAgents int     `json:"live_agents"`
	Agents     int     `json:"agents"`
}

func (s *Service) worldStatus(ctx context.Context, _ *mcp.CallToolRequest, _ worldStatusInput) (*mcp.CallToolResult, worldStatusOutput, error) {
	total, err := s.store.CountAgents(ctx)
	if err != nil {
		return nil, worldStatusOutput{}, fmt.Errorf("inspect: count agents: %w", err)
	}
	out := worldStatusOutput{LiveAgents: s.reg.Len(), Agents: total}
	if s.clock != nil {
		wt := s.clock.Time()
		out.Day, out.Hour, out.Minute, out.TotalHours = wt.Day, wt.Hour, wt.Minute, wt.TotalHours
		out.Running = s.clock.Running()
	}
	return nil, out, nil
}
