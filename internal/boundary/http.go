package boundary

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/group"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/store"
)

// ─── Wire views ──────────────────────────────────────────────────────────────

type agentView struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Role              string             `json:"role"`
	Persona           string             `json:"persona,omitempty"`
	Zone              string             `json:"zone,omitempty"`
	Position          *positionView      `json:"position,omitempty"`
	Traits            map[string]float64 `json:"traits"`
	Hunger            float64            `json:"hunger"`
	Fatigue           float64            `json:"fatigue"`
	Mood              moodView           `json:"mood"`
	Goals             []goalView         `json:"goals,omitempty"`
	FactionID         string             `json:"faction_id,omitempty"`
	CreatedAt         int64              `json:"created_at"`
	LastInteractionAt int64              `json:"last_interaction_at"`
}

type positionView struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type moodView struct {
	Label   string  `json:"label"`
	Arousal float64 `json:"arousal"`
	Valence float64 `json:"valence"`
}

type goalView struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id,omitempty"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Priority    float64 `json:"priority"`
	Progress    float64 `json:"progress"`
	Deadline    int64   `json:"deadline"`
	Status      string  `json:"status"`
}

type memoryView struct {
	ID              string  `json:"id"`
	Category        string  `json:"category"`
	Content         string  `json:"content"`
	Strength        float64 `json:"strength"`
	EmotionalWeight float64 `json:"emotional_weight"`
	Source          string  `json:"source,omitempty"`
	CreatedAt       int64   `json:"created_at"`
}

type rumorView struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	CreatedBy string  `json:"created_by"`
	Strength  float64 `json:"strength"`
	CreatedAt int64   `json:"created_at"`
}

type questView struct {
	ID          string             `json:"id"`
	GiverAgent  string             `json:"giver_agent"`
	PlayerID    string             `json:"player_id"`
	Type        string             `json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Difficulty  string             `json:"difficulty"`
	Rewards     map[string]float64 `json:"rewards,omitempty"`
	Status      string             `json:"status"`
	ExpiresAt   int64              `json:"expires_at"`
}

func viewAgent(s agent.State) agentView {
	traits := make(map[string]float64, len(s.Traits))
	for t, v := range s.Traits {
		traits[string(t)] = v
	}
	v := agentView{
		ID: s.ID, Name: s.Name, Role: s.Role, Persona: s.Persona,
		Zone:   s.Zone,
		Traits: traits,
		Hunger: s.Vitals.Hunger, Fatigue: s.Vitals.Fatigue,
		Mood:              moodView{Label: string(s.Mood.Label), Arousal: s.Mood.Arousal, Valence: s.Mood.Valence},
		FactionID:         s.FactionID,
		CreatedAt:         s.CreatedAt,
		LastInteractionAt: s.LastInteractionAt,
	}
	if s.HasPosition {
		v.Position = &positionView{X: s.X, Y: s.Y, Z: s.Z}
	}
	for _, g := range s.Goals {
		v.Goals = append(v.Goals, viewGoal(g.Record(s.ID)))
	}
	return v
}

func viewGoal(g store.GoalRecord) goalView {
	return goalView{
		ID: g.ID, AgentID: g.AgentID, Type: g.Type, Description: g.Description,
		Priority: g.Priority, Progress: g.Progress, Deadline: g.Deadline, Status: g.Status,
	}
}

func viewMemory(m store.MemoryRecord) memoryView {
	return memoryView{
		ID: m.ID, Category: m.Category, Content: m.Content,
		Strength: m.Strength, EmotionalWeight: m.EmotionalWeight,
		Source: m.Source, CreatedAt: m.CreatedAt,
	}
}

func viewQuest(q store.QuestRecord) questView {
	return questView{
		ID: q.ID, GiverAgent: q.GiverAgent, PlayerID: q.PlayerID,
		Type: q.Type, Title: q.Title, Description: q.Description,
		Difficulty: q.Difficulty, Rewards: q.Rewards,
		Status: q.Status, ExpiresAt: q.ExpiresAt,
	}
}

// ─── Agent resolution ────────────────────────────────────────────────────────

// resolveAgent finds a live agent. An id that is persisted but not in
// the registry means init was skipped after a selective boot, which is
// a client-visible state of its own.
func (s *Server) resolveAgent(r *http.Request, id string) (*agent.Agent, error) {
	if id == "" {
		return nil, badRequest("agent id is required")
	}
	a, err := s.deps.Registry.Get(id)
	if err == nil {
		return a, nil
	}
	if _, serr := s.deps.Store.GetAgent(r.Context(), id); serr == nil {
		return nil, &apiError{
			kind:    KindAgentUninitialized,
			status:  http.StatusConflict,
			message: fmt.Sprintf("agent %s exists but is not initialized; POST /npc/init first", id),
		}
	}
	return nil, &apiError{
		kind:    KindAgentUnknown,
		status:  http.StatusNotFound,
		message: fmt.Sprintf("unknown agent %s", id),
	}
}

// ─── NPC lifecycle ───────────────────────────────────────────────────────────

type initRequest struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Role             string             `json:"role"`
	Persona          string             `json:"persona"`
	Faction          string             `json:"faction"`
	Zone             string             `json:"zone"`
	Position         *positionView      `json:"position"`
	Traits           map[string]float64 `json:"traits"`
	VoiceFingerprint string             `json:"voice_fingerprint"`
}

func (s *Server) handleNPCInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	def := agent.Definition{
		ID: req.ID, Name: req.Name, Role: req.Role, Persona: req.Persona,
		Faction: req.Faction, Zone: req.Zone,
		Traits:           req.Traits,
		VoiceFingerprint: req.VoiceFingerprint,
	}
	if req.Position != nil {
		def.Position = &agent.Position{X: req.Position.X, Y: req.Position.Y, Z: req.Position.Z}
	}
	if err := def.Validate(); err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}

	state := def.NewState(s.now())
	if err := s.deps.Store.PutAgent(r.Context(), state.Record()); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Registry.Add(agent.NewAgent(state))
	if s.deps.Proximity != nil && state.HasPosition {
		s.deps.Proximity.UpdateAgent(state.ID, state.Zone, state.X, state.Y, state.Z)
	}
	writeJSON(w, http.StatusCreated, viewAgent(*state))
}

type actionRequest struct {
	AgentID    string `json:"agent_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Text       string `json:"text"`
}

type actionResponse struct {
	AgentID       string   `json:"agent_id"`
	Dialogue      string   `json:"dialogue"`
	Intent        string   `json:"intent"`
	Mood          moodView `json:"mood"`
	Urgency       float64  `json:"urgency"`
	Fallback      bool     `json:"fallback"`
	Overridden    bool     `json:"overridden"`
	Reputation    float64  `json:"reputation"`
	MemoriesAdded int      `json:"memories_added"`
	RumorStarted  bool     `json:"rumor_started"`
}

func (s *Server) handleNPCAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PlayerID == "" {
		writeError(w, badRequest("player_id is required"))
		return
	}
	a, err := s.resolveAgent(r, req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}

	var result actionResponse
	err = s.dispatch(r.Context(), func() error {
		out, perr := s.deps.Brain.Process(r.Context(), a, req.PlayerID, req.PlayerName, req.Text)
		if perr != nil {
			return perr
		}
		result = actionResponse{
			AgentID:  req.AgentID,
			Dialogue: out.Frame.Dialogue,
			Intent:   string(out.Frame.Intent),
			Mood: moodView{
				Label: string(out.Mood.Label), Arousal: out.Mood.Arousal, Valence: out.Mood.Valence,
			},
			Urgency:       out.Frame.Urgency,
			Fallback:      out.Outcome == oracle.OutcomeFallback,
			Overridden:    out.Overridden,
			Reputation:    out.Reputation,
			MemoriesAdded: out.MemoriesAdded,
			RumorStarted:  out.RumorStarted,
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNPCStatus(w http.ResponseWriter, r *http.Request) {
	a, err := s.resolveAgent(r, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := a.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAgent(state))
}

func (s *Server) handleNPCList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AgentFilter{
		Zone:      q.Get("zone"),
		FactionID: q.Get("faction"),
		Limit:     queryInt(q.Get("limit"), 50),
		Offset:    queryInt(q.Get("offset"), 0),
	}
	recs, err := s.deps.Store.ListAgents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := s.deps.Store.CountAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]agentView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewAgent(*agent.FromRecord(rec)))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": views,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// ─── Memories, rumors, goals ─────────────────────────────────────────────────

func (s *Server) handleNPCMemories(w http.ResponseWriter, r *http.Request) {
	owner, player := r.PathValue("agent"), r.PathValue("player")
	limit := queryInt(r.URL.Query().Get("limit"), 20)

	mems, err := s.deps.Memory.Recall(r.Context(), owner, player, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]memoryView, 0, len(mems))
	for _, m := range mems {
		views = append(views, viewMemory(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": views})
}

type shareRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func (s *Server) handleShareMemories(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.From == "" || req.To == "" || req.Subject == "" {
		writeError(w, badRequest("from, to and subject are required"))
		return
	}
	shared, err := s.deps.Memory.Share(r.Context(), req.From, req.To, req.Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shared": shared})
}

func (s *Server) handleHeardAbout(w http.ResponseWriter, r *http.Request) {
	agentID, player := r.PathValue("agent"), r.PathValue("player")
	limit := queryInt(r.URL.Query().Get("limit"), 20)

	rumors, err := s.deps.Memory.RumorsAbout(r.Context(), player, agentID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]rumorView, 0, len(rumors))
	for _, ru := range rumors {
		views = append(views, rumorView{
			ID: ru.ID, Content: ru.Content, CreatedBy: ru.CreatedBy,
			Strength: ru.Strength, CreatedAt: ru.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rumors": views})
}

func (s *Server) handleGoalGenerate(w http.ResponseWriter, r *http.Request) {
	a, err := s.resolveAgent(r, r.PathValue("agent"))
	if err != nil {
		writeError(w, err)
		return
	}

	var goal agent.Goal
	err = a.Do(r.Context(), func(st *agent.State) error {
		s.roll(func(rng *rand.Rand) {
			goal = st.GenerateGoal(rng, s.now())
		})
		st.SetGoal(goal)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Store.PutGoal(r.Context(), goal.Record(a.ID())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewGoal(goal.Record(a.ID())))
}

func (s *Server) handleGoalList(w http.ResponseWriter, r *http.Request) {
	goals, err := s.deps.Store.ListGoals(r.Context(), r.PathValue("agent"), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]goalView, 0, len(goals))
	for _, g := range goals {
		views = append(views, viewGoal(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"goals": views})
}

type goalProgressRequest struct {
	AgentID string  `json:"agent_id"`
	Delta   float64 `json:"delta"`
}

func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	goalID := r.PathValue("id")
	var req goalProgressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.resolveAgent(r, req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}

	var goal agent.Goal
	var found bool
	err = a.Do(r.Context(), func(st *agent.State) error {
		goal, found = st.ProgressGoal(goalID, req.Delta)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, notFound(fmt.Sprintf("goal %s not active on agent %s", goalID, req.AgentID)))
		return
	}
	if err := s.deps.Store.PutGoal(r.Context(), goal.Record(req.AgentID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewGoal(goal.Record(req.AgentID)))
}

type goalAbandonRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleGoalAbandon(w http.ResponseWriter, r *http.Request) {
	goalID := r.PathValue("id")
	var req goalAbandonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.resolveAgent(r, req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}

	var goal agent.Goal
	var found bool
	err = a.Do(r.Context(), func(st *agent.State) error {
		goal, found = st.AbandonGoal(goalID)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, notFound(fmt.Sprintf("goal %s not active on agent %s", goalID, req.AgentID)))
		return
	}
	if err := s.deps.Store.PutGoal(r.Context(), goal.Record(req.AgentID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewGoal(goal.Record(req.AgentID)))
}

func (s *Server) handleMemoryDecay(w http.ResponseWriter, r *http.Request) {
	hours := queryFloat(r.URL.Query().Get("hours"), 1)
	if hours <= 0 {
		writeError(w, badRequest("hours must be positive"))
		return
	}
	res, err := s.deps.Memory.Sweep(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memories_decayed": res.MemoriesDecayed,
		"memories_deleted": res.MemoriesDeleted,
		"rumors_decayed":   res.RumorsDecayed,
	})
}

// ─── World clock ─────────────────────────────────────────────────────────────

func (s *Server) handleWorldStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeScale := queryFloat(q.Get("time_scale"), 1)
	interval := time.Duration(queryFloat(q.Get("tick_interval"), 60) * float64(time.Second))
	if timeScale <= 0 || interval <= 0 {
		writeError(w, badRequest("time_scale and tick_interval must be positive"))
		return
	}
	if err := s.deps.Clock.Start(timeScale, interval); err != nil {
		writeError(w, conflict(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":       true,
		"time_scale":    timeScale,
		"tick_interval": interval.String(),
	})
}

func (s *Server) handleWorldStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Clock.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

func (s *Server) handleWorldTick(w http.ResponseWriter, r *http.Request) {
	hours := queryFloat(r.URL.Query().Get("hours"), 1)
	if hours <= 0 {
		writeError(w, badRequest("hours must be positive"))
		return
	}
	rep, err := s.deps.Clock.Tick(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleWorldAdvance(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.ParseFloat(r.PathValue("hours"), 64)
	if err != nil || hours <= 0 {
		writeError(w, badRequest("hours must be a positive number"))
		return
	}
	rep, err := s.deps.Clock.Tick(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleWorldStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"time":      s.deps.Clock.Time(),
		"running":   s.deps.Clock.Running(),
		"last_tick": s.deps.Clock.LastReport(),
		"agents":    s.deps.Registry.Len(),
	}
	if s.deps.Cache != nil {
		st := s.deps.Cache.Stats()
		status["cache"] = map[string]any{
			"entries": s.deps.Cache.Len(), "hits": st.Hits, "misses": st.Misses,
		}
	}
	if s.deps.Groups != nil {
		status["active_conversations"] = s.deps.Groups.Len()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWorldEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 50)
	events, err := s.deps.Store.ListWorldEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type eventView struct {
		ID      int64          `json:"id"`
		TS      int64          `json:"ts"`
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{ID: e.ID, TS: e.TS, Kind: e.Kind, Payload: e.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

// ─── Quests ──────────────────────────────────────────────────────────────────

func (s *Server) handleQuestGenerate(w http.ResponseWriter, r *http.Request) {
	giver := r.PathValue("agent")
	player := r.URL.Query().Get("player_id")
	if player == "" {
		writeError(w, badRequest("player_id is required"))
		return
	}
	if _, err := s.resolveAgent(r, giver); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.deps.Quests.Generate(r.Context(), giver, player)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewQuest(rec))
}

func (s *Server) handleQuestAccept(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Quests.Accept(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, questTransitionError(err))
		return
	}
	writeJSON(w, http.StatusOK, viewQuest(rec))
}

func (s *Server) handleQuestComplete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Quests.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, questTransitionError(err))
		return
	}
	writeJSON(w, http.StatusOK, viewQuest(rec))
}

// questTransitionError keeps store sentinels intact but turns lifecycle
// violations ("is expired, not available") into 409s.
func questTransitionError(err error) error {
	if ae := classify(err); ae.kind != KindInternal {
		return err
	}
	return conflict(err.Error())
}

func (s *Server) handleQuestList(w http.ResponseWriter, r *http.Request) {
	quests, err := s.deps.Store.ListQuests(r.Context(), r.PathValue("player"), "")
	if err != nil {
		writeError(w, err)
		return
	}
	available := make([]questView, 0)
	accepted := make([]questView, 0)
	for _, q := range quests {
		switch q.Status {
		case store.QuestAvailable:
			available = append(available, viewQuest(q))
		case store.QuestAccepted:
			accepted = append(accepted, viewQuest(q))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": available,
		"accepted":  accepted,
	})
}

// ─── Factions, territories, trade ────────────────────────────────────────────

func (s *Server) handleFactions(w http.ResponseWriter, r *http.Request) {
	factions, err := s.deps.Store.ListFactions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type factionView struct {
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Values    []string       `json:"values,omitempty"`
		Resources float64        `json:"resources"`
		Relations map[string]any `json:"relations,omitempty"`
	}
	views := make([]factionView, 0, len(factions))
	for _, f := range factions {
		fv := factionView{ID: f.ID, Name: f.Name, Values: f.Values, Resources: f.Resources}
		rels, err := s.deps.Store.ListFactionRelations(r.Context(), f.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(rels) > 0 {
			fv.Relations = make(map[string]any, len(rels))
			for _, rel := range rels {
				other := rel.FactionA
				if other == f.ID {
					other = rel.FactionB
				}
				fv.Relations[other] = rel.Score
			}
		}
		views = append(views, fv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"factions": views})
}

func (s *Server) handleTerritoryControl(w http.ResponseWriter, r *http.Request) {
	territories, err := s.deps.Store.ListTerritories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type territoryView struct {
		ID                 string  `json:"id"`
		Name               string  `json:"name"`
		ControllingFaction string  `json:"controlling_faction,omitempty"`
		ControlStrength    float64 `json:"control_strength"`
		StrategicValue     float64 `json:"strategic_value"`
		Contested          bool    `json:"contested"`
	}
	views := make([]territoryView, 0, len(territories))
	for _, t := range territories {
		views = append(views, territoryView{
			ID: t.ID, Name: t.Name,
			ControllingFaction: t.ControllingFaction,
			ControlStrength:    t.ControlStrength,
			StrategicValue:     t.StrategicValue,
			Contested:          t.Contested,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"territories": views})
}

type routeView struct {
	ID           string   `json:"id"`
	FromAgent    string   `json:"from_agent"`
	ToAgent      string   `json:"to_agent"`
	Goods        []string `json:"goods,omitempty"`
	ProfitMargin float64  `json:"profit_margin"`
	RiskLevel    float64  `json:"risk_level"`
	Status       string   `json:"status"`
	TotalTrades  int      `json:"total_trades"`
}

func viewRoute(rt store.TradeRouteRecord) routeView {
	return routeView{
		ID: rt.ID, FromAgent: rt.FromAgent, ToAgent: rt.ToAgent,
		Goods: rt.Goods, ProfitMargin: rt.ProfitMargin, RiskLevel: rt.RiskLevel,
		Status: rt.Status, TotalTrades: rt.TotalTrades,
	}
}

func (s *Server) handleTradeRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.deps.Store.ListRoutes(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		views = append(views, viewRoute(rt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": views})
}

type factionEventRequest struct {
	Kind        string `json:"kind"`
	FactionA    string `json:"faction_a"`
	FactionB    string `json:"faction_b"`
	Description string `json:"description"`
}

func (s *Server) handleFactionEvent(w http.ResponseWriter, r *http.Request) {
	var req factionEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FactionA == "" || req.FactionB == "" {
		writeError(w, badRequest("faction_a and faction_b are required"))
		return
	}
	rec, err := s.deps.Factions.ApplyEvent(r.Context(), req.Kind, req.FactionA, req.FactionB, req.Description)
	if err != nil {
		if classify(err).kind == KindInternal {
			err = badRequest(err.Error())
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"faction_a": rec.FactionA,
		"faction_b": rec.FactionB,
		"score":     rec.Score,
	})
}

type battleView struct {
	ID               string  `json:"id"`
	TerritoryID      string  `json:"territory_id"`
	Attacker         string  `json:"attacker"`
	Defender         string  `json:"defender"`
	AttackerStrength float64 `json:"attacker_strength"`
	DefenderStrength float64 `json:"defender_strength"`
	Status           string  `json:"status"`
	Casualties       int     `json:"casualties"`
}

func viewBattle(b store.BattleRecord) battleView {
	return battleView{
		ID: b.ID, TerritoryID: b.TerritoryID,
		Attacker: b.Attacker, Defender: b.Defender,
		AttackerStrength: b.AttackerStrength, DefenderStrength: b.DefenderStrength,
		Status: b.Status, Casualties: b.Casualties,
	}
}

func (s *Server) handleBattleStart(w http.ResponseWriter, r *http.Request) {
	attacker := r.URL.Query().Get("attacker")
	if attacker == "" {
		writeError(w, badRequest("attacker is required"))
		return
	}
	rec, err := s.deps.Factions.StartBattle(r.Context(), r.PathValue("territory"), attacker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewBattle(rec))
}

func (s *Server) handleBattleResolve(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Factions.ResolveBattle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBattle(rec))
}

type routeEstablishRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
}

func (s *Server) handleRouteEstablish(w http.ResponseWriter, r *http.Request) {
	var req routeEstablishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FromAgent == "" || req.ToAgent == "" {
		writeError(w, badRequest("from_agent and to_agent are required"))
		return
	}
	rec, err := s.deps.Factions.EstablishRoute(r.Context(), req.FromAgent, req.ToAgent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewRoute(rec))
}

type routeIDRequest struct {
	RouteID string `json:"route_id"`
}

func (s *Server) handleRouteExecute(w http.ResponseWriter, r *http.Request) {
	var req routeIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, outcome, err := s.deps.Factions.ExecuteTrade(r.Context(), req.RouteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": viewRoute(rec), "outcome": outcome})
}

func (s *Server) handleRouteDisrupt(w http.ResponseWriter, r *http.Request) {
	var req routeIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.deps.Factions.DisruptRoute(r.Context(), req.RouteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRoute(rec))
}

func (s *Server) handleRouteRestore(w http.ResponseWriter, r *http.Request) {
	var req routeIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.deps.Factions.RestoreRoute(r.Context(), req.RouteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRoute(rec))
}

// ─── Group conversations ─────────────────────────────────────────────────────

type conversationStartRequest struct {
	PlayerID   string   `json:"player_id"`
	PlayerName string   `json:"player_name"`
	NPCIDs     []string `json:"npc_ids"`
	Location   string   `json:"location"`
}

func (s *Server) handleConversationStart(w http.ResponseWriter, r *http.Request) {
	var req conversationStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PlayerID == "" {
		writeError(w, badRequest("player_id is required"))
		return
	}
	snap, err := s.deps.Groups.Start(r.Context(), req.PlayerID, req.PlayerName, req.NPCIDs, req.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

type conversationMessageRequest struct {
	GroupID   string `json:"group_id"`
	Text      string `json:"text"`
	TargetNPC string `json:"target_npc"`
}

func (s *Server) handleConversationMessage(w http.ResponseWriter, r *http.Request) {
	var req conversationMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.GroupID == "" || req.Text == "" {
		writeError(w, badRequest("group_id and text are required"))
		return
	}
	var result group.TurnResult
	err := s.dispatch(r.Context(), func() error {
		var merr error
		result, merr = s.deps.Groups.Message(r.Context(), req.GroupID, req.Text, req.TargetNPC)
		return merr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type conversationIDRequest struct {
	GroupID string `json:"group_id"`
}

func (s *Server) handleConversationEnd(w http.ResponseWriter, r *http.Request) {
	var req conversationIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.deps.Groups.End(r.Context(), req.GroupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type conversationNPCRequest struct {
	GroupID string `json:"group_id"`
	NPCID   string `json:"npc_id"`
}

func (s *Server) handleConversationAddNPC(w http.ResponseWriter, r *http.Request) {
	var req conversationNPCRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.deps.Groups.AddAgent(r.Context(), req.GroupID, req.NPCID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleConversationRemoveNPC(w http.ResponseWriter, r *http.Request) {
	var req conversationNPCRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.deps.Groups.RemoveAgent(r.Context(), req.GroupID, req.NPCID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Groups.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ─── Location ────────────────────────────────────────────────────────────────

type locationRequest struct {
	Zone string  `json:"zone"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	kind, id := r.PathValue("kind"), r.PathValue("id")
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Zone == "" {
		writeError(w, badRequest("zone is required"))
		return
	}

	switch kind {
	case "player":
		s.deps.Proximity.UpdatePlayer(id, req.Zone, req.X, req.Y, req.Z)
	case "npc":
		a, err := s.resolveAgent(r, id)
		if err != nil {
			writeError(w, err)
			return
		}
		err = a.Do(r.Context(), func(st *agent.State) error {
			st.MoveTo(req.Zone, req.X, req.Y, req.Z)
			return nil
		})
		if err != nil {
			writeError(w, err)
			return
		}
		s.deps.Proximity.UpdateAgent(id, req.Zone, req.X, req.Y, req.Z)
		if err := s.deps.Store.UpdateAgentPosition(r.Context(), id, req.Zone, req.X, req.Y, req.Z); err != nil {
			writeError(w, err)
			return
		}
	default:
		writeError(w, badRequest("location kind must be npc or player"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": id, "zone": req.Zone})
}

// ─── Voice ───────────────────────────────────────────────────────────────────

type voiceRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleVoiceGenerate(w http.ResponseWriter, r *http.Request) {
	a, err := s.resolveAgent(r, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Text == "" {
		writeError(w, badRequest("text is required"))
		return
	}
	state, err := a.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var audio []byte
	err = s.dispatch(r.Context(), func() error {
		var serr error
		audio, serr = s.deps.Oracle.Synthesize(r.Context(), state.VoiceFingerprint, req.Text, state.Mood)
		return serr
	})
	if err != nil {
		writeError(w, voiceProviderError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":     state.ID,
		"audio_base64": base64.StdEncoding.EncodeToString(audio),
		"size":         len(audio),
	})
}

type transcribeRequest struct {
	AudioBase64 string `json:"audio_base64"`
	Language    string `json:"language"`
}

func (s *Server) handleSpeechTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, badRequest("audio_base64 is not valid base64"))
		return
	}
	if len(audio) == 0 {
		writeError(w, badRequest("audio payload is empty"))
		return
	}

	var text string
	err = s.dispatch(r.Context(), func() error {
		var terr error
		text, terr = s.deps.Oracle.Transcribe(r.Context(), audio, req.Language)
		return terr
	})
	if err != nil {
		writeError(w, voiceProviderError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text})
}

// voiceProviderError downgrades missing-provider sentinels to client
// errors; everything else keeps its classification.
func voiceProviderError(err error) error {
	switch {
	case err == nil:
		return nil
	case isProviderMissing(err):
		return badRequest(err.Error())
	default:
		return err
	}
}

func isProviderMissing(err error) bool {
	return errors.Is(err, oracle.ErrNoTTS) || errors.Is(err, oracle.ErrNoSTT)
}

// ─── Query helpers ───────────────────────────────────────────────────────────

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func queryFloat(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
