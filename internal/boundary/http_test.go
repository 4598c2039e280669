package boundary_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/boundary"
	"github.com/MrWong99/agentfield/internal/brain"
	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/cache"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/group"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/quest"
	"github.com/MrWong99/agentfield/internal/store"
	"github.com/MrWong99/agentfield/internal/world"
	"github.com/MrWong99/agentfield/pkg/provider/llm"
	llmmock "github.com/MrWong99/agentfield/pkg/provider/llm/mock"
	"github.com/MrWong99/agentfield/pkg/provider/stt"
	sttmock "github.com/MrWong99/agentfield/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/agentfield/pkg/provider/tts/mock"
)

const testClock = int64(12000)

func frameJSON(intent string, trustDelta, urgency float64) string {
	return fmt.Sprintf(`{
	  "reflection": "Seems harmless enough.",
	  "dialogue": "Hm. Is that so.",
	  "intent": %q,
	  "mood_shift": {"arousal": 0.2, "valence": 0.3},
	  "urgency": %g,
	  "trust_delta": %g,
	  "emotional_weight": 0.4,
	  "extracted_topics": ["shortcut through the marsh"]
	}`, intent, urgency, trustDelta)
}

// harness wires a full server over an in-memory store and mock providers.
type harness struct {
	store   *store.Store
	reg     *agent.Registry
	groups  *group.Orchestrator
	clk     *world.Clock
	bus     *bus.Bus
	prox    *world.Proximity
	handler http.Handler
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
}

func newHarness(t *testing.T, lp *llmmock.Provider, opts ...boundary.Option) *harness {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := func() int64 { return testClock }
	c := cache.New(100, 0)
	mem := memory.NewEngine(st, c, memory.WithClock(now))
	ttsP := &ttsmock.Provider{SynthesizeAudio: []byte("riff-bytes")}
	sttP := &sttmock.Provider{TranscribeResult: &stt.Transcript{Text: "well met"}}
	orc, err := oracle.New(lp, ttsP, sttP)
	if err != nil {
		t.Fatalf("oracle.New: %v", err)
	}
	br, err := brain.New(st, mem, orc, brain.WithClock(now))
	if err != nil {
		t.Fatalf("brain.New: %v", err)
	}
	reg := agent.NewRegistry()
	prox := world.NewProximity()
	clk, err := world.NewClock(st, reg, mem, world.WithClock(now), world.WithSeed(11))
	if err != nil {
		t.Fatalf("world.NewClock: %v", err)
	}
	t.Cleanup(clk.Stop)
	grp, err := group.New(st, reg, br, orc, mem, group.WithClock(now))
	if err != nil {
		t.Fatalf("group.New: %v", err)
	}

	eventBus := bus.New()
	deps := boundary.Deps{
		Store:    st,
		Registry: reg,
		Brain:    br,
		Memory:   mem,
		Oracle:   orc,

		Cache:     c,
		Factions:  faction.NewEngine(st, faction.WithClock(now), faction.WithSeed(11)),
		Quests:    quest.NewEngine(st, quest.WithClock(now), quest.WithSeed(11)),
		Groups:    grp,
		Clock:     clk,
		Proximity: prox,
		Bus:       eventBus,
	}
	opts = append([]boundary.Option{boundary.WithClock(now), boundary.WithSeed(7)}, opts...)
	srv, err := boundary.New(deps, opts...)
	if err != nil {
		t.Fatalf("boundary.New: %v", err)
	}
	return &harness{
		store: st, reg: reg, groups: grp, clk: clk,
		bus: eventBus, prox: prox,
		handler: srv.Handler(),
		llm:     lp, tts: ttsP,
	}
}

func (h *harness) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

// errKind decodes the error envelope and returns its kind.
func errKind(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeBody[struct {
		Error struct {
			Kind      string `json:"kind"`
			Message   string `json:"message"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}](t, rr)
	if env.Error.Kind == "" {
		t.Fatalf("no error envelope in %q", rr.Body.String())
	}
	return env.Error.Kind
}

func (h *harness) initNPC(t *testing.T, id, name, zone string) {
	t.Helper()
	rr := h.request(t, "POST", "/npc/init", map[string]any{
		"id": id, "name": name, "role": "villager",
		"persona": "Keeps to the edge of the square and watches.",
		"zone":    zone,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("init %s: status %d, body %s", id, rr.Code, rr.Body.String())
	}
}

// ─── NPC lifecycle ───────────────────────────────────────────────────────────

func TestNPCInitAndStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	rr := h.request(t, "POST", "/npc/init", map[string]any{
		"id": "marn", "name": "Marn", "role": "blacksmith",
		"persona": "Gruff, fair prices.",
		"zone":    "square",
		"position": map[string]float64{"x": 1, "y": 0, "z": 2},
		"traits":   map[string]float64{"curiosity": 0.8},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("init: status %d, body %s", rr.Code, rr.Body.String())
	}
	created := decodeBody[map[string]any](t, rr)
	if created["id"] != "marn" || created["name"] != "Marn" {
		t.Errorf("created = %v", created)
	}
	if created["position"] == nil {
		t.Error("position dropped from created view")
	}

	rr = h.request(t, "GET", "/npc/status/marn", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	status := decodeBody[map[string]any](t, rr)
	if status["zone"] != "square" {
		t.Errorf("zone = %v", status["zone"])
	}
	if status["created_at"] != float64(testClock) {
		t.Errorf("created_at = %v, want %d", status["created_at"], testClock)
	}
}

func TestNPCInit_RejectsInvalid(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})

	rr := h.request(t, "POST", "/npc/init", map[string]any{"id": "marn"})
	if rr.Code != http.StatusBadRequest || errKind(t, rr) != "invalid_argument" {
		t.Errorf("missing name: status %d kind %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "POST", "/npc/init", map[string]any{
		"id": "marn", "name": "Marn", "surprise": true,
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown field accepted: %d", rr.Code)
	}
}

func TestNPCStatus_UnknownAndUninitialized(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})

	rr := h.request(t, "GET", "/npc/status/ghost", nil)
	if rr.Code != http.StatusNotFound || errKind(t, rr) != "agent_unknown" {
		t.Errorf("unknown agent: status %d body %s", rr.Code, rr.Body.String())
	}

	// Persisted but never registered: a distinct, actionable state.
	state := &agent.State{
		ID: "dormant", Name: "Dormant", Role: "villager",
		Traits: agent.DefaultTraits(), Vitals: agent.DefaultVitals(), Mood: agent.DefaultMood(),
	}
	if err := h.store.PutAgent(context.Background(), state.Record()); err != nil {
		t.Fatalf("put agent: %v", err)
	}
	rr = h.request(t, "GET", "/npc/status/dormant", nil)
	if rr.Code != http.StatusConflict || errKind(t, rr) != "agent_uninitialized" {
		t.Fatalf("uninitialized agent: status %d body %s", rr.Code, rr.Body.String())
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("/npc/init")) {
		t.Error("error message does not point at the init route")
	}
}

func TestNPCAction(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Socialize", 0.1, 0.2),
	}}
	h := newHarness(t, lp)
	h.initNPC(t, "marn", "Marn", "square")

	rr := h.request(t, "POST", "/npc/action", map[string]any{
		"agent_id": "marn", "player_id": "player-1", "player_name": "Rella",
		"text": "Morning. Heard anything strange lately?",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("action: status %d body %s", rr.Code, rr.Body.String())
	}
	res := decodeBody[struct {
		AgentID       string  `json:"agent_id"`
		Dialogue      string  `json:"dialogue"`
		Intent        string  `json:"intent"`
		Fallback      bool    `json:"fallback"`
		Reputation    float64 `json:"reputation"`
		MemoriesAdded int     `json:"memories_added"`
	}](t, rr)
	if res.AgentID != "marn" || res.Dialogue != "Hm. Is that so." || res.Intent != "Socialize" {
		t.Errorf("response = %+v", res)
	}
	if res.Fallback {
		t.Error("healthy turn flagged as fallback")
	}
	if res.MemoriesAdded == 0 {
		t.Error("interaction minted no memories")
	}

	rr = h.request(t, "POST", "/npc/action", map[string]any{
		"agent_id": "marn", "text": "no player id",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing player_id: %d", rr.Code)
	}

	rr = h.request(t, "POST", "/npc/action", map[string]any{
		"agent_id": "ghost", "player_id": "player-1", "text": "hello?",
	})
	if rr.Code != http.StatusNotFound || errKind(t, rr) != "agent_unknown" {
		t.Errorf("unknown agent: status %d body %s", rr.Code, rr.Body.String())
	}
}

func TestNPCAction_FallbackOnProviderError(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteErr: fmt.Errorf("upstream 500")}
	h := newHarness(t, lp)
	h.initNPC(t, "marn", "Marn", "square")

	rr := h.request(t, "POST", "/npc/action", map[string]any{
		"agent_id": "marn", "player_id": "player-1", "text": "Hello?",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("action: status %d body %s", rr.Code, rr.Body.String())
	}
	res := decodeBody[struct {
		Dialogue string `json:"dialogue"`
		Fallback bool   `json:"fallback"`
	}](t, rr)
	if !res.Fallback {
		t.Error("provider failure did not surface as fallback")
	}
	if res.Dialogue == "" {
		t.Error("fallback turn has no canned dialogue")
	}
}

func TestNPCList_Filters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	h.initNPC(t, "marn", "Marn", "square")
	h.initNPC(t, "sela", "Sela", "square")
	h.initNPC(t, "farhand", "Farhand", "fields")

	rr := h.request(t, "GET", "/npc/list?zone=square", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	res := decodeBody[struct {
		Agents []struct {
			ID string `json:"id"`
		} `json:"agents"`
		Total int `json:"total"`
	}](t, rr)
	if len(res.Agents) != 2 {
		t.Errorf("zone filter returned %d agents", len(res.Agents))
	}
	if res.Total != 3 {
		t.Errorf("total = %d, want 3", res.Total)
	}

	rr = h.request(t, "GET", "/npc/list?limit=1&offset=2", nil)
	res = decodeBody[struct {
		Agents []struct {
			ID string `json:"id"`
		} `json:"agents"`
		Total int `json:"total"`
	}](t, rr)
	if len(res.Agents) != 1 {
		t.Errorf("paged list returned %d agents", len(res.Agents))
	}
}

// ─── Goals ───────────────────────────────────────────────────────────────────

func TestGoalLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	h.initNPC(t, "marn", "Marn", "square")

	rr := h.request(t, "POST", "/npc/goal/generate/marn", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate: status %d body %s", rr.Code, rr.Body.String())
	}
	goal := decodeBody[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, rr)
	if goal.ID == "" || goal.Status != "active" {
		t.Fatalf("goal = %+v", goal)
	}

	rr = h.request(t, "GET", "/npc/goals/marn", nil)
	listed := decodeBody[struct {
		Goals []struct {
			ID string `json:"id"`
		} `json:"goals"`
	}](t, rr)
	if len(listed.Goals) != 1 || listed.Goals[0].ID != goal.ID {
		t.Errorf("listed goals = %+v", listed.Goals)
	}

	rr = h.request(t, "POST", "/goal/"+goal.ID+"/progress", map[string]any{
		"agent_id": "marn", "delta": 0.4,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("progress: status %d body %s", rr.Code, rr.Body.String())
	}
	prog := decodeBody[struct {
		Progress float64 `json:"progress"`
	}](t, rr)
	if prog.Progress < 0.39 || prog.Progress > 0.41 {
		t.Errorf("progress = %v", prog.Progress)
	}

	rr = h.request(t, "POST", "/goal/"+goal.ID+"/abandon", map[string]any{"agent_id": "marn"})
	if rr.Code != http.StatusOK {
		t.Fatalf("abandon: status %d body %s", rr.Code, rr.Body.String())
	}

	// Abandoned goals are no longer active on the agent.
	rr = h.request(t, "POST", "/goal/"+goal.ID+"/progress", map[string]any{
		"agent_id": "marn", "delta": 0.1,
	})
	if rr.Code != http.StatusNotFound || errKind(t, rr) != "not_found" {
		t.Errorf("progress on abandoned goal: status %d body %s", rr.Code, rr.Body.String())
	}
}

// ─── Memory maintenance ──────────────────────────────────────────────────────

func TestMemoryDecayEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})

	rr := h.request(t, "POST", "/memory/decay?hours=-2", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative hours accepted: %d", rr.Code)
	}

	rr = h.request(t, "POST", "/memory/decay?hours=6", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("decay: status %d body %s", rr.Code, rr.Body.String())
	}
	res := decodeBody[map[string]any](t, rr)
	for _, key := range []string{"memories_decayed", "memories_deleted", "rumors_decayed"} {
		if _, ok := res[key]; !ok {
			t.Errorf("decay response missing %q: %v", key, res)
		}
	}
}

// ─── World clock ─────────────────────────────────────────────────────────────

func TestWorldClockEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	h.initNPC(t, "marn", "Marn", "square")

	rr := h.request(t, "GET", "/world/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	status := decodeBody[map[string]any](t, rr)
	if status["running"] != false {
		t.Errorf("running = %v before start", status["running"])
	}
	if status["agents"] != float64(1) {
		t.Errorf("agents = %v", status["agents"])
	}
	if _, ok := status["cache"]; !ok {
		t.Error("status missing cache stats")
	}
	if _, ok := status["active_conversations"]; !ok {
		t.Error("status missing active_conversations")
	}

	rr = h.request(t, "POST", "/world/tick?hours=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("tick: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "POST", "/world/advance/0", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("zero-hour advance accepted: %d", rr.Code)
	}

	// tick_interval is long enough that autorun never fires mid-test.
	rr = h.request(t, "POST", "/world/start?time_scale=60&tick_interval=3600", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: status %d body %s", rr.Code, rr.Body.String())
	}
	rr = h.request(t, "POST", "/world/start?time_scale=60&tick_interval=3600", nil)
	if rr.Code != http.StatusConflict || errKind(t, rr) != "conflict" {
		t.Errorf("double start: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "POST", "/world/stop", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stop: %d", rr.Code)
	}
	rr = h.request(t, "GET", "/world/status", nil)
	if decodeBody[map[string]any](t, rr)["running"] != false {
		t.Error("clock still running after stop")
	}
}

// ─── Quests ──────────────────────────────────────────────────────────────────

func TestQuestLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	h.initNPC(t, "marn", "Marn", "square")

	rr := h.request(t, "POST", "/quest/generate/marn", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("generate without player: %d", rr.Code)
	}

	rr = h.request(t, "POST", "/quest/generate/marn?player_id=player-1", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate: status %d body %s", rr.Code, rr.Body.String())
	}
	q := decodeBody[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, rr)
	if q.Status != "available" {
		t.Fatalf("fresh quest status = %s", q.Status)
	}

	// Completing before accepting violates the lifecycle.
	rr = h.request(t, "POST", "/quest/complete/"+q.ID, nil)
	if rr.Code != http.StatusConflict || errKind(t, rr) != "conflict" {
		t.Errorf("early complete: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "POST", "/quest/accept/"+q.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "GET", "/quest/list/player-1", nil)
	lists := decodeBody[struct {
		Available []any `json:"available"`
		Accepted  []any `json:"accepted"`
	}](t, rr)
	if len(lists.Available) != 0 || len(lists.Accepted) != 1 {
		t.Errorf("lists = %+v", lists)
	}

	rr = h.request(t, "POST", "/quest/complete/"+q.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "POST", "/quest/accept/"+q.ID, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("re-accept of completed quest: %d", rr.Code)
	}

	rr = h.request(t, "POST", "/quest/accept/no-such-quest", nil)
	if rr.Code != http.StatusNotFound || errKind(t, rr) != "not_found" {
		t.Errorf("unknown quest: status %d body %s", rr.Code, rr.Body.String())
	}
}

// ─── Factions, territories, trade ────────────────────────────────────────────

func TestFactionEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	ctx := context.Background()
	for _, f := range []store.FactionRecord{
		{ID: "emberguard", Name: "Emberguard", Values: []string{"honor"}, Resources: 100},
		{ID: "ashveil", Name: "Ashveil", Values: []string{"secrecy"}, Resources: 80},
	} {
		if err := h.store.PutFaction(ctx, f); err != nil {
			t.Fatalf("put faction: %v", err)
		}
	}

	rr := h.request(t, "POST", "/faction/event", map[string]any{
		"kind": "alliance_formed", "faction_a": "emberguard", "faction_b": "ashveil",
		"description": "Joint patrol pact signed.",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("event: status %d body %s", rr.Code, rr.Body.String())
	}
	res := decodeBody[struct {
		Score float64 `json:"score"`
	}](t, rr)
	if res.Score < 0.49 || res.Score > 0.51 {
		t.Errorf("score = %v, want 0.5", res.Score)
	}

	rr = h.request(t, "POST", "/faction/event", map[string]any{
		"kind": "picnic", "faction_a": "emberguard", "faction_b": "ashveil",
	})
	if rr.Code != http.StatusBadRequest || errKind(t, rr) != "invalid_argument" {
		t.Errorf("unknown kind: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "GET", "/factions", nil)
	factions := decodeBody[struct {
		Factions []struct {
			ID        string             `json:"id"`
			Relations map[string]float64 `json:"relations"`
		} `json:"factions"`
	}](t, rr)
	if len(factions.Factions) != 2 {
		t.Fatalf("factions = %+v", factions)
	}
	if factions.Factions[0].Relations["ashveil"] == 0 && factions.Factions[0].Relations["emberguard"] == 0 {
		t.Errorf("relations not surfaced: %+v", factions.Factions)
	}
}

func TestTradeRouteLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	h.initNPC(t, "marn", "Marn", "square")
	h.initNPC(t, "sela", "Sela", "docks")

	rr := h.request(t, "POST", "/traderoute/establish", map[string]any{
		"from_agent": "marn", "to_agent": "sela",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("establish: status %d body %s", rr.Code, rr.Body.String())
	}
	route := decodeBody[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, rr)
	if route.Status != "active" {
		t.Fatalf("fresh route status = %s", route.Status)
	}

	rr = h.request(t, "POST", "/traderoute/execute", map[string]any{"route_id": route.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("execute: status %d body %s", rr.Code, rr.Body.String())
	}
	trade := decodeBody[struct {
		Outcome string `json:"outcome"`
	}](t, rr)
	if trade.Outcome == "" {
		t.Error("trade produced no outcome")
	}

	rr = h.request(t, "POST", "/traderoute/disrupt", map[string]any{"route_id": route.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("disrupt: status %d body %s", rr.Code, rr.Body.String())
	}
	if decodeBody[struct {
		Status string `json:"status"`
	}](t, rr).Status != "disrupted" {
		t.Error("disrupt did not suspend the route")
	}

	rr = h.request(t, "POST", "/traderoute/restore", map[string]any{"route_id": route.ID})
	if decodeBody[struct {
		Status string `json:"status"`
	}](t, rr).Status != "active" {
		t.Error("restore did not reopen the route")
	}

	rr = h.request(t, "GET", "/traderoutes?status=active", nil)
	listed := decodeBody[struct {
		Routes []any `json:"routes"`
	}](t, rr)
	if len(listed.Routes) != 1 {
		t.Errorf("active routes = %d", len(listed.Routes))
	}

	rr = h.request(t, "POST", "/traderoute/establish", map[string]any{
		"from_agent": "marn", "to_agent": "ghost",
	})
	if rr.Code != http.StatusNotFound {
		t.Errorf("route to unknown agent: %d", rr.Code)
	}
}

// ─── Conversations over REST ─────────────────────────────────────────────────

func TestConversationEndpoints(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"responses": [{"speaker": "marn", "response_type": "direct_reply", "addressed_to": "player", "dialogue": "We're closed."}]}`,
	}}
	h := newHarness(t, lp)
	h.initNPC(t, "marn", "Marn", "square")
	h.initNPC(t, "sela", "Sela", "square")

	rr := h.request(t, "POST", "/conversation/start", map[string]any{
		"player_id": "player-1", "player_name": "Rella",
		"npc_ids": []string{"marn", "sela"}, "location": "the mill",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("start: status %d body %s", rr.Code, rr.Body.String())
	}
	snap := decodeBody[struct {
		ID           string   `json:"id"`
		Participants []string `json:"participants"`
	}](t, rr)
	if snap.ID == "" || len(snap.Participants) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}

	rr = h.request(t, "POST", "/conversation/message", map[string]any{
		"group_id": snap.ID, "text": "Are you open for trade?",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("message: status %d body %s", rr.Code, rr.Body.String())
	}
	turn := decodeBody[struct {
		Responses []struct {
			AgentID  string `json:"agent_id"`
			Dialogue string `json:"dialogue"`
		} `json:"responses"`
	}](t, rr)
	if len(turn.Responses) != 1 || turn.Responses[0].AgentID != "marn" {
		t.Fatalf("turn = %+v", turn)
	}

	rr = h.request(t, "GET", "/conversation/"+snap.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}

	rr = h.request(t, "POST", "/conversation/remove-npc", map[string]any{
		"group_id": snap.ID, "npc_id": "sela",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("remove: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "POST", "/conversation/end", map[string]any{"group_id": snap.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("end: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "GET", "/conversation/"+snap.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("ended conversation still served: %d", rr.Code)
	}
}

func TestLocationUpdate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	h.initNPC(t, "marn", "Marn", "square")

	rr := h.request(t, "POST", "/conversation/location/npc/marn", map[string]any{
		"zone": "docks", "x": 3.0, "y": 0.0, "z": 1.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("npc move: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "GET", "/npc/status/marn", nil)
	if decodeBody[map[string]any](t, rr)["zone"] != "docks" {
		t.Error("move not reflected in agent state")
	}
	rec, err := h.store.GetAgent(context.Background(), "marn")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if rec.Zone != "docks" {
		t.Errorf("persisted zone = %s", rec.Zone)
	}

	rr = h.request(t, "POST", "/conversation/location/player/player-1", map[string]any{
		"zone": "docks", "x": 2.0, "y": 0.0, "z": 1.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("player move: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = h.request(t, "POST", "/conversation/location/cart/marn", map[string]any{"zone": "docks"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bogus kind accepted: %d", rr.Code)
	}
}

// ─── Voice ───────────────────────────────────────────────────────────────────

func TestVoiceGenerate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})
	h.initNPC(t, "marn", "Marn", "square")

	rr := h.request(t, "POST", "/voice/generate/marn", map[string]any{"text": "We're closed."})
	if rr.Code != http.StatusOK {
		t.Fatalf("voice: status %d body %s", rr.Code, rr.Body.String())
	}
	res := decodeBody[struct {
		AgentID     string `json:"agent_id"`
		AudioBase64 string `json:"audio_base64"`
		Size        int    `json:"size"`
	}](t, rr)
	audio, err := base64.StdEncoding.DecodeString(res.AudioBase64)
	if err != nil {
		t.Fatalf("audio not base64: %v", err)
	}
	if string(audio) != "riff-bytes" || res.Size != len(audio) {
		t.Errorf("audio = %q size = %d", audio, res.Size)
	}

	rr = h.request(t, "POST", "/voice/generate/marn", map[string]any{"text": ""})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty text accepted: %d", rr.Code)
	}
}

func TestSpeechTranscribe(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &llmmock.Provider{})

	rr := h.request(t, "POST", "/speech/transcribe", map[string]any{
		"audio_base64": base64.StdEncoding.EncodeToString([]byte("pcm-bytes")),
		"language":     "en",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("transcribe: status %d body %s", rr.Code, rr.Body.String())
	}
	if decodeBody[struct {
		Text string `json:"text"`
	}](t, rr).Text != "well met" {
		t.Error("transcript not surfaced")
	}

	rr = h.request(t, "POST", "/speech/transcribe", map[string]any{"audio_base64": "%%%"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid base64 accepted: %d", rr.Code)
	}
}

// ─── Optional engines and saturation ─────────────────────────────────────────

func TestOptionalEnginesDisableRoutes(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := func() int64 { return testClock }
	mem := memory.NewEngine(st, cache.New(16, 0), memory.WithClock(now))
	orc, err := oracle.New(&llmmock.Provider{}, nil, nil)
	if err != nil {
		t.Fatalf("oracle.New: %v", err)
	}
	br, err := brain.New(st, mem, orc, brain.WithClock(now))
	if err != nil {
		t.Fatalf("brain.New: %v", err)
	}
	reg := agent.NewRegistry()

	srv, err := boundary.New(boundary.Deps{
		Store: st, Registry: reg, Brain: br, Memory: mem, Oracle: orc,
	}, boundary.WithClock(now))
	if err != nil {
		t.Fatalf("boundary.New: %v", err)
	}
	h := &harness{store: st, reg: reg, handler: srv.Handler()}

	for _, path := range []string{
		"/world/start", "/quest/generate/marn", "/faction/event", "/conversation/start",
	} {
		rr := h.request(t, "POST", path, map[string]any{})
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s registered without its engine: %d", path, rr.Code)
		}
	}

	h.initNPC(t, "marn", "Marn", "square")
	rr := h.request(t, "POST", "/voice/generate/marn", map[string]any{"text": "hi"})
	if rr.Code != http.StatusBadRequest || errKind(t, rr) != "invalid_argument" {
		t.Errorf("missing TTS: status %d body %s", rr.Code, rr.Body.String())
	}
	rr = h.request(t, "POST", "/speech/transcribe", map[string]any{
		"audio_base64": base64.StdEncoding.EncodeToString([]byte("pcm")),
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing STT: status %d body %s", rr.Code, rr.Body.String())
	}
}

func TestDispatchSaturation(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	lp := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return &llm.CompletionResponse{Content: frameJSON("Socialize", 0, 0.1)}, nil
		},
	}
	h := newHarness(t, lp, boundary.WithDispatchLimit(1))
	h.initNPC(t, "marn", "Marn", "square")
	h.initNPC(t, "sela", "Sela", "square")

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- h.request(t, "POST", "/npc/action", map[string]any{
			"agent_id": "marn", "player_id": "player-1", "text": "Busy?",
		})
	}()

	// The second request may only fire once the first holds the slot.
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the provider")
	}

	rr := h.request(t, "POST", "/npc/action", map[string]any{
		"agent_id": "sela", "player_id": "player-1", "text": "And you?",
	})
	if rr.Code != http.StatusTooManyRequests || errKind(t, rr) != "rate_limited" {
		t.Fatalf("saturated pool: status %d body %s", rr.Code, rr.Body.String())
	}

	close(release)
	if got := <-first; got.Code != http.StatusOK {
		t.Errorf("held request finished %d: %s", got.Code, got.Body.String())
	}
}
