package brain_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/brain"
	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/cache"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/store"
	"github.com/MrWong99/agentfield/pkg/provider/llm"
	llmmock "github.com/MrWong99/agentfield/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/agentfield/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/agentfield/pkg/provider/tts/mock"
)

const testClock = int64(7000)

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

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestBrain(t *testing.T, st *store.Store, lp *llmmock.Provider, opts ...brain.Option) *brain.Brain {
	t.Helper()
	mem := memory.NewEngine(st, cache.New(100, 0), memory.WithClock(func() int64 { return testClock }))
	orc, err := oracle.New(lp, &ttsmock.Provider{}, &sttmock.Provider{})
	if err != nil {
		t.Fatalf("oracle.New: %v", err)
	}
	opts = append([]brain.Option{brain.WithClock(func() int64 { return testClock })}, opts...)
	b, err := brain.New(st, mem, orc, opts...)
	if err != nil {
		t.Fatalf("brain.New: %v", err)
	}
	return b
}

func newVillager(t *testing.T, st *store.Store, id, name string) *agent.Agent {
	t.Helper()
	state := &agent.State{
		ID:      id,
		Name:    name,
		Role:    "villager",
		Persona: "Keeps to the edge of the square and watches.",
		Traits:  agent.DefaultTraits(),
		Vitals:  agent.DefaultVitals(),
		Mood:    agent.DefaultMood(),
	}
	if err := st.PutAgent(context.Background(), state.Record()); err != nil {
		t.Fatalf("put agent: %v", err)
	}
	return agent.NewAgent(state)
}

func TestProcess_CommitsFullOutcome(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Socialize", 0.1, 0.2),
	}}
	st := newTestStore(t)
	b := newTestBrain(t, st, lp)
	a := newVillager(t, st, "marn", "Marn")
	ctx := context.Background()

	res, err := b.Process(ctx, a, "player-1", "Rella", "I found a shortcut through the marsh.")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != oracle.OutcomeOk {
		t.Fatalf("outcome = %s (%s), want ok", res.Outcome, res.Reason)
	}
	if res.Overridden {
		t.Error("healthy villager should not be overridden")
	}
	if res.Frame.Intent != oracle.IntentSocialize {
		t.Errorf("intent = %q", res.Frame.Intent)
	}
	if res.MemoriesAdded == 0 {
		t.Error("exchange left no memories")
	}
	if math.Abs(res.Reputation-0.1) > 1e-9 {
		t.Errorf("reputation = %v, want 0.1", res.Reputation)
	}

	rep, err := st.GetReputation(ctx, "player-1", "marn")
	if err != nil {
		t.Fatalf("GetReputation: %v", err)
	}
	if math.Abs(rep-0.1) > 1e-9 {
		t.Errorf("stored reputation = %v, want 0.1", rep)
	}

	// Mood shift applied and persisted, interaction clock touched.
	if math.Abs(res.Mood.Arousal-0.5) > 1e-9 || math.Abs(res.Mood.Valence-0.8) > 1e-9 {
		t.Errorf("mood = %+v, want arousal 0.5 valence 0.8", res.Mood)
	}
	rec, err := st.GetAgent(ctx, "marn")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if rec.LastInteractionAt != testClock {
		t.Errorf("last interaction = %d, want %d", rec.LastInteractionAt, testClock)
	}
	if math.Abs(rec.Valence-0.8) > 1e-9 {
		t.Errorf("persisted valence = %v, want 0.8", rec.Valence)
	}

	sys := lp.CompleteCalls[0].Req.SystemPrompt
	for _, want := range []string{"You are Marn, a villager.", "Personality", "Your trust in this person"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q:\n%s", want, sys)
		}
	}
	user := lp.CompleteCalls[0].Req.Messages[0].Content
	if !strings.Contains(user, "shortcut through the marsh") || !strings.Contains(user, "Rella") {
		t.Errorf("user prompt missing utterance or speaker: %q", user)
	}
}

func TestProcess_FallbackStillTouchesAgent(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteErr: errors.New("upstream 500")}
	st := newTestStore(t)
	b := newTestBrain(t, st, lp)
	a := newVillager(t, st, "marn", "Marn")
	ctx := context.Background()

	res, err := b.Process(ctx, a, "player-1", "Rella", "Hello?")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != oracle.OutcomeFallback {
		t.Fatalf("outcome = %s, want fallback", res.Outcome)
	}
	if res.Frame.Intent != oracle.IntentGuard || res.Frame.Dialogue != "..." {
		t.Errorf("fallback frame = %+v", res.Frame)
	}
	if res.MemoriesAdded != 0 {
		t.Errorf("fallback added %d memories", res.MemoriesAdded)
	}
	if res.RumorStarted {
		t.Error("fallback started a rumor")
	}
	if res.Reputation != 0 {
		t.Errorf("fallback moved reputation to %v", res.Reputation)
	}

	// The agent still registers that someone spoke to it.
	rec, err := st.GetAgent(ctx, "marn")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if rec.LastInteractionAt != testClock {
		t.Errorf("last interaction = %d, want %d", rec.LastInteractionAt, testClock)
	}
}

func TestProcess_PromptCarriesHistory(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Socialize", 0, 0.1),
	}}
	st := newTestStore(t)
	b := newTestBrain(t, st, lp)
	ctx := context.Background()

	if err := st.PutFaction(ctx, store.FactionRecord{ID: "millers", Name: "The Millers"}); err != nil {
		t.Fatalf("put faction: %v", err)
	}
	state := &agent.State{
		ID: "marn", Name: "Marn", Role: "miller",
		Traits: agent.DefaultTraits(), Vitals: agent.DefaultVitals(), Mood: agent.DefaultMood(),
		FactionID: "millers",
		Goals: []agent.Goal{{
			ID: "g1", Description: "Repair the mill wheel",
			Priority: 0.8, Status: store.GoalActive,
		}},
	}
	if err := st.PutAgent(ctx, state.Record()); err != nil {
		t.Fatalf("put agent: %v", err)
	}
	a := agent.NewAgent(state)

	if err := st.InsertMemory(ctx, store.MemoryRecord{
		ID: "m1", OwnerAgent: "marn", SubjectID: "player-1",
		Category: memory.CategoryCrime, Content: "They pulled a knife on you.",
		Strength: 0.9, EmotionalWeight: 0.8,
		CreatedAt: testClock - 100, LastReferencedAt: testClock - 100,
	}); err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	if err := st.InsertRumor(ctx, store.RumorRecord{
		ID: "r1", About: "player-1", Content: "They say Rella cheats at dice.",
		CreatedBy: "marn", Strength: 0.8, CreatedAt: testClock - 50,
	}); err != nil {
		t.Fatalf("insert rumor: %v", err)
	}
	for _, rep := range []store.ReputationRecord{
		{PlayerID: "player-1", TargetID: "marn", TargetKind: store.TargetAgent, Score: 0.3, UpdatedAt: testClock - 10},
		{PlayerID: "player-1", TargetID: "millers", TargetKind: store.TargetFaction, Score: 0.5, UpdatedAt: testClock - 10},
	} {
		if err := st.PutReputation(ctx, rep); err != nil {
			t.Fatalf("put reputation: %v", err)
		}
	}

	if _, err := b.Process(ctx, a, "player-1", "Rella", "Remember me?"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sys := lp.CompleteCalls[0].Req.SystemPrompt
	for _, want := range []string{
		"[vivid] They pulled a knife on you.",
		`"They say Rella cheats at dice."`,
		"You belong to The Millers. This person is a friend toward your faction.",
		"Repair the mill wheel",
		"Your trust in this person: 0.30",
	} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q:\n%s", want, sys)
		}
	}
}

func TestProcess_HungerOverridesIntent(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Socialize", 0, 0.2),
	}}
	st := newTestStore(t)
	b := newTestBrain(t, st, lp)
	ctx := context.Background()

	state := &agent.State{
		ID: "marn", Name: "Marn", Role: "villager",
		Traits: agent.DefaultTraits(),
		Vitals: agent.Vitals{Hunger: 0.9, Fatigue: 0.3},
		Mood:   agent.DefaultMood(),
	}
	if err := st.PutAgent(ctx, state.Record()); err != nil {
		t.Fatalf("put agent: %v", err)
	}
	a := agent.NewAgent(state)

	res, err := b.Process(ctx, a, "player-1", "Rella", "Nice weather.")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Overridden {
		t.Fatal("starving villager was not overridden")
	}
	if res.Frame.Intent != oracle.IntentInvestigate {
		t.Errorf("intent = %q, want Investigate", res.Frame.Intent)
	}
	if res.Frame.Urgency < 0.9 {
		t.Errorf("urgency = %v, want >= 0.9", res.Frame.Urgency)
	}
}

func TestProcess_TrustRippleReachesFaction(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Assist", 0.2, 0.3),
	}}

	st := newTestStore(t)
	b := newTestBrain(t, st, lp, brain.WithFactions(faction.NewEngine(st)))
	ctx := context.Background()

	for _, f := range []store.FactionRecord{
		{ID: "millers", Name: "The Millers"},
		{ID: "ravagers", Name: "The Ravagers"},
	} {
		if err := st.PutFaction(ctx, f); err != nil {
			t.Fatalf("put faction: %v", err)
		}
	}
	if err := st.PutFactionRelation(ctx, store.FactionRelationRecord{
		FactionA: "millers", FactionB: "ravagers", Score: -0.8, UpdatedAt: testClock,
	}); err != nil {
		t.Fatalf("put relation: %v", err)
	}

	state := &agent.State{
		ID: "marn", Name: "Marn", Role: "miller",
		Traits: agent.DefaultTraits(), Vitals: agent.DefaultVitals(), Mood: agent.DefaultMood(),
		FactionID: "millers",
	}
	if err := st.PutAgent(ctx, state.Record()); err != nil {
		t.Fatalf("put agent: %v", err)
	}
	a := agent.NewAgent(state)

	res, err := b.Process(ctx, a, "player-1", "Rella", "Let me carry that for you.")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if math.Abs(res.Reputation-0.2) > 1e-9 {
		t.Errorf("agent reputation = %v, want 0.2", res.Reputation)
	}

	// A quarter of the trust swing reaches the faction, and their
	// enemies resent the player for it.
	factionRep, err := st.GetReputation(ctx, "player-1", "millers")
	if err != nil {
		t.Fatalf("GetReputation millers: %v", err)
	}
	if math.Abs(factionRep-0.05) > 1e-9 {
		t.Errorf("faction reputation = %v, want 0.05", factionRep)
	}
	enemyRep, err := st.GetReputation(ctx, "player-1", "ravagers")
	if err != nil {
		t.Fatalf("GetReputation ravagers: %v", err)
	}
	if math.Abs(enemyRep+0.025) > 1e-9 {
		t.Errorf("enemy reputation = %v, want -0.025", enemyRep)
	}
}

func TestProcess_UrgentInteractionEmitsWorldEvent(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Flee", -0.1, 0.95),
	}}
	eventBus := bus.New()
	sub := eventBus.Subscribe(bus.TopicWorldEvent)
	defer eventBus.Unsubscribe(sub)

	st := newTestStore(t)
	b := newTestBrain(t, st, lp, brain.WithBus(eventBus))
	a := newVillager(t, st, "marn", "Marn")
	ctx := context.Background()

	if _, err := b.Process(ctx, a, "player-1", "Rella", "The mill is on fire!"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	events, err := st.ListWorldEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListWorldEvents: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == "urgent_interaction" {
			found = true
			if e.Payload["agent_id"] != "marn" {
				t.Errorf("event payload = %+v", e.Payload)
			}
		}
	}
	if !found {
		t.Fatal("no urgent_interaction event recorded")
	}

	select {
	case evt := <-sub.Ch():
		if evt.Topic != bus.TopicWorldEvent {
			t.Errorf("topic = %q", evt.Topic)
		}
	default:
		t.Error("no world event on the bus")
	}
}

func TestProcess_ThreatDriftsParanoia(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Flee", -0.1, 0.8),
	}}
	st := newTestStore(t)
	b := newTestBrain(t, st, lp)
	a := newVillager(t, st, "marn", "Marn")
	ctx := context.Background()

	if _, err := b.Process(ctx, a, "player-1", "Rella", "Hand over the ledger or else."); err != nil {
		t.Fatalf("Process: %v", err)
	}

	snap, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.Trait(agent.TraitParanoia); got <= 0.5 {
		t.Errorf("paranoia = %v, want > 0.5 after threat", got)
	}

	deltas, err := st.ListTraitDeltas(ctx, "marn", 10)
	if err != nil {
		t.Fatalf("ListTraitDeltas: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("trait deltas = %d, want 1", len(deltas))
	}
	d := deltas[0]
	if d.Trait != string(agent.TraitParanoia) || d.Reason != "event impact" {
		t.Errorf("delta = %+v", d)
	}
	if math.Abs(d.Delta-0.095) > 1e-9 {
		t.Errorf("delta magnitude = %v, want 0.095", d.Delta)
	}

	// The persisted record carries the drifted trait too.
	rec, err := st.GetAgent(ctx, "marn")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if rec.Traits[string(agent.TraitParanoia)] <= 0.5 {
		t.Errorf("persisted paranoia = %v", rec.Traits[string(agent.TraitParanoia)])
	}
}

func TestProcess_RumorRollMatchesStore(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: frameJSON("Socialize", 0.05, 0.2),
	}}
	st := newTestStore(t)
	b := newTestBrain(t, st, lp)
	a := newVillager(t, st, "marn", "Marn")
	ctx := context.Background()

	started := 0
	for range 40 {
		res, err := b.Process(ctx, a, "drifter-1", "The Drifter", "Spare a coin?")
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.RumorStarted {
			started++
		}
	}
	if started == 0 {
		t.Error("40 exchanges and not one rumor; roll looks dead")
	}

	rumors, err := st.ListRumorsAbout(ctx, "drifter-1", 100)
	if err != nil {
		t.Fatalf("ListRumorsAbout: %v", err)
	}
	if len(rumors) != started {
		t.Errorf("store has %d rumors, results reported %d", len(rumors), started)
	}
	for _, r := range rumors {
		if r.CreatedBy != "marn" {
			t.Errorf("rumor created by %q", r.CreatedBy)
		}
		if r.Strength < 0.7 || r.Strength > 1.0 {
			t.Errorf("rumor strength = %v, want [0.7, 1.0]", r.Strength)
		}
		if !strings.Contains(r.Content, "The Drifter") {
			t.Errorf("rumor %q does not name the player", r.Content)
		}
	}
}
