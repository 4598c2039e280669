package store_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/agentfield/internal/store"
)

func TestPutRelation_CanonicalOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Ids passed reversed: the row must land under the ordered pair with
	// trust directions swapped to match.
	err := s.PutRelation(ctx, store.RelationRecord{
		AgentA: "zed", AgentB: "ana",
		TrustAB: 0.8, TrustBA: -0.2,
		Familiarity: 0.5, LastInteractionAt: 100,
	})
	if err != nil {
		t.Fatalf("put relation: %v", err)
	}

	rel, err := s.GetRelation(ctx, "ana", "zed")
	if err != nil {
		t.Fatalf("get relation: %v", err)
	}
	if rel.AgentA != "ana" || rel.AgentB != "zed" {
		t.Fatalf("pair: got (%s,%s)", rel.AgentA, rel.AgentB)
	}
	if got := rel.Trust("zed"); got != 0.8 {
		t.Errorf("zed's trust: got %v, want 0.8", got)
	}
	if got := rel.Trust("ana"); got != -0.2 {
		t.Errorf("ana's trust: got %v, want -0.2", got)
	}
}

func TestDriftRelations_PullsTrustTowardZero(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutRelation(ctx, store.RelationRecord{
		AgentA: "a", AgentB: "b", TrustAB: 0.8, TrustBA: -0.4,
		Familiarity: 0.3, LastInteractionAt: 1,
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Half-life 48h, 48h elapsed: factor 0.5.
	factor := math.Pow(0.5, 48.0/48.0)
	if _, err := s.DriftRelations(ctx, factor); err != nil {
		t.Fatalf("drift: %v", err)
	}

	rel, err := s.GetRelation(ctx, "a", "b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if math.Abs(rel.TrustAB-0.4) > 1e-9 {
		t.Errorf("trust_ab: got %v, want 0.4", rel.TrustAB)
	}
	if math.Abs(rel.TrustBA+0.2) > 1e-9 {
		t.Errorf("trust_ba: got %v, want -0.2", rel.TrustBA)
	}
	if rel.Familiarity != 0.3 {
		t.Errorf("familiarity must not drift: got %v", rel.Familiarity)
	}
}

func TestReputation_ClampAndDefault(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutReputation(ctx, store.ReputationRecord{
		PlayerID: "p1", TargetID: "guards", TargetKind: store.TargetFaction,
		Score: 1.7, UpdatedAt: 1,
	}); err != nil {
		t.Fatalf("put reputation: %v", err)
	}

	score, err := s.GetReputation(ctx, "p1", "guards")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if score != 1.0 {
		t.Errorf("clamped score: got %v, want 1.0", score)
	}

	unknown, err := s.GetReputation(ctx, "p1", "outcasts")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	if unknown != 0 {
		t.Errorf("unknown pair: got %v, want 0", unknown)
	}
}

func TestFactionRelation_SymmetricKey(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutFactionRelation(ctx, store.FactionRelationRecord{
		FactionA: "traders", FactionB: "guards", Score: -0.3, UpdatedAt: 1,
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	score, err := s.GetFactionRelation(ctx, "guards", "traders")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score != -0.3 {
		t.Errorf("score: got %v, want -0.3", score)
	}
}

func TestExpireQuests(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	quests := []store.QuestRecord{
		{ID: "q1", GiverAgent: "npc-1", PlayerID: "p1", Type: "fetch", Title: "Fetch", Difficulty: "easy", Status: store.QuestAvailable, CreatedAt: 1, ExpiresAt: 100},
		{ID: "q2", GiverAgent: "npc-1", PlayerID: "p1", Type: "protect", Title: "Protect", Difficulty: "hard", Status: store.QuestAccepted, CreatedAt: 1, ExpiresAt: 100},
		{ID: "q3", GiverAgent: "npc-1", PlayerID: "p1", Type: "trade", Title: "Trade", Difficulty: "easy", Status: store.QuestCompleted, CreatedAt: 1, ExpiresAt: 100},
		{ID: "q4", GiverAgent: "npc-1", PlayerID: "p1", Type: "rescue", Title: "Rescue", Difficulty: "medium", Status: store.QuestAvailable, CreatedAt: 1, ExpiresAt: 900},
	}
	for _, q := range quests {
		if err := s.PutQuest(ctx, q); err != nil {
			t.Fatalf("put %s: %v", q.ID, err)
		}
	}

	n, err := s.ExpireQuests(ctx, 500)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Errorf("expired count: got %d, want 2", n)
	}

	q3, err := s.GetQuest(ctx, "q3")
	if err != nil {
		t.Fatalf("get q3: %v", err)
	}
	if q3.Status != store.QuestCompleted {
		t.Errorf("completed quest must not expire: got %q", q3.Status)
	}
	q4, err := s.GetQuest(ctx, "q4")
	if err != nil {
		t.Fatalf("get q4: %v", err)
	}
	if q4.Status != store.QuestAvailable {
		t.Errorf("future quest must not expire: got %q", q4.Status)
	}
}

func TestAbandonOverdueGoals(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	goals := []store.GoalRecord{
		{ID: "g1", AgentID: "npc-1", Type: "trade", Description: "sell surplus", Priority: 0.6, Deadline: 100, Status: store.GoalActive, CreatedAt: 1},
		{ID: "g2", AgentID: "npc-1", Type: "survive", Description: "find food", Priority: 0.95, Deadline: 900, Status: store.GoalActive, CreatedAt: 1},
	}
	for _, g := range goals {
		if err := s.PutGoal(ctx, g); err != nil {
			t.Fatalf("put %s: %v", g.ID, err)
		}
	}

	n, err := s.AbandonOverdueGoals(ctx, 500)
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if n != 1 {
		t.Errorf("abandoned: got %d, want 1", n)
	}

	active, err := s.ListGoals(ctx, "npc-1", store.GoalActive)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "g2" {
		t.Fatalf("active goals: got %v", active)
	}
}

func TestWorldEvents_RingTrims(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 1005; i++ {
		err := s.AppendWorldEvent(ctx, store.WorldEventRecord{
			TS: int64(i), Kind: "tick",
			Payload: map[string]any{"n": i},
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := s.ListWorldEvents(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1000 {
		t.Fatalf("ring size: got %d, want 1000", len(events))
	}
	if events[0].TS != 1004 {
		t.Errorf("newest first: got ts=%d, want 1004", events[0].TS)
	}
}

func TestRumors_HearingsTrackSpread(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	r := store.RumorRecord{
		ID: "r1", About: "player-1", Content: "they crossed the guards",
		CreatedBy: "npc-1", Strength: 0.8, CreatedAt: 10,
	}
	if err := s.InsertRumor(ctx, r); err != nil {
		t.Fatalf("insert rumor: %v", err)
	}
	if err := s.AddRumorHearing(ctx, store.RumorHearing{
		RumorID: "r1", AgentID: "npc-2", HeardFrom: "npc-1", Belief: 0.56, HeardAt: 20,
	}); err != nil {
		t.Fatalf("add hearing: %v", err)
	}
	// Re-hearing keeps the first impression.
	if err := s.AddRumorHearing(ctx, store.RumorHearing{
		RumorID: "r1", AgentID: "npc-2", HeardFrom: "npc-3", Belief: 0.9, HeardAt: 30,
	}); err != nil {
		t.Fatalf("re-hear: %v", err)
	}

	hearings, err := s.ListRumorHearings(ctx, "r1")
	if err != nil {
		t.Fatalf("list hearings: %v", err)
	}
	if len(hearings) != 2 {
		t.Fatalf("hearings: got %d, want 2 (creator + npc-2)", len(hearings))
	}
	for _, h := range hearings {
		if h.AgentID == "npc-2" && h.Belief != 0.56 {
			t.Errorf("belief overwritten on re-hear: got %v", h.Belief)
		}
	}

	known, err := s.RumorsHeardBy(ctx, "npc-2", 5)
	if err != nil {
		t.Fatalf("heard by: %v", err)
	}
	if len(known) != 1 || known[0].ID != "r1" {
		t.Fatalf("rumors heard: got %v", known)
	}
}
