package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/agentfield/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesSchema(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	version, err := s.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("get schema_version: %v", err)
	}
	if version != "1" {
		t.Errorf("schema_version: got %q, want %q", version, "1")
	}
}

func TestPutGetAgent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rec := store.AgentRecord{
		ID:      "npc-1",
		Name:    "Marn the Smith",
		Role:    "blacksmith",
		Persona: "gruff but fair",
		Zone:    "market",
		X:       10, Y: 0, Z: -4,
		HasPosition: true,
		Traits: map[string]float64{
			"aggression": 0.3,
			"curiosity":  0.6,
			"paranoia":   0.2,
		},
		Hunger: 0.2, Fatigue: 0.3,
		MoodLabel: "calm", Arousal: 0.3, Valence: 0.5,
		FactionID: "traders",
		CreatedAt: 1000, LastInteractionAt: 1000,
	}
	if err := s.PutAgent(ctx, rec); err != nil {
		t.Fatalf("put agent: %v", err)
	}

	got, err := s.GetAgent(ctx, "npc-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Name != rec.Name {
		t.Errorf("name: got %q, want %q", got.Name, rec.Name)
	}
	if got.Traits["curiosity"] != 0.6 {
		t.Errorf("curiosity: got %v, want 0.6", got.Traits["curiosity"])
	}
	if !got.HasPosition || got.Z != -4 {
		t.Errorf("position: got (%v,%v,%v) has=%v", got.X, got.Y, got.Z, got.HasPosition)
	}

	if _, err := s.GetAgent(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing agent: got %v, want ErrNotFound", err)
	}
}

func TestListAgents_Filters(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, a := range []store.AgentRecord{
		{ID: "a", Name: "Ada", Zone: "market", FactionID: "traders", CreatedAt: 1, LastInteractionAt: 1},
		{ID: "b", Name: "Bo", Zone: "docks", FactionID: "traders", CreatedAt: 1, LastInteractionAt: 1},
		{ID: "c", Name: "Cyn", Zone: "market", FactionID: "guards", CreatedAt: 1, LastInteractionAt: 1},
	} {
		if err := s.PutAgent(ctx, a); err != nil {
			t.Fatalf("put %s: %v", a.ID, err)
		}
	}

	market, err := s.ListAgents(ctx, store.AgentFilter{Zone: "market"})
	if err != nil {
		t.Fatalf("list zone: %v", err)
	}
	if len(market) != 2 {
		t.Fatalf("market agents: got %d, want 2", len(market))
	}

	both, err := s.ListAgents(ctx, store.AgentFilter{Zone: "market", FactionID: "guards"})
	if err != nil {
		t.Fatalf("list zone+faction: %v", err)
	}
	if len(both) != 1 || both[0].ID != "c" {
		t.Fatalf("market guards: got %v", both)
	}

	paged, err := s.ListAgents(ctx, store.AgentFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 2 || paged[0].Name != "Bo" {
		t.Fatalf("page: got %v", paged)
	}
}

func TestUpdateAgentVitals_KeepsLatestInteraction(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutAgent(ctx, store.AgentRecord{
		ID: "npc-1", Name: "Marn", CreatedAt: 1, LastInteractionAt: 500,
	}); err != nil {
		t.Fatalf("put agent: %v", err)
	}

	// A stale snapshot must not move last_interaction_at backwards.
	if err := s.UpdateAgentVitals(ctx, store.VitalsUpdate{
		AgentID: "npc-1", Hunger: 0.4, Fatigue: 0.5,
		MoodLabel: "paranoid", Arousal: 0.7, Valence: 0.3,
		LastInteractionAt: 100,
	}); err != nil {
		t.Fatalf("update vitals: %v", err)
	}

	got, err := s.GetAgent(ctx, "npc-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Hunger != 0.4 || got.MoodLabel != "paranoid" {
		t.Errorf("vitals: got hunger=%v mood=%q", got.Hunger, got.MoodLabel)
	}
	if got.LastInteractionAt != 500 {
		t.Errorf("last_interaction_at: got %d, want 500", got.LastInteractionAt)
	}
}

func TestTraitDeltaLog(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.AppendTraitDelta(ctx, store.TraitDeltaRecord{
			AgentID: "npc-1", Trait: "paranoia",
			FromValue: 0.5, ToValue: 0.55, Delta: 0.05,
			Reason: "betrayal", TS: int64(100 + i),
		}); err != nil {
			t.Fatalf("append delta: %v", err)
		}
	}

	deltas, err := s.ListTraitDeltas(ctx, "npc-1", 2)
	if err != nil {
		t.Fatalf("list deltas: %v", err)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas: got %d, want 2", len(deltas))
	}
	if deltas[0].TS != 102 {
		t.Errorf("newest first: got ts=%d, want 102", deltas[0].TS)
	}
}

func TestDeleteAgent_RemovesDependents(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutAgent(ctx, store.AgentRecord{ID: "npc-1", Name: "Marn", CreatedAt: 1, LastInteractionAt: 1}); err != nil {
		t.Fatalf("put agent: %v", err)
	}
	if err := s.InsertMemory(ctx, store.MemoryRecord{
		ID: "m1", OwnerAgent: "npc-1", SubjectID: "player-1",
		Category: "event", Content: "met at the gate",
		Strength: 1.0, EmotionalWeight: 0.5, CreatedAt: 1, LastReferencedAt: 1,
	}); err != nil {
		t.Fatalf("insert memory: %v", err)
	}

	if err := s.DeleteAgent(ctx, "npc-1"); err != nil {
		t.Fatalf("delete agent: %v", err)
	}
	n, err := s.CountMemories(ctx)
	if err != nil {
		t.Fatalf("count memories: %v", err)
	}
	if n != 0 {
		t.Errorf("memories after delete: got %d, want 0", n)
	}
	if err := s.DeleteAgent(ctx, "npc-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}
