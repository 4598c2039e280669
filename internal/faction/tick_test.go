package faction_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/store"
)

func TestTick_DriftHalvesUntouchedStandings(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	eng := faction.NewEngine(st, faction.WithClock(func() int64 { return 1000 }))
	ctx := context.Background()

	err := st.PutFactionRelation(ctx, store.FactionRelationRecord{
		FactionA: "ashen_guild", FactionB: "steel_pact", Score: 0.8, UpdatedAt: 0,
	})
	if err != nil {
		t.Fatalf("seed relation: %v", err)
	}

	res, err := eng.Tick(ctx, 48)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.RelationsDrifted != 1 {
		t.Errorf("RelationsDrifted = %d, want 1", res.RelationsDrifted)
	}

	got, err := st.GetFactionRelation(ctx, "ashen_guild", "steel_pact")
	if err != nil {
		t.Fatalf("GetFactionRelation: %v", err)
	}
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("standing after one half-life = %v, want 0.4", got)
	}
}

func TestTick_PinnedStandingSkipsOneTick(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	now := int64(1000)
	eng := faction.NewEngine(st, faction.WithClock(func() int64 { return now }))
	ctx := context.Background()

	now = 1500
	if _, err := eng.ApplyEvent(ctx, faction.EventAllianceFormed, "ashen_guild", "steel_pact", ""); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}

	// First tick after the event: the row is pinned, no drift.
	now = 2000
	res, err := eng.Tick(ctx, 48)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.RelationsDrifted != 0 {
		t.Errorf("pinned standing drifted on first tick")
	}
	got, _ := st.GetFactionRelation(ctx, "ashen_guild", "steel_pact")
	if got != 0.5 {
		t.Errorf("standing = %v, want 0.5 untouched", got)
	}

	// Second tick: the pin has lapsed and drift applies.
	now = 3000
	res, err = eng.Tick(ctx, 48)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.RelationsDrifted != 1 {
		t.Errorf("RelationsDrifted = %d, want 1", res.RelationsDrifted)
	}
	got, _ = st.GetFactionRelation(ctx, "ashen_guild", "steel_pact")
	if math.Abs(got-0.25) > 1e-9 {
		t.Errorf("standing after lapsed pin = %v, want 0.25", got)
	}
}

func TestTick_ResolvesCollapsedBattle(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	eng := faction.NewEngine(st, faction.WithClock(func() int64 { return 1000 }))
	ctx := context.Background()

	err := st.PutTerritory(ctx, store.TerritoryRecord{
		ID: "harbor", Name: "Harbor", ControllingFaction: "steel_pact",
		ControlStrength: 1.0, StrategicValue: 0.9, Contested: true,
	})
	if err != nil {
		t.Fatalf("seed territory: %v", err)
	}
	err = st.PutBattle(ctx, store.BattleRecord{
		ID: "b1", TerritoryID: "harbor",
		Attacker: "ravagers", Defender: "steel_pact",
		AttackerStrength: 0.1, DefenderStrength: 0.9,
		Status: store.BattleInProgress, StartedAt: 900,
	})
	if err != nil {
		t.Fatalf("seed battle: %v", err)
	}

	res, err := eng.Tick(ctx, 1)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.BattlesResolved != 1 {
		t.Fatalf("BattlesResolved = %d, want 1", res.BattlesResolved)
	}

	b, err := st.GetBattle(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.Status != store.BattleDefenderWon {
		t.Errorf("status = %s, want %s", b.Status, store.BattleDefenderWon)
	}
	if b.EndedAt != 1000 {
		t.Errorf("EndedAt = %d, want 1000", b.EndedAt)
	}
	if b.Casualties == 0 {
		t.Error("no casualties recorded")
	}

	terr, err := st.GetTerritory(ctx, "harbor")
	if err != nil {
		t.Fatalf("GetTerritory: %v", err)
	}
	if terr.ControllingFaction != "steel_pact" {
		t.Errorf("territory flipped to %s", terr.ControllingFaction)
	}
	if terr.ControlStrength != 0.6 {
		t.Errorf("post-battle control strength = %v, want 0.6", terr.ControlStrength)
	}
	if terr.Contested {
		t.Error("territory still contested after resolution")
	}
}

func TestTick_EvenBattleGrindsOn(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	eng := faction.NewEngine(st, faction.WithClock(func() int64 { return 1000 }))
	ctx := context.Background()

	err := st.PutBattle(ctx, store.BattleRecord{
		ID: "b2", TerritoryID: "ruins",
		Attacker: "ravagers", Defender: "outcasts",
		AttackerStrength: 0.7, DefenderStrength: 0.7,
		Status: store.BattleInProgress, StartedAt: 900,
	})
	if err != nil {
		t.Fatalf("seed battle: %v", err)
	}

	res, err := eng.Tick(ctx, 1)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.BattlesResolved != 0 {
		t.Errorf("even battle resolved in one hour")
	}

	b, err := st.GetBattle(ctx, "b2")
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if b.Status != store.BattleInProgress {
		t.Errorf("status = %s, want %s", b.Status, store.BattleInProgress)
	}
	if b.AttackerStrength >= 0.7 || b.DefenderStrength >= 0.7 {
		t.Errorf("no attrition applied: %v vs %v", b.AttackerStrength, b.DefenderStrength)
	}
	if b.Casualties == 0 {
		t.Error("no casualties from attrition")
	}
}

func TestTick_RollsRoutesOncePerDay(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	eng := faction.NewEngine(st, faction.WithClock(func() int64 { return 1000 }))
	ctx := context.Background()

	putFaction(t, st, "steel_pact", 0)
	putFaction(t, st, "ashen_guild", 0)
	putAgent(t, st, "marn", "steel_pact")
	putAgent(t, st, "sela", "ashen_guild")

	err := st.PutRoute(ctx, store.TradeRouteRecord{
		ID: "r1", FromAgent: "marn", ToAgent: "sela",
		Goods: []string{"food"}, ProfitMargin: 0.2, RiskLevel: 0,
		Status: store.RouteActive, CreatedAt: 900,
	})
	if err != nil {
		t.Fatalf("seed route: %v", err)
	}

	// Half a day: no roll yet.
	res, err := eng.Tick(ctx, 12)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.TradesExecuted != 0 {
		t.Errorf("trade rolled before a full day elapsed")
	}

	// The second half completes the day; zero risk always succeeds.
	res, err = eng.Tick(ctx, 12)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.TradesExecuted != 1 {
		t.Fatalf("TradesExecuted = %d, want 1", res.TradesExecuted)
	}

	rt, err := st.GetRoute(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoute: %v", err)
	}
	if rt.TotalTrades != 1 {
		t.Errorf("TotalTrades = %d, want 1", rt.TotalTrades)
	}
	for _, id := range []string{"steel_pact", "ashen_guild"} {
		f, err := st.GetFaction(ctx, id)
		if err != nil {
			t.Fatalf("GetFaction %s: %v", id, err)
		}
		if math.Abs(f.Resources-20) > 1e-9 {
			t.Errorf("%s resources = %v, want 20", id, f.Resources)
		}
	}

	// Two more days, two more trades.
	res, err = eng.Tick(ctx, 48)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.TradesExecuted != 2 {
		t.Errorf("TradesExecuted = %d, want 2", res.TradesExecuted)
	}
}

func TestTick_DisruptsMaxRiskRoute(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	eng := faction.NewEngine(st, faction.WithClock(func() int64 { return 1000 }))
	ctx := context.Background()

	err := st.PutRoute(ctx, store.TradeRouteRecord{
		ID: "r2", FromAgent: "marn", ToAgent: "sela",
		Goods: []string{"weapons"}, ProfitMargin: 0.1, RiskLevel: 1.0,
		Status: store.RouteActive, CreatedAt: 900,
	})
	if err != nil {
		t.Fatalf("seed route: %v", err)
	}

	res, err := eng.Tick(ctx, 24)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.RoutesDisrupted != 1 {
		t.Fatalf("RoutesDisrupted = %d, want 1", res.RoutesDisrupted)
	}

	rt, err := st.GetRoute(ctx, "r2")
	if err != nil {
		t.Fatalf("GetRoute: %v", err)
	}
	if rt.Status != store.RouteDisrupted {
		t.Errorf("status = %s, want %s", rt.Status, store.RouteDisrupted)
	}

	events, err := st.ListWorldEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListWorldEvents: %v", err)
	}
	var found bool
	for _, evt := range events {
		if evt.Kind == "route_disrupted" {
			found = true
		}
	}
	if !found {
		t.Error("route disruption not recorded as world event")
	}
}
