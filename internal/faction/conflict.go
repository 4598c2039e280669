package faction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/store"
)

// tradeGoods is the catalogue routes draw their cargo from.
var tradeGoods = []string{
	"food", "weapons", "medicine", "tools",
	"luxury_goods", "raw_materials", "information",
}

// StartBattle opens a contest for a territory. The attacker moves on
// whichever faction currently controls it; strengths are rolled with a
// slight defender edge and the battle then grinds across ticks until
// one side collapses or [Engine.ResolveBattle] forces a decision.
func (e *Engine) StartBattle(ctx context.Context, territoryID, attacker string) (store.BattleRecord, error) {
	terr, err := e.store.GetTerritory(ctx, territoryID)
	if err != nil {
		return store.BattleRecord{}, err
	}
	defender := terr.ControllingFaction
	if defender == "" {
		return store.BattleRecord{}, fmt.Errorf("faction: territory %s is uncontrolled", territoryID)
	}
	if defender == attacker {
		return store.BattleRecord{}, fmt.Errorf("faction: %s already controls %s", attacker, territoryID)
	}

	b := store.BattleRecord{
		ID:               uuid.NewString(),
		TerritoryID:      territoryID,
		Attacker:         attacker,
		Defender:         defender,
		AttackerStrength: e.between(0.4, 0.8),
		DefenderStrength: e.between(0.5, 0.9),
		Status:           store.BattleInProgress,
		StartedAt:        e.now(),
	}
	if err := e.store.PutBattle(ctx, b); err != nil {
		return store.BattleRecord{}, fmt.Errorf("faction: start battle: %w", err)
	}

	terr.Contested = true
	if err := e.store.PutTerritory(ctx, terr); err != nil {
		return store.BattleRecord{}, fmt.Errorf("faction: start battle: %w", err)
	}

	e.recordWorldEvent(ctx, "battle_started", map[string]any{
		"battle_id": b.ID,
		"territory": territoryID,
		"attacker":  attacker,
		"defender":  defender,
	})
	e.events.Publish(bus.TopicTerritoryUpdate, TerritoryUpdate{
		Territory: terr,
		BattleID:  b.ID,
		Status:    store.BattleInProgress,
	})
	slog.Info("faction: battle started",
		"battle", b.ID, "territory", territoryID, "attacker", attacker, "defender", defender)
	return b, nil
}

// ResolveBattle forces an immediate decision on an open battle with a
// single combat roll. The attacker swings wider, the defender rolls
// steadier; the winner takes the territory.
func (e *Engine) ResolveBattle(ctx context.Context, battleID string) (store.BattleRecord, error) {
	b, err := e.store.GetBattle(ctx, battleID)
	if err != nil {
		return store.BattleRecord{}, err
	}
	if b.Status != store.BattleInProgress {
		return store.BattleRecord{}, fmt.Errorf("faction: battle %s already %s", battleID, b.Status)
	}
	terr, err := e.store.GetTerritory(ctx, b.TerritoryID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.BattleRecord{}, fmt.Errorf("faction: resolve battle %s: %w", battleID, err)
	}

	attEff := b.AttackerStrength * e.morale(ctx, b.Attacker) * territoryBonus(terr, b.Attacker)
	defEff := b.DefenderStrength * e.morale(ctx, b.Defender) * territoryBonus(terr, b.Defender)
	b.Casualties += int(math.Round(battleAttrition * (attEff + defEff) * casualtyScale))

	winner := b.Defender
	b.Status = store.BattleDefenderWon
	if attEff*e.between(0.8, 1.2) > defEff*e.between(0.9, 1.1) {
		winner = b.Attacker
		b.Status = store.BattleAttackerWon
	}
	if err := e.concludeBattle(ctx, &b, terr, winner); err != nil {
		return store.BattleRecord{}, err
	}
	return b, nil
}

// EstablishRoute opens an active trade route between two agents with
// rolled cargo, margin and risk.
func (e *Engine) EstablishRoute(ctx context.Context, fromAgent, toAgent string) (store.TradeRouteRecord, error) {
	if fromAgent == toAgent {
		return store.TradeRouteRecord{}, fmt.Errorf("faction: route needs two distinct agents")
	}
	for _, id := range []string{fromAgent, toAgent} {
		if _, err := e.store.GetAgent(ctx, id); err != nil {
			return store.TradeRouteRecord{}, err
		}
	}

	rt := store.TradeRouteRecord{
		ID:           uuid.NewString(),
		FromAgent:    fromAgent,
		ToAgent:      toAgent,
		Goods:        e.sampleGoods(),
		ProfitMargin: e.between(0.05, 0.25),
		RiskLevel:    e.between(0.1, 0.5),
		Status:       store.RouteActive,
		CreatedAt:    e.now(),
	}
	if err := e.store.PutRoute(ctx, rt); err != nil {
		return store.TradeRouteRecord{}, fmt.Errorf("faction: establish route: %w", err)
	}

	e.recordWorldEvent(ctx, "route_established", map[string]any{
		"route_id": rt.ID,
		"from":     fromAgent,
		"to":       toAgent,
		"goods":    rt.Goods,
	})
	slog.Info("faction: route established",
		"route", rt.ID, "from", fromAgent, "to", toAgent, "goods", rt.Goods)
	return rt, nil
}

// ExecuteTrade forces one trade roll on an active route regardless of
// the daily cadence. Returns the updated route and the roll outcome.
func (e *Engine) ExecuteTrade(ctx context.Context, routeID string) (store.TradeRouteRecord, string, error) {
	rt, err := e.store.GetRoute(ctx, routeID)
	if err != nil {
		return store.TradeRouteRecord{}, "", err
	}
	if rt.Status != store.RouteActive {
		return store.TradeRouteRecord{}, "", fmt.Errorf("faction: route %s is %s", routeID, rt.Status)
	}
	outcome, err := e.rollRoute(ctx, &rt)
	if err != nil {
		return store.TradeRouteRecord{}, "", err
	}
	return rt, outcome, nil
}

// DisruptRoute suspends an active route (a raid, a blockade, a story
// beat). Disrupting an already disrupted route is a no-op.
func (e *Engine) DisruptRoute(ctx context.Context, routeID string) (store.TradeRouteRecord, error) {
	rt, err := e.store.GetRoute(ctx, routeID)
	if err != nil {
		return store.TradeRouteRecord{}, err
	}
	switch rt.Status {
	case store.RouteRetired:
		return store.TradeRouteRecord{}, fmt.Errorf("faction: route %s is retired", routeID)
	case store.RouteDisrupted:
		return rt, nil
	}

	rt.Status = store.RouteDisrupted
	if err := e.store.PutRoute(ctx, rt); err != nil {
		return store.TradeRouteRecord{}, fmt.Errorf("faction: disrupt route %s: %w", routeID, err)
	}
	e.recordWorldEvent(ctx, "route_disrupted", map[string]any{
		"route_id": rt.ID,
		"from":     rt.FromAgent,
		"to":       rt.ToAgent,
		"goods":    rt.Goods,
	})
	return rt, nil
}

// RestoreRoute reopens a disrupted route. Restoring an active route is
// a no-op; a retired route stays retired.
func (e *Engine) RestoreRoute(ctx context.Context, routeID string) (store.TradeRouteRecord, error) {
	rt, err := e.store.GetRoute(ctx, routeID)
	if err != nil {
		return store.TradeRouteRecord{}, err
	}
	switch rt.Status {
	case store.RouteRetired:
		return store.TradeRouteRecord{}, fmt.Errorf("faction: route %s is retired", routeID)
	case store.RouteActive:
		return rt, nil
	}

	rt.Status = store.RouteActive
	if err := e.store.PutRoute(ctx, rt); err != nil {
		return store.TradeRouteRecord{}, fmt.Errorf("faction: restore route %s: %w", routeID, err)
	}
	e.recordWorldEvent(ctx, "route_restored", map[string]any{
		"route_id": rt.ID,
		"from":     rt.FromAgent,
		"to":       rt.ToAgent,
	})
	return rt, nil
}

// sampleGoods picks one to three distinct goods for a new route.
func (e *Engine) sampleGoods() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 1 + e.rng.IntN(3)
	picks := e.rng.Perm(len(tradeGoods))[:n]
	out := make([]string, n)
	for i, p := range picks {
		out[i] = tradeGoods[p]
	}
	return out
}
