package faction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/agentfield/internal/bus"
	"github.com/MrWong99/agentfield/internal/store"
)

const (
	// battleCollapseRatio ends a battle once one side's effective
	// strength falls below this fraction of the other's.
	battleCollapseRatio = 0.4

	// battleAttrition is strength lost per simulated hour per point of
	// opposing effective strength.
	battleAttrition = 0.05

	// strengthFloor keeps a mauled side barely fighting instead of
	// going negative.
	strengthFloor = 0.05

	// winnerControl is the control strength a faction holds right
	// after taking a territory.
	winnerControl = 0.6

	// casualtyScale converts strength lost to counted casualties.
	casualtyScale = 100

	// routeRollEvery is how many simulated hours pass between trade
	// rolls on each active route.
	routeRollEvery = 24.0

	// tradeYield is the resource payout base; each successful trade
	// pays tradeYield x profit margin to each trader's faction.
	tradeYield = 100.0
)

// Trade roll outcomes.
const (
	TradeSuccess   = "success"
	TradeFailed    = "failed"
	TradeDisrupted = "disrupted"
)

// TickResult summarizes one background politics pass.
type TickResult struct {
	RelationsDrifted int64
	BattlesResolved  int
	TradesExecuted   int
	RoutesDisrupted  int
}

// Tick advances faction politics by the elapsed simulated hours.
// Standings decay toward zero with a 48-hour half-life unless pinned
// by an event since the previous tick, open battles grind through
// attrition and resolve when one side collapses, and each active trade
// route rolls once per simulated day for success or disruption.
func (e *Engine) Tick(ctx context.Context, hours float64) (TickResult, error) {
	var res TickResult
	if hours <= 0 {
		return res, nil
	}

	e.mu.Lock()
	cutoff := e.lastTickAt
	e.lastTickAt = e.now()
	e.routeHours += hours
	rolls := int(e.routeHours / routeRollEvery)
	e.routeHours -= float64(rolls) * routeRollEvery
	e.mu.Unlock()

	factor := math.Pow(0.5, hours/driftHalfLife)
	drifted, err := e.store.DriftFactionRelations(ctx, factor, cutoff)
	if err != nil {
		return res, fmt.Errorf("faction: tick: %w", err)
	}
	res.RelationsDrifted = drifted

	battles, err := e.store.ListBattles(ctx, store.BattleInProgress)
	if err != nil {
		return res, fmt.Errorf("faction: tick: %w", err)
	}
	for _, b := range battles {
		resolved, err := e.advanceBattle(ctx, b, hours)
		if err != nil {
			return res, err
		}
		if resolved {
			res.BattlesResolved++
		}
	}

	if rolls > 0 {
		routes, err := e.store.ListRoutes(ctx, store.RouteActive)
		if err != nil {
			return res, fmt.Errorf("faction: tick: %w", err)
		}
		for _, rt := range routes {
			for i := 0; i < rolls && rt.Status == store.RouteActive; i++ {
				outcome, err := e.rollRoute(ctx, &rt)
				if err != nil {
					return res, err
				}
				switch outcome {
				case TradeSuccess:
					res.TradesExecuted++
				case TradeDisrupted:
					res.RoutesDisrupted++
				}
			}
		}
	}

	slog.Debug("faction: tick",
		"hours", hours,
		"drifted", res.RelationsDrifted,
		"battles_resolved", res.BattlesResolved,
		"trades", res.TradesExecuted,
		"disrupted", res.RoutesDisrupted)
	return res, nil
}

// advanceBattle applies one tick of attrition and resolves the battle
// if either side has collapsed.
func (e *Engine) advanceBattle(ctx context.Context, b store.BattleRecord, hours float64) (bool, error) {
	terr, err := e.store.GetTerritory(ctx, b.TerritoryID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("faction: advance battle %s: %w", b.ID, err)
	}

	attEff := b.AttackerStrength * e.morale(ctx, b.Attacker) * territoryBonus(terr, b.Attacker)
	defEff := b.DefenderStrength * e.morale(ctx, b.Defender) * territoryBonus(terr, b.Defender)

	attLoss := battleAttrition * defEff * hours
	defLoss := battleAttrition * attEff * hours
	b.AttackerStrength = math.Max(strengthFloor, b.AttackerStrength-attLoss)
	b.DefenderStrength = math.Max(strengthFloor, b.DefenderStrength-defLoss)
	b.Casualties += int(math.Round((attLoss + defLoss) * casualtyScale))

	attEff = b.AttackerStrength * e.morale(ctx, b.Attacker) * territoryBonus(terr, b.Attacker)
	defEff = b.DefenderStrength * e.morale(ctx, b.Defender) * territoryBonus(terr, b.Defender)

	switch {
	case attEff < battleCollapseRatio*defEff:
		b.Status = store.BattleDefenderWon
		return true, e.concludeBattle(ctx, &b, terr, b.Defender)
	case defEff < battleCollapseRatio*attEff:
		b.Status = store.BattleAttackerWon
		return true, e.concludeBattle(ctx, &b, terr, b.Attacker)
	default:
		if err := e.store.PutBattle(ctx, b); err != nil {
			return false, fmt.Errorf("faction: advance battle %s: %w", b.ID, err)
		}
		return false, nil
	}
}

// concludeBattle finalizes a decided battle: the winner takes the
// territory at reduced control and the outcome is broadcast.
func (e *Engine) concludeBattle(ctx context.Context, b *store.BattleRecord, terr store.TerritoryRecord, winner string) error {
	b.EndedAt = e.now()
	if err := e.store.PutBattle(ctx, *b); err != nil {
		return fmt.Errorf("faction: conclude battle %s: %w", b.ID, err)
	}

	if terr.ID != "" {
		terr.ControllingFaction = winner
		terr.ControlStrength = winnerControl
		terr.Contested = false
		if err := e.store.PutTerritory(ctx, terr); err != nil {
			return fmt.Errorf("faction: conclude battle %s: %w", b.ID, err)
		}
		e.events.Publish(bus.TopicTerritoryUpdate, TerritoryUpdate{
			Territory: terr,
			BattleID:  b.ID,
			Status:    b.Status,
		})
	}

	e.recordWorldEvent(ctx, "battle_resolved", map[string]any{
		"battle_id":  b.ID,
		"territory":  b.TerritoryID,
		"winner":     winner,
		"status":     b.Status,
		"casualties": b.Casualties,
	})
	slog.Info("faction: battle resolved",
		"battle", b.ID, "territory", b.TerritoryID, "winner", winner, "casualties", b.Casualties)
	return nil
}

// rollRoute rolls one trade attempt on an active route, mutating rt in
// place so repeated rolls within a long tick see the outcome.
func (e *Engine) rollRoute(ctx context.Context, rt *store.TradeRouteRecord) (string, error) {
	if e.roll() < 1-rt.RiskLevel {
		if err := e.settleTrade(ctx, rt); err != nil {
			return "", err
		}
		return TradeSuccess, nil
	}
	// Failed runs only become disruptions when bandits strike twice;
	// overall disruption chance per roll is risk squared.
	if e.roll() < rt.RiskLevel {
		rt.Status = store.RouteDisrupted
		if err := e.store.PutRoute(ctx, *rt); err != nil {
			return "", fmt.Errorf("faction: disrupt route %s: %w", rt.ID, err)
		}
		e.recordWorldEvent(ctx, "route_disrupted", map[string]any{
			"route_id": rt.ID,
			"from":     rt.FromAgent,
			"to":       rt.ToAgent,
			"goods":    rt.Goods,
		})
		return TradeDisrupted, nil
	}
	return TradeFailed, nil
}

// settleTrade books a successful run: the trade counter bumps and each
// trader's faction banks the profit.
func (e *Engine) settleTrade(ctx context.Context, rt *store.TradeRouteRecord) error {
	rt.TotalTrades++
	if err := e.store.PutRoute(ctx, *rt); err != nil {
		return fmt.Errorf("faction: settle trade %s: %w", rt.ID, err)
	}

	profit := tradeYield * rt.ProfitMargin
	for _, agentID := range []string{rt.FromAgent, rt.ToAgent} {
		ag, err := e.store.GetAgent(ctx, agentID)
		if err != nil || ag.FactionID == "" {
			continue
		}
		f, err := e.store.GetFaction(ctx, ag.FactionID)
		if err != nil {
			continue
		}
		f.Resources += profit
		if err := e.store.PutFaction(ctx, f); err != nil {
			return fmt.Errorf("faction: settle trade %s: %w", rt.ID, err)
		}
	}
	return nil
}

// morale scales combat strength by faction wealth: a broke faction
// fights at 0.75, a rich one approaches 1.25.
func (e *Engine) morale(ctx context.Context, factionID string) float64 {
	f, err := e.store.GetFaction(ctx, factionID)
	if err != nil {
		return 0.75
	}
	return 0.75 + 0.5*(f.Resources/(f.Resources+100))
}

// territoryBonus favors the side that already holds the ground.
func territoryBonus(terr store.TerritoryRecord, factionID string) float64 {
	if terr.ID == "" || terr.ControllingFaction != factionID {
		return 1.0
	}
	return 1 + 0.25*terr.ControlStrength
}
