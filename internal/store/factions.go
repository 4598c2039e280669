package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// FactionRecord is one faction. Values are free-form descriptors such
// as "order" or "profit" that feed goal generation.
type FactionRecord struct {
	ID        string
	Name      string
	Values    []string
	Resources float64
}

type factionRow struct {
	ID         string  `db:"id"`
	Name       string  `db:"name"`
	ValuesJSON string  `db:"values_json"`
	Resources  float64 `db:"resources"`
}

func (r factionRow) toRecord() (FactionRecord, error) {
	rec := FactionRecord{ID: r.ID, Name: r.Name, Resources: r.Resources}
	if r.ValuesJSON != "" {
		if err := json.Unmarshal([]byte(r.ValuesJSON), &rec.Values); err != nil {
			return rec, fmt.Errorf("store: faction %s values: %w", r.ID, err)
		}
	}
	return rec, nil
}

// PutFaction inserts or replaces a faction.
func (s *Store) PutFaction(ctx context.Context, rec FactionRecord) error {
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("store: marshal faction %s values: %w", rec.ID, err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO factions (id, name, values_json, resources)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				values_json = excluded.values_json,
				resources = excluded.resources`,
			rec.ID, rec.Name, string(values), rec.Resources)
		if err != nil {
			return fmt.Errorf("store: put faction %s: %w", rec.ID, err)
		}
		return nil
	})
}

// GetFaction returns a faction by id, or ErrNotFound.
func (s *Store) GetFaction(ctx context.Context, id string) (FactionRecord, error) {
	var row factionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM factions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return FactionRecord{}, fmt.Errorf("faction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return FactionRecord{}, fmt.Errorf("store: get faction %s: %w", id, err)
	}
	return row.toRecord()
}

// ListFactions returns all factions ordered by id.
func (s *Store) ListFactions(ctx context.Context) ([]FactionRecord, error) {
	var rows []factionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM factions ORDER BY id`); err != nil {
		return nil, fmt.Errorf("store: list factions: %w", err)
	}
	recs := make([]FactionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// FactionRelationRecord is a directed faction standing row. Rows are
// stored per ordered pair with a single symmetric score.
type FactionRelationRecord struct {
	FactionA  string  `db:"faction_a"`
	FactionB  string  `db:"faction_b"`
	Score     float64 `db:"score"`
	UpdatedAt int64   `db:"updated_at"`
}

// PutFactionRelation upserts a faction standing, clamped to [-1, 1].
func (s *Store) PutFactionRelation(ctx context.Context, r FactionRelationRecord) error {
	if r.FactionA > r.FactionB {
		r.FactionA, r.FactionB = r.FactionB, r.FactionA
	}
	if r.Score > 1 {
		r.Score = 1
	} else if r.Score < -1 {
		r.Score = -1
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO faction_relations (faction_a, faction_b, score, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(faction_a, faction_b) DO UPDATE SET
				score = excluded.score,
				updated_at = excluded.updated_at`,
			r.FactionA, r.FactionB, r.Score, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: put faction relation %s/%s: %w", r.FactionA, r.FactionB, err)
		}
		return nil
	})
}

// GetFactionRelation returns the standing between two factions; unknown
// pairs read as 0.
func (s *Store) GetFactionRelation(ctx context.Context, a, b string) (float64, error) {
	a, b = OrderPair(a, b)
	var score float64
	err := s.db.GetContext(ctx, &score, `
		SELECT score FROM faction_relations WHERE faction_a = ? AND faction_b = ?`, a, b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: get faction relation %s/%s: %w", a, b, err)
	}
	return score, nil
}

// ListFactionRelations returns every standing row involving the faction.
func (s *Store) ListFactionRelations(ctx context.Context, factionID string) ([]FactionRelationRecord, error) {
	var out []FactionRelationRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM faction_relations WHERE faction_a = ? OR faction_b = ?`,
		factionID, factionID)
	if err != nil {
		return nil, fmt.Errorf("store: list faction relations %s: %w", factionID, err)
	}
	return out, nil
}

// DriftFactionRelations pulls every standing toward zero by the given
// factor in one statement, skipping rows touched at or after
// updatedBefore (pinned by a recent event).
func (s *Store) DriftFactionRelations(ctx context.Context, factor float64, updatedBefore int64) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE faction_relations SET score = score * ?
			WHERE updated_at < ?`, factor, updatedBefore)
		if err != nil {
			return fmt.Errorf("store: drift faction relations: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// ── territories ──

// TerritoryRecord is a contestable zone of the map.
type TerritoryRecord struct {
	ID                 string  `db:"id"`
	Name               string  `db:"name"`
	ControllingFaction string  `db:"controlling_faction"`
	ControlStrength    float64 `db:"control_strength"`
	StrategicValue     float64 `db:"strategic_value"`
	Contested          bool    `db:"contested"`
}

// PutTerritory inserts or replaces a territory.
func (s *Store) PutTerritory(ctx context.Context, t TerritoryRecord) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO territories (id, name, controlling_faction, control_strength, strategic_value, contested)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				controlling_faction = excluded.controlling_faction,
				control_strength = excluded.control_strength,
				strategic_value = excluded.strategic_value,
				contested = excluded.contested`,
			t.ID, t.Name, t.ControllingFaction, t.ControlStrength, t.StrategicValue, t.Contested)
		if err != nil {
			return fmt.Errorf("store: put territory %s: %w", t.ID, err)
		}
		return nil
	})
}

// GetTerritory returns a territory by id, or ErrNotFound.
func (s *Store) GetTerritory(ctx context.Context, id string) (TerritoryRecord, error) {
	var t TerritoryRecord
	err := s.db.GetContext(ctx, &t, `SELECT * FROM territories WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return TerritoryRecord{}, fmt.Errorf("territory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return TerritoryRecord{}, fmt.Errorf("store: get territory %s: %w", id, err)
	}
	return t, nil
}

// ListTerritories returns all territories ordered by id.
func (s *Store) ListTerritories(ctx context.Context) ([]TerritoryRecord, error) {
	var out []TerritoryRecord
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM territories ORDER BY id`); err != nil {
		return nil, fmt.Errorf("store: list territories: %w", err)
	}
	return out, nil
}

// ── trade routes ──

// Trade route lifecycle states.
const (
	RouteActive    = "active"
	RouteDisrupted = "disrupted"
	RouteRetired   = "retired"
)

// TradeRouteRecord is a recurring exchange between two agents.
type TradeRouteRecord struct {
	ID           string
	FromAgent    string
	ToAgent      string
	Goods        []string
	ProfitMargin float64
	RiskLevel    float64
	Status       string
	TotalTrades  int
	CreatedAt    int64
}

type tradeRouteRow struct {
	ID           string  `db:"id"`
	FromAgent    string  `db:"from_agent"`
	ToAgent      string  `db:"to_agent"`
	GoodsJSON    string  `db:"goods_json"`
	ProfitMargin float64 `db:"profit_margin"`
	RiskLevel    float64 `db:"risk_level"`
	Status       string  `db:"status"`
	TotalTrades  int     `db:"total_trades"`
	CreatedAt    int64   `db:"created_at"`
}

func (r tradeRouteRow) toRecord() (TradeRouteRecord, error) {
	rec := TradeRouteRecord{
		ID: r.ID, FromAgent: r.FromAgent, ToAgent: r.ToAgent,
		ProfitMargin: r.ProfitMargin, RiskLevel: r.RiskLevel,
		Status: r.Status, TotalTrades: r.TotalTrades, CreatedAt: r.CreatedAt,
	}
	if r.GoodsJSON != "" {
		if err := json.Unmarshal([]byte(r.GoodsJSON), &rec.Goods); err != nil {
			return rec, fmt.Errorf("store: route %s goods: %w", r.ID, err)
		}
	}
	return rec, nil
}

// PutRoute inserts or replaces a trade route.
func (s *Store) PutRoute(ctx context.Context, rec TradeRouteRecord) error {
	goods, err := json.Marshal(rec.Goods)
	if err != nil {
		return fmt.Errorf("store: marshal route %s goods: %w", rec.ID, err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trade_routes (id, from_agent, to_agent, goods_json, profit_margin, risk_level, status, total_trades, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				goods_json = excluded.goods_json,
				profit_margin = excluded.profit_margin,
				risk_level = excluded.risk_level,
				status = excluded.status,
				total_trades = excluded.total_trades`,
			rec.ID, rec.FromAgent, rec.ToAgent, string(goods),
			rec.ProfitMargin, rec.RiskLevel, rec.Status, rec.TotalTrades, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: put route %s: %w", rec.ID, err)
		}
		return nil
	})
}

// GetRoute returns a trade route by id, or ErrNotFound.
func (s *Store) GetRoute(ctx context.Context, id string) (TradeRouteRecord, error) {
	var row tradeRouteRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM trade_routes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRouteRecord{}, fmt.Errorf("route %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return TradeRouteRecord{}, fmt.Errorf("store: get route %s: %w", id, err)
	}
	return row.toRecord()
}

// ListRoutes returns routes, optionally filtered by status.
func (s *Store) ListRoutes(ctx context.Context, status string) ([]TradeRouteRecord, error) {
	query := `SELECT * FROM trade_routes`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	var rows []tradeRouteRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list routes: %w", err)
	}
	recs := make([]TradeRouteRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ── battles ──

// Battle lifecycle states.
const (
	BattleInProgress  = "in_progress"
	BattleAttackerWon = "attacker_won"
	BattleDefenderWon = "defender_won"
)

// BattleRecord is one territorial conflict.
type BattleRecord struct {
	ID               string  `db:"id"`
	TerritoryID      string  `db:"territory_id"`
	Attacker         string  `db:"attacker"`
	Defender         string  `db:"defender"`
	AttackerStrength float64 `db:"attacker_strength"`
	DefenderStrength float64 `db:"defender_strength"`
	Status           string  `db:"status"`
	Casualties       int     `db:"casualties"`
	StartedAt        int64   `db:"started_at"`
	EndedAt          int64   `db:"ended_at"`
}

// PutBattle inserts or replaces a battle.
func (s *Store) PutBattle(ctx context.Context, b BattleRecord) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO battles (id, territory_id, attacker, defender, attacker_strength, defender_strength, status, casualties, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				attacker_strength = excluded.attacker_strength,
				defender_strength = excluded.defender_strength,
				status = excluded.status,
				casualties = excluded.casualties,
				ended_at = excluded.ended_at`,
			b.ID, b.TerritoryID, b.Attacker, b.Defender,
			b.AttackerStrength, b.DefenderStrength, b.Status, b.Casualties,
			b.StartedAt, b.EndedAt)
		if err != nil {
			return fmt.Errorf("store: put battle %s: %w", b.ID, err)
		}
		return nil
	})
}

// GetBattle returns a battle by id, or ErrNotFound.
func (s *Store) GetBattle(ctx context.Context, id string) (BattleRecord, error) {
	var out BattleRecord
	err := s.db.GetContext(ctx, &out, `SELECT * FROM battles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return BattleRecord{}, fmt.Errorf("battle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return BattleRecord{}, fmt.Errorf("store: get battle %s: %w", id, err)
	}
	return out, nil
}

// ListBattles returns battles, optionally filtered by status.
func (s *Store) ListBattles(ctx context.Context, status string) ([]BattleRecord, error) {
	query := `SELECT * FROM battles`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`

	var out []BattleRecord
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("store: list battles: %w", err)
	}
	return out, nil
}
