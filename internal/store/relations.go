package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RelationRecord holds the pairwise social state between two agents,
// keyed by the ordered id pair (AgentA < AgentB). Familiarity is
// symmetric; trust is directed: TrustAB is A's trust toward B.
type RelationRecord struct {
	AgentA            string  `db:"agent_a"`
	AgentB            string  `db:"agent_b"`
	TrustAB           float64 `db:"trust_ab"`
	TrustBA           float64 `db:"trust_ba"`
	Familiarity       float64 `db:"familiarity"`
	LastInteractionAt int64   `db:"last_interaction_at"`
}

// OrderPair returns (a, b) sorted so relation rows have a canonical key.
func OrderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Trust returns from's trust toward the other agent on this row.
func (r RelationRecord) Trust(from string) float64 {
	if from == r.AgentA {
		return r.TrustAB
	}
	return r.TrustBA
}

// PutRelation inserts or replaces a relation row. Callers pass ids in any
// order; the canonical ordering is applied here.
func (s *Store) PutRelation(ctx context.Context, r RelationRecord) error {
	if r.AgentA > r.AgentB {
		r.AgentA, r.AgentB = r.AgentB, r.AgentA
		r.TrustAB, r.TrustBA = r.TrustBA, r.TrustAB
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO relations (agent_a, agent_b, trust_ab, trust_ba, familiarity, last_interaction_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_a, agent_b) DO UPDATE SET
				trust_ab = excluded.trust_ab,
				trust_ba = excluded.trust_ba,
				familiarity = excluded.familiarity,
				last_interaction_at = excluded.last_interaction_at`,
			r.AgentA, r.AgentB, r.TrustAB, r.TrustBA, r.Familiarity, r.LastInteractionAt)
		if err != nil {
			return fmt.Errorf("store: put relation %s/%s: %w", r.AgentA, r.AgentB, err)
		}
		return nil
	})
}

// GetRelation returns the relation between two agents, or ErrNotFound.
func (s *Store) GetRelation(ctx context.Context, a, b string) (RelationRecord, error) {
	a, b = OrderPair(a, b)
	var r RelationRecord
	err := s.db.GetContext(ctx, &r, `
		SELECT * FROM relations WHERE agent_a = ? AND agent_b = ?`, a, b)
	if errors.Is(err, sql.ErrNoRows) {
		return RelationRecord{}, fmt.Errorf("relation %s/%s: %w", a, b, ErrNotFound)
	}
	if err != nil {
		return RelationRecord{}, fmt.Errorf("store: get relation %s/%s: %w", a, b, err)
	}
	return r, nil
}

// ListRelations returns every relation row involving the agent.
func (s *Store) ListRelations(ctx context.Context, agentID string) ([]RelationRecord, error) {
	var out []RelationRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM relations WHERE agent_a = ? OR agent_b = ?
		ORDER BY familiarity DESC`, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list relations %s: %w", agentID, err)
	}
	return out, nil
}

// DriftRelations pulls every trust value toward zero by the given
// factor in one statement. factor = 0.5^(Δh/halfLife).
func (s *Store) DriftRelations(ctx context.Context, factor float64) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE relations SET trust_ab = trust_ab * ?, trust_ba = trust_ba * ?`,
			factor, factor)
		if err != nil {
			return fmt.Errorf("store: drift relations: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// ── reputation ──

// Reputation target kinds.
const (
	TargetAgent   = "agent"
	TargetFaction = "faction"
)

// ReputationRecord is a player's standing with one agent or faction.
type ReputationRecord struct {
	PlayerID   string  `db:"player_id"`
	TargetID   string  `db:"target_id"`
	TargetKind string  `db:"target_kind"`
	Score      float64 `db:"score"`
	UpdatedAt  int64   `db:"updated_at"`
}

// PutReputation upserts a reputation score, clamped to [-1, 1].
func (s *Store) PutReputation(ctx context.Context, r ReputationRecord) error {
	if r.Score > 1 {
		r.Score = 1
	} else if r.Score < -1 {
		r.Score = -1
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reputation (player_id, target_id, target_kind, score, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(player_id, target_id) DO UPDATE SET
				score = excluded.score,
				updated_at = excluded.updated_at`,
			r.PlayerID, r.TargetID, r.TargetKind, r.Score, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: put reputation %s/%s: %w", r.PlayerID, r.TargetID, err)
		}
		return nil
	})
}

// GetReputation returns a player's score with a target; unknown pairs
// read as 0.
func (s *Store) GetReputation(ctx context.Context, playerID, targetID string) (float64, error) {
	var score float64
	err := s.db.GetContext(ctx, &score, `
		SELECT score FROM reputation WHERE player_id = ? AND target_id = ?`,
		playerID, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: get reputation %s/%s: %w", playerID, targetID, err)
	}
	return score, nil
}

// ListReputation returns all of a player's standings.
func (s *Store) ListReputation(ctx context.Context, playerID string) ([]ReputationRecord, error) {
	var out []ReputationRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM reputation WHERE player_id = ? ORDER BY target_kind, target_id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("store: list reputation %s: %w", playerID, err)
	}
	return out, nil
}
