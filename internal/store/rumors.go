package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RumorRecord is a piece of hearsay about a player or agent. The spread
// set lives in rumor_hearings, one row per agent that heard it.
type RumorRecord struct {
	ID        string  `db:"id"`
	About     string  `db:"about"`
	Content   string  `db:"content"`
	CreatedBy string  `db:"created_by"`
	Strength  float64 `db:"strength"`
	CreatedAt int64   `db:"created_at"`
}

// RumorHearing records one agent hearing a rumor. Belief is 1.0 for the
// creator and scales with trust toward the teller for everyone else.
type RumorHearing struct {
	RumorID   string  `db:"rumor_id"`
	AgentID   string  `db:"agent_id"`
	HeardFrom string  `db:"heard_from"`
	Belief    float64 `db:"belief"`
	HeardAt   int64   `db:"heard_at"`
}

// InsertRumor stores a rumor and its creator's hearing in one
// transaction.
func (s *Store) InsertRumor(ctx context.Context, r RumorRecord) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: insert rumor: begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rumors (id, about, content, created_by, strength, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.About, r.Content, r.CreatedBy, r.Strength, r.CreatedAt); err != nil {
			return fmt.Errorf("store: insert rumor %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rumor_hearings (rumor_id, agent_id, heard_from, belief, heard_at)
			VALUES (?, ?, ?, 1.0, ?)`,
			r.ID, r.CreatedBy, r.CreatedBy, r.CreatedAt); err != nil {
			return fmt.Errorf("store: insert rumor %s hearing: %w", r.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: insert rumor %s: commit: %w", r.ID, err)
		}
		return nil
	})
}

// GetRumor returns a rumor by id, or ErrNotFound.
func (s *Store) GetRumor(ctx context.Context, id string) (RumorRecord, error) {
	var r RumorRecord
	err := s.db.GetContext(ctx, &r, `SELECT * FROM rumors WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return RumorRecord{}, fmt.Errorf("rumor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RumorRecord{}, fmt.Errorf("store: get rumor %s: %w", id, err)
	}
	return r, nil
}

// ListRumorsAbout returns live rumors about a subject, strongest first.
func (s *Store) ListRumorsAbout(ctx context.Context, about string, limit int) ([]RumorRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []RumorRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM rumors WHERE about = ? AND strength >= ?
		ORDER BY strength DESC LIMIT ?`, about, MemoryHiddenBelow, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list rumors about %s: %w", about, err)
	}
	return out, nil
}

// AddRumorHearing records that an agent heard a rumor. Re-hearing is a
// no-op so belief keeps its first-impression value.
func (s *Store) AddRumorHearing(ctx context.Context, h RumorHearing) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rumor_hearings (rumor_id, agent_id, heard_from, belief, heard_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(rumor_id, agent_id) DO NOTHING`,
			h.RumorID, h.AgentID, h.HeardFrom, h.Belief, h.HeardAt)
		if err != nil {
			return fmt.Errorf("store: add hearing %s/%s: %w", h.RumorID, h.AgentID, err)
		}
		return nil
	})
}

// ListRumorHearings returns who has heard a rumor.
func (s *Store) ListRumorHearings(ctx context.Context, rumorID string) ([]RumorHearing, error) {
	var out []RumorHearing
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM rumor_hearings WHERE rumor_id = ? ORDER BY heard_at`, rumorID)
	if err != nil {
		return nil, fmt.Errorf("store: list hearings %s: %w", rumorID, err)
	}
	return out, nil
}

// RumorsHeardBy returns the rumors an agent knows, with its belief.
func (s *Store) RumorsHeardBy(ctx context.Context, agentID string, limit int) ([]RumorRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []RumorRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT r.* FROM rumors r
		JOIN rumor_hearings h ON h.rumor_id = r.id
		WHERE h.agent_id = ? AND r.strength >= ?
		ORDER BY r.strength DESC LIMIT ?`, agentID, MemoryHiddenBelow, limit)
	if err != nil {
		return nil, fmt.Errorf("store: rumors heard by %s: %w", agentID, err)
	}
	return out, nil
}

// DecayRumors decays rumor strength the same way memories decay, with a
// neutral emotional weight, and prunes dead rumors.
func (s *Store) DecayRumors(ctx context.Context, lambda, deltaHours float64) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE rumors SET strength = strength * exp(-? * ? * 0.5)
			WHERE strength > 0`, lambda, deltaHours)
		if err != nil {
			return fmt.Errorf("store: decay rumors: %w", err)
		}
		n, _ = res.RowsAffected()
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM rumor_hearings WHERE rumor_id IN
				(SELECT id FROM rumors WHERE strength < ?)`, MemoryDeleteBelow); err != nil {
			return fmt.Errorf("store: prune rumor hearings: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM rumors WHERE strength < ?`, MemoryDeleteBelow); err != nil {
			return fmt.Errorf("store: prune rumors: %w", err)
		}
		return nil
	})
	return n, err
}
