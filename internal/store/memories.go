package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Memory retrieval floor. Rows below it are invisible to queries and
// cleaned up once they fall under the deletion threshold.
const (
	MemoryHiddenBelow = 0.05
	MemoryDeleteBelow = 0.01
)

// MemoryRecord is one fact an agent holds about a player or another
// agent. Source is the teller's agent id for secondhand memories, ""
// for firsthand.
type MemoryRecord struct {
	ID               string  `db:"id"`
	OwnerAgent       string  `db:"owner_agent"`
	SubjectID        string  `db:"subject_id"`
	Category         string  `db:"category"`
	Content          string  `db:"content"`
	Strength         float64 `db:"strength"`
	EmotionalWeight  float64 `db:"emotional_weight"`
	Source           string  `db:"source"`
	CreatedAt        int64   `db:"created_at"`
	LastReferencedAt int64   `db:"last_referenced_at"`
	RefCount         int     `db:"ref_count"`
}

// Secondhand reports whether the memory was heard from another agent.
func (m MemoryRecord) Secondhand() bool { return m.Source != "" }

// InsertMemory stores a new memory row.
func (s *Store) InsertMemory(ctx context.Context, m MemoryRecord) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (
				id, owner_agent, subject_id, category, content,
				strength, emotional_weight, source,
				created_at, last_referenced_at, ref_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.OwnerAgent, m.SubjectID, m.Category, m.Content,
			m.Strength, m.EmotionalWeight, m.Source,
			m.CreatedAt, m.LastReferencedAt, m.RefCount)
		if err != nil {
			return fmt.Errorf("store: insert memory %s: %w", m.ID, err)
		}
		return nil
	})
}

// MemoryQuery narrows QueryMemories. Owner is required; the rest are
// optional. MinStrength below the hidden floor is raised to it.
type MemoryQuery struct {
	Owner       string
	Subject     string
	Category    string
	MinStrength float64
	Limit       int
}

// QueryMemories returns visible memories ranked by
// strength·(1 + 0.5·emotionalWeight) descending.
func (s *Store) QueryMemories(ctx context.Context, q MemoryQuery) ([]MemoryRecord, error) {
	if q.MinStrength < MemoryHiddenBelow {
		q.MinStrength = MemoryHiddenBelow
	}
	if q.Limit <= 0 {
		q.Limit = 8
	}
	query := `SELECT * FROM memories WHERE owner_agent = ? AND strength >= ?`
	args := []any{q.Owner, q.MinStrength}
	if q.Subject != "" {
		query += ` AND subject_id = ?`
		args = append(args, q.Subject)
	}
	if q.Category != "" {
		query += ` AND category = ?`
		args = append(args, q.Category)
	}
	query += ` ORDER BY strength * (1.0 + 0.5 * emotional_weight) DESC LIMIT ?`
	args = append(args, q.Limit)

	var out []MemoryRecord
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("store: query memories %s: %w", q.Owner, err)
	}
	return out, nil
}

// QueryMemoriesAbout returns every agent's visible memories about a
// subject, strongest first.
func (s *Store) QueryMemoriesAbout(ctx context.Context, subjectID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []MemoryRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM memories WHERE subject_id = ? AND strength >= ?
		ORDER BY strength DESC LIMIT ?`, subjectID, MemoryHiddenBelow, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query memories about %s: %w", subjectID, err)
	}
	return out, nil
}

// GetMemory returns a single memory by id, or ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, id string) (MemoryRecord, error) {
	var m MemoryRecord
	err := s.db.GetContext(ctx, &m, `SELECT * FROM memories WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryRecord{}, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("store: get memory %s: %w", id, err)
	}
	return m, nil
}

// HasMemory reports whether owner already holds a memory from source
// with identical content. Used to dedup gossip.
func (s *Store) HasMemory(ctx context.Context, owner, source, content string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM memories
		WHERE owner_agent = ? AND source = ? AND content = ?`, owner, source, content)
	if err != nil {
		return false, fmt.Errorf("store: has memory: %w", err)
	}
	return n > 0, nil
}

// ReinforceMemories applies s ← min(1, s + α·(1−s)) to the given rows,
// bumps refCount and stamps lastReferencedAt, in one statement.
func (s *Store) ReinforceMemories(ctx context.Context, ids []string, alpha float64, now int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE memories SET
			strength = MIN(1.0, strength + ? * (1.0 - strength)),
			ref_count = ref_count + 1,
			last_referenced_at = ?
		WHERE id IN (?)`, alpha, now, ids)
	if err != nil {
		return fmt.Errorf("store: reinforce: %w", err)
	}
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: reinforce %d memories: %w", len(ids), err)
		}
		return nil
	})
}

// DecayMemories applies s ← s·exp(−λ·Δh·(1−w)) to every memory in one
// UPDATE and returns the number of rows touched.
func (s *Store) DecayMemories(ctx context.Context, lambda, deltaHours float64) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE memories
			SET strength = strength * exp(-? * ? * (1.0 - emotional_weight))
			WHERE strength > 0`, lambda, deltaHours)
		if err != nil {
			return fmt.Errorf("store: decay memories: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// DeleteBelow removes memories whose strength fell under threshold and
// returns the number deleted.
func (s *Store) DeleteBelow(ctx context.Context, threshold float64) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE strength < ?`, threshold)
		if err != nil {
			return fmt.Errorf("store: delete below %.3f: %w", threshold, err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// StrengthUpdate pairs a memory id with its recomputed strength.
type StrengthUpdate struct {
	ID       string
	Strength float64
}

// BulkUpdateStrength writes precomputed strengths in a single
// transaction.
func (s *Store) BulkUpdateStrength(ctx context.Context, updates []StrengthUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: bulk strength: begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PreparexContext(ctx, `UPDATE memories SET strength = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("store: bulk strength: prepare: %w", err)
		}
		defer stmt.Close()

		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.Strength, u.ID); err != nil {
				return fmt.Errorf("store: bulk strength %s: %w", u.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: bulk strength: commit: %w", err)
		}
		return nil
	})
}

// CountMemories returns the number of rows still above the deletion
// threshold.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM memories`); err != nil {
		return 0, fmt.Errorf("store: count memories: %w", err)
	}
	return n, nil
}
