package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Quest lifecycle states.
const (
	QuestAvailable = "available"
	QuestAccepted  = "accepted"
	QuestCompleted = "completed"
	QuestExpired   = "expired"
)

// QuestRecord is a quest an agent offers a player, generated from what
// the giver remembers about them.
type QuestRecord struct {
	ID          string
	GiverAgent  string
	PlayerID    string
	Type        string
	Title       string
	Description string
	Difficulty  string
	Rewards     map[string]float64
	Status      string
	CreatedAt   int64
	ExpiresAt   int64
}

type questRow struct {
	ID          string `db:"id"`
	GiverAgent  string `db:"giver_agent"`
	PlayerID    string `db:"player_id"`
	QuestType   string `db:"quest_type"`
	Title       string `db:"title"`
	Description string `db:"description"`
	Difficulty  string `db:"difficulty"`
	RewardsJSON string `db:"rewards_json"`
	Status      string `db:"status"`
	CreatedAt   int64  `db:"created_at"`
	ExpiresAt   int64  `db:"expires_at"`
}

func (r questRow) toRecord() (QuestRecord, error) {
	rec := QuestRecord{
		ID: r.ID, GiverAgent: r.GiverAgent, PlayerID: r.PlayerID,
		Type: r.QuestType, Title: r.Title, Description: r.Description,
		Difficulty: r.Difficulty, Status: r.Status,
		CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
	}
	if r.RewardsJSON != "" {
		if err := json.Unmarshal([]byte(r.RewardsJSON), &rec.Rewards); err != nil {
			return rec, fmt.Errorf("store: quest %s rewards: %w", r.ID, err)
		}
	}
	return rec, nil
}

// PutQuest inserts or replaces a quest.
func (s *Store) PutQuest(ctx context.Context, rec QuestRecord) error {
	rewards, err := json.Marshal(rec.Rewards)
	if err != nil {
		return fmt.Errorf("store: marshal quest %s rewards: %w", rec.ID, err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO quests (id, giver_agent, player_id, quest_type, title, description, difficulty, rewards_json, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				expires_at = excluded.expires_at`,
			rec.ID, rec.GiverAgent, rec.PlayerID, rec.Type, rec.Title,
			rec.Description, rec.Difficulty, string(rewards), rec.Status,
			rec.CreatedAt, rec.ExpiresAt)
		if err != nil {
			return fmt.Errorf("store: put quest %s: %w", rec.ID, err)
		}
		return nil
	})
}

// GetQuest returns a quest by id, or ErrNotFound.
func (s *Store) GetQuest(ctx context.Context, id string) (QuestRecord, error) {
	var row questRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM quests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return QuestRecord{}, fmt.Errorf("quest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return QuestRecord{}, fmt.Errorf("store: get quest %s: %w", id, err)
	}
	return row.toRecord()
}

// ListQuests returns a player's quests, optionally filtered by status.
func (s *Store) ListQuests(ctx context.Context, playerID, status string) ([]QuestRecord, error) {
	query := `SELECT * FROM quests WHERE player_id = ?`
	args := []any{playerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	var rows []questRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list quests %s: %w", playerID, err)
	}
	recs := make([]QuestRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// DueQuests returns available/accepted quests whose deadline has
// passed, oldest first. Callers pair it with [Store.ExpireQuests] to
// announce exactly what the sweep flipped.
func (s *Store) DueQuests(ctx context.Context, now int64) ([]QuestRecord, error) {
	var rows []questRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM quests
		WHERE expires_at <= ? AND status IN (?, ?)
		ORDER BY expires_at`,
		now, QuestAvailable, QuestAccepted)
	if err != nil {
		return nil, fmt.Errorf("store: due quests: %w", err)
	}
	recs := make([]QuestRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ExpireQuests marks overdue available/accepted quests expired and
// returns the number flipped.
func (s *Store) ExpireQuests(ctx context.Context, now int64) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE quests SET status = ?
			WHERE expires_at <= ? AND status IN (?, ?)`,
			QuestExpired, now, QuestAvailable, QuestAccepted)
		if err != nil {
			return fmt.Errorf("store: expire quests: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// ── goals ──

// Goal lifecycle states.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalAbandoned = "abandoned"
)

// GoalRecord is one autonomous objective an agent pursues.
type GoalRecord struct {
	ID          string  `db:"id"`
	AgentID     string  `db:"agent_id"`
	Type        string  `db:"goal_type"`
	Description string  `db:"description"`
	Priority    float64 `db:"priority"`
	Progress    float64 `db:"progress"`
	Deadline    int64   `db:"deadline"`
	Status      string  `db:"status"`
	CreatedAt   int64   `db:"created_at"`
}

// PutGoal inserts or replaces a goal.
func (s *Store) PutGoal(ctx context.Context, g GoalRecord) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO goals (id, agent_id, goal_type, description, priority, progress, deadline, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				priority = excluded.priority,
				progress = excluded.progress,
				deadline = excluded.deadline,
				status = excluded.status`,
			g.ID, g.AgentID, g.Type, g.Description, g.Priority, g.Progress,
			g.Deadline, g.Status, g.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: put goal %s: %w", g.ID, err)
		}
		return nil
	})
}

// ListGoals returns an agent's goals, optionally filtered by status,
// highest priority first.
func (s *Store) ListGoals(ctx context.Context, agentID, status string) ([]GoalRecord, error) {
	query := `SELECT * FROM goals WHERE agent_id = ?`
	args := []any{agentID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY priority DESC`

	var out []GoalRecord
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("store: list goals %s: %w", agentID, err)
	}
	return out, nil
}

// AbandonOverdueGoals marks active goals past their deadline abandoned
// and returns the number flipped.
func (s *Store) AbandonOverdueGoals(ctx context.Context, now int64) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE goals SET status = ?
			WHERE deadline > 0 AND deadline <= ? AND status = ?`,
			GoalAbandoned, now, GoalActive)
		if err != nil {
			return fmt.Errorf("store: abandon overdue goals: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
