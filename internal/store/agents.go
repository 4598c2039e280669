package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// AgentRecord is the persisted shape of an agent. Traits hold the eight
// personality axes; timestamps are Unix seconds.
type AgentRecord struct {
	ID                string
	Name              string
	Role              string
	Persona           string
	Zone              string
	X, Y, Z           float64
	HasPosition       bool
	Traits            map[string]float64
	Hunger            float64
	Fatigue           float64
	MoodLabel         string
	Arousal           float64
	Valence           float64
	FactionID         string
	VoiceFingerprint  string
	CreatedAt         int64
	LastInteractionAt int64
}

type agentRow struct {
	ID                string  `db:"id"`
	Name              string  `db:"name"`
	Role              string  `db:"role"`
	Persona           string  `db:"persona"`
	Zone              string  `db:"zone"`
	PosX              float64 `db:"pos_x"`
	PosY              float64 `db:"pos_y"`
	PosZ              float64 `db:"pos_z"`
	HasPosition       bool    `db:"has_position"`
	TraitsJSON        string  `db:"traits_json"`
	Hunger            float64 `db:"hunger"`
	Fatigue           float64 `db:"fatigue"`
	MoodLabel         string  `db:"mood_label"`
	Arousal           float64 `db:"arousal"`
	Valence           float64 `db:"valence"`
	FactionID         string  `db:"faction_id"`
	VoiceFingerprint  string  `db:"voice_fingerprint"`
	CreatedAt         int64   `db:"created_at"`
	LastInteractionAt int64   `db:"last_interaction_at"`
}

func (r agentRow) toRecord() (AgentRecord, error) {
	rec := AgentRecord{
		ID: r.ID, Name: r.Name, Role: r.Role, Persona: r.Persona,
		Zone: r.Zone, X: r.PosX, Y: r.PosY, Z: r.PosZ, HasPosition: r.HasPosition,
		Hunger: r.Hunger, Fatigue: r.Fatigue,
		MoodLabel: r.MoodLabel, Arousal: r.Arousal, Valence: r.Valence,
		FactionID: r.FactionID, VoiceFingerprint: r.VoiceFingerprint,
		CreatedAt: r.CreatedAt, LastInteractionAt: r.LastInteractionAt,
	}
	if r.TraitsJSON != "" {
		if err := json.Unmarshal([]byte(r.TraitsJSON), &rec.Traits); err != nil {
			return rec, fmt.Errorf("store: agent %s traits: %w", r.ID, err)
		}
	}
	return rec, nil
}

// PutAgent inserts or fully replaces an agent record.
func (s *Store) PutAgent(ctx context.Context, rec AgentRecord) error {
	traits, err := json.Marshal(rec.Traits)
	if err != nil {
		return fmt.Errorf("store: marshal traits for %s: %w", rec.ID, err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (
				id, name, role, persona, zone, pos_x, pos_y, pos_z, has_position,
				traits_json, hunger, fatigue, mood_label, arousal, valence,
				faction_id, voice_fingerprint, created_at, last_interaction_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				role = excluded.role,
				persona = excluded.persona,
				zone = excluded.zone,
				pos_x = excluded.pos_x,
				pos_y = excluded.pos_y,
				pos_z = excluded.pos_z,
				has_position = excluded.has_position,
				traits_json = excluded.traits_json,
				hunger = excluded.hunger,
				fatigue = excluded.fatigue,
				mood_label = excluded.mood_label,
				arousal = excluded.arousal,
				valence = excluded.valence,
				faction_id = excluded.faction_id,
				voice_fingerprint = excluded.voice_fingerprint,
				last_interaction_at = excluded.last_interaction_at`,
			rec.ID, rec.Name, rec.Role, rec.Persona, rec.Zone,
			rec.X, rec.Y, rec.Z, rec.HasPosition,
			string(traits), rec.Hunger, rec.Fatigue,
			rec.MoodLabel, rec.Arousal, rec.Valence,
			rec.FactionID, rec.VoiceFingerprint,
			rec.CreatedAt, rec.LastInteractionAt)
		if err != nil {
			return fmt.Errorf("store: put agent %s: %w", rec.ID, err)
		}
		return nil
	})
}

// GetAgent returns the agent with the given id, or ErrNotFound.
func (s *Store) GetAgent(ctx context.Context, id string) (AgentRecord, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentRecord{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return AgentRecord{}, fmt.Errorf("store: get agent %s: %w", id, err)
	}
	return row.toRecord()
}

// AgentFilter narrows ListAgents. Zero values match everything.
type AgentFilter struct {
	Zone      string
	FactionID string
	Limit     int
	Offset    int
}

// ListAgents returns agents matching the filter, ordered by name.
func (s *Store) ListAgents(ctx context.Context, filter AgentFilter) ([]AgentRecord, error) {
	query := `SELECT * FROM agents WHERE 1=1`
	args := []any{}
	if filter.Zone != "" {
		query += ` AND zone = ?`
		args = append(args, filter.Zone)
	}
	if filter.FactionID != "" {
		query += ` AND faction_id = ?`
		args = append(args, filter.FactionID)
	}
	query += ` ORDER BY name`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	recs := make([]AgentRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// CountAgents returns the total number of agents.
func (s *Store) CountAgents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM agents`); err != nil {
		return 0, fmt.Errorf("store: count agents: %w", err)
	}
	return n, nil
}

// UpdateAgentVitals writes the coalesced vitals/mood snapshot for an
// agent. Called by the write-behind flusher.
func (s *Store) UpdateAgentVitals(ctx context.Context, u VitalsUpdate) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE agents SET
				hunger = ?, fatigue = ?,
				mood_label = ?, arousal = ?, valence = ?,
				last_interaction_at = MAX(last_interaction_at, ?)
			WHERE id = ?`,
			u.Hunger, u.Fatigue, u.MoodLabel, u.Arousal, u.Valence,
			u.LastInteractionAt, u.AgentID)
		if err != nil {
			return fmt.Errorf("store: update vitals %s: %w", u.AgentID, err)
		}
		return nil
	})
}

// UpdateAgentPosition moves an agent to a zone coordinate.
func (s *Store) UpdateAgentPosition(ctx context.Context, id, zone string, x, y, z float64) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE agents SET zone = ?, pos_x = ?, pos_y = ?, pos_z = ?, has_position = 1
			WHERE id = ?`, zone, x, y, z, id)
		if err != nil {
			return fmt.Errorf("store: update position %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// DeleteAgent removes an agent and its dependent rows.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: delete agent %s: begin: %w", id, err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete agent %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		for _, stmt := range []string{
			`DELETE FROM memories WHERE owner_agent = ?`,
			`DELETE FROM goals WHERE agent_id = ?`,
			`DELETE FROM trait_deltas WHERE agent_id = ?`,
			`DELETE FROM rumor_hearings WHERE agent_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("store: delete agent %s rows: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE agent_a = ? OR agent_b = ?`, id, id); err != nil {
			return fmt.Errorf("store: delete agent %s relations: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: delete agent %s: commit: %w", id, err)
		}
		return nil
	})
}

// ── trait delta log ──

// TraitDeltaRecord is one append-only personality mutation entry.
type TraitDeltaRecord struct {
	ID        int64   `db:"id"`
	AgentID   string  `db:"agent_id"`
	Trait     string  `db:"trait"`
	FromValue float64 `db:"from_value"`
	ToValue   float64 `db:"to_value"`
	Delta     float64 `db:"delta"`
	Reason    string  `db:"reason"`
	TS        int64   `db:"ts"`
}

// AppendTraitDelta records a trait mutation in the delta log.
func (s *Store) AppendTraitDelta(ctx context.Context, d TraitDeltaRecord) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trait_deltas (agent_id, trait, from_value, to_value, delta, reason, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.AgentID, d.Trait, d.FromValue, d.ToValue, d.Delta, d.Reason, d.TS)
		if err != nil {
			return fmt.Errorf("store: append trait delta %s/%s: %w", d.AgentID, d.Trait, err)
		}
		return nil
	})
}

// ListTraitDeltas returns the most recent delta-log entries for an agent,
// newest first.
func (s *Store) ListTraitDeltas(ctx context.Context, agentID string, limit int) ([]TraitDeltaRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []TraitDeltaRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM trait_deltas WHERE agent_id = ?
		ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list trait deltas %s: %w", agentID, err)
	}
	return out, nil
}
