package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// worldEventKeep bounds the world_events table; older rows are trimmed
// on append.
const worldEventKeep = 1000

// WorldEventRecord is one background happening (battle started, route
// disrupted, rumor spawned, ...) kept in a bounded ring.
type WorldEventRecord struct {
	ID      int64
	TS      int64
	Kind    string
	Payload map[string]any
}

type worldEventRow struct {
	ID          int64  `db:"id"`
	TS          int64  `db:"ts"`
	Kind        string `db:"kind"`
	PayloadJSON string `db:"payload_json"`
}

func (r worldEventRow) toRecord() (WorldEventRecord, error) {
	rec := WorldEventRecord{ID: r.ID, TS: r.TS, Kind: r.Kind}
	if r.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(r.PayloadJSON), &rec.Payload); err != nil {
			return rec, fmt.Errorf("store: event %d payload: %w", r.ID, err)
		}
	}
	return rec, nil
}

// AppendWorldEvent appends an event and trims the ring to its bound.
func (s *Store) AppendWorldEvent(ctx context.Context, e WorldEventRecord) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal event payload: %w", err)
	}
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO world_events (ts, kind, payload_json) VALUES (?, ?, ?)`,
			e.TS, e.Kind, string(payload)); err != nil {
			return fmt.Errorf("store: append event %s: %w", e.Kind, err)
		}
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM world_events WHERE id <= (
				SELECT MAX(id) - ? FROM world_events)`, worldEventKeep); err != nil {
			return fmt.Errorf("store: trim events: %w", err)
		}
		return nil
	})
}

// ListWorldEvents returns the most recent events, newest first.
func (s *Store) ListWorldEvents(ctx context.Context, limit int) ([]WorldEventRecord, error) {
	if limit <= 0 || limit > worldEventKeep {
		limit = worldEventKeep
	}
	var rows []worldEventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM world_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	recs := make([]WorldEventRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
