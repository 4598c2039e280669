// Package store persists the simulation's durable state in an embedded
// SQLite database: agents, memories, rumors, relations, reputation,
// factions, territories, trade routes, battles, quests, goals, world
// events and the trait delta log.
//
// All access goes through a single *Store. SQLite runs in WAL mode with a
// 5 s busy timeout; writes that still collide are retried with exponential
// backoff before being surfaced as ErrUnavailable. Schema changes are
// forward-only and gated by a version row in the meta table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	schemaVersion = 1

	// Busy-retry policy for writes on top of the driver's busy_timeout.
	retryBaseDelay  = 100 * time.Millisecond
	retryMaxDelay   = 5 * time.Second
	retryMaxAttempt = 5
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrUnavailable is returned when a write keeps failing after the
	// busy-retry budget is exhausted.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store wraps the SQLite connection shared by every engine.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the database at path and migrates it to the
// current schema version. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection sidesteps table-lock races between the
	// write-behind flusher and foreground writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	role                TEXT NOT NULL DEFAULT '',
	persona             TEXT NOT NULL DEFAULT '',
	zone                TEXT NOT NULL DEFAULT '',
	pos_x               REAL NOT NULL DEFAULT 0,
	pos_y               REAL NOT NULL DEFAULT 0,
	pos_z               REAL NOT NULL DEFAULT 0,
	has_position        INTEGER NOT NULL DEFAULT 0,
	traits_json         TEXT NOT NULL DEFAULT '{}',
	hunger              REAL NOT NULL DEFAULT 0.2,
	fatigue             REAL NOT NULL DEFAULT 0.3,
	mood_label          TEXT NOT NULL DEFAULT 'calm',
	arousal             REAL NOT NULL DEFAULT 0.3,
	valence             REAL NOT NULL DEFAULT 0.5,
	faction_id          TEXT NOT NULL DEFAULT '',
	voice_fingerprint   TEXT NOT NULL DEFAULT '',
	created_at          INTEGER NOT NULL,
	last_interaction_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id                 TEXT PRIMARY KEY,
	owner_agent        TEXT NOT NULL,
	subject_id         TEXT NOT NULL,
	category           TEXT NOT NULL,
	content            TEXT NOT NULL,
	strength           REAL NOT NULL,
	emotional_weight   REAL NOT NULL,
	source             TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL,
	last_referenced_at INTEGER NOT NULL,
	ref_count          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rumors (
	id         TEXT PRIMARY KEY,
	about      TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_by TEXT NOT NULL,
	strength   REAL NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rumor_hearings (
	rumor_id   TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	heard_from TEXT NOT NULL,
	belief     REAL NOT NULL,
	heard_at   INTEGER NOT NULL,
	PRIMARY KEY (rumor_id, agent_id)
);

CREATE TABLE IF NOT EXISTS relations (
	agent_a             TEXT NOT NULL,
	agent_b             TEXT NOT NULL,
	trust_ab            REAL NOT NULL DEFAULT 0,
	trust_ba            REAL NOT NULL DEFAULT 0,
	familiarity         REAL NOT NULL DEFAULT 0,
	last_interaction_at INTEGER NOT NULL,
	PRIMARY KEY (agent_a, agent_b)
);

CREATE TABLE IF NOT EXISTS reputation (
	player_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	score      REAL NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (player_id, target_id)
);

CREATE TABLE IF NOT EXISTS factions (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	values_json TEXT NOT NULL DEFAULT '[]',
	resources   REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS faction_relations (
	faction_a  TEXT NOT NULL,
	faction_b  TEXT NOT NULL,
	score      REAL NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (faction_a, faction_b)
);

CREATE TABLE IF NOT EXISTS territories (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	controlling_faction TEXT NOT NULL DEFAULT '',
	control_strength    REAL NOT NULL DEFAULT 1.0,
	strategic_value     REAL NOT NULL DEFAULT 0.5,
	contested           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trade_routes (
	id            TEXT PRIMARY KEY,
	from_agent    TEXT NOT NULL,
	to_agent      TEXT NOT NULL,
	goods_json    TEXT NOT NULL DEFAULT '[]',
	profit_margin REAL NOT NULL,
	risk_level    REAL NOT NULL,
	status        TEXT NOT NULL,
	total_trades  INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS battles (
	id                TEXT PRIMARY KEY,
	territory_id      TEXT NOT NULL,
	attacker          TEXT NOT NULL,
	defender          TEXT NOT NULL,
	attacker_strength REAL NOT NULL,
	defender_strength REAL NOT NULL,
	status            TEXT NOT NULL,
	casualties        INTEGER NOT NULL DEFAULT 0,
	started_at        INTEGER NOT NULL,
	ended_at          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quests (
	id          TEXT PRIMARY KEY,
	giver_agent TEXT NOT NULL,
	player_id   TEXT NOT NULL,
	quest_type  TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL,
	difficulty  TEXT NOT NULL,
	rewards_json TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS goals (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	goal_type   TEXT NOT NULL,
	description TEXT NOT NULL,
	priority    REAL NOT NULL,
	progress    REAL NOT NULL DEFAULT 0,
	deadline    INTEGER NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS world_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ts           INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS trait_deltas (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id   TEXT NOT NULL,
	trait      TEXT NOT NULL,
	from_value REAL NOT NULL,
	to_value   REAL NOT NULL,
	delta      REAL NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_owner_subject    ON memories(owner_agent, subject_id);
CREATE INDEX IF NOT EXISTS idx_memories_owner_referenced ON memories(owner_agent, last_referenced_at);
CREATE INDEX IF NOT EXISTS idx_memories_subject          ON memories(subject_id);
CREATE INDEX IF NOT EXISTS idx_agents_zone               ON agents(zone);
CREATE INDEX IF NOT EXISTS idx_agents_faction            ON agents(faction_id);
CREATE INDEX IF NOT EXISTS idx_rumor_hearings_agent      ON rumor_hearings(agent_id);
CREATE INDEX IF NOT EXISTS idx_quests_player             ON quests(player_id, status);
CREATE INDEX IF NOT EXISTS idx_goals_agent               ON goals(agent_id, status);
CREATE INDEX IF NOT EXISTS idx_trait_deltas_agent        ON trait_deltas(agent_id, id);
CREATE INDEX IF NOT EXISTS idx_battles_territory         ON battles(territory_id, status);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	current, err := s.metaInt("schema_version")
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, schemaVersion)
	}
	// Forward-only: future versions add ALTER steps here keyed on current.
	return s.SetMeta("schema_version", strconv.Itoa(schemaVersion))
}

// ── meta ──

// GetMeta returns the value for key, or "" when unset.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.Get(&value, `SELECT value FROM meta WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a meta key.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %s: %w", key, err)
	}
	return nil
}

func (s *Store) metaInt(key string) (int, error) {
	raw, err := s.GetMeta(key)
	if err != nil || raw == "" {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("store: meta %s=%q is not an integer: %w", key, raw, err)
	}
	return n, nil
}

// ── busy retry ──

// withRetry runs f, retrying on SQLITE_BUSY/LOCKED with exponential
// backoff (100 ms base, 5 s cap, 5 attempts) plus jitter. Exhaustion is
// reported as ErrUnavailable wrapping the last error.
func (s *Store) withRetry(ctx context.Context, f func() error) error {
	var err error
	for attempt := 0; attempt <= retryMaxAttempt; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isBusy(err) || attempt == retryMaxAttempt {
			break
		}
		delay := retryBaseDelay << uint(attempt)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		// ±25% jitter keeps concurrent writers from re-colliding.
		delay = delay - delay/4 + time.Duration(rand.IntN(int(delay/2)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if isBusy(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// isBusy reports whether err is a SQLite BUSY (5) or LOCKED (6) error.
// The driver formats these codes into the message, so string matching
// avoids depending on driver internals.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func unixNow() int64 { return time.Now().Unix() }
