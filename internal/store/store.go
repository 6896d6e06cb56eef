// Package store backs the persisted key-value contract plus the realtime
// event log and quality history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rt_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rt_quality (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id            TEXT NOT NULL,
	p95_cue_latency_ms    REAL NOT NULL,
	false_correction_rate REAL NOT NULL,
	fallback_rate         REAL NOT NULL,
	sample_count          INTEGER NOT NULL,
	recorded_at           TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct

// Store manages engine persistence in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by inspection tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region kv

// GetJSON reads a key into dest. found is false when the key is absent.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON upserts a key.
func (s *Store) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes a key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// #endregion kv

// #region event-log

// AppendEvent writes one validated realtime event to the log.
func (s *Store) AppendEvent(ctx context.Context, kind contracts.EventKind, payload contracts.Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rt_events (kind, payload_json, created_at) VALUES (?, ?, ?)`,
		string(kind), string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", kind, err)
	}
	return nil
}

// EventRecord is one logged realtime event.
type EventRecord struct {
	ID          int64
	Kind        contracts.EventKind
	PayloadJSON string
	CreatedAt   time.Time
}

// RecentEvents returns the most recent logged events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, payload_json, created_at FROM rt_events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		var kind, createdStr string
		if err := rows.Scan(&rec.ID, &kind, &rec.PayloadJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Kind = contracts.EventKind(kind)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion event-log

// #region quality

// SaveQuality appends one session quality summary to the history.
func (s *Store) SaveQuality(ctx context.Context, q contracts.Quality) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rt_quality (session_id, p95_cue_latency_ms, false_correction_rate, fallback_rate, sample_count, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.SessionID, q.P95CueLatencyMs, q.FalseCorrectionRate, q.FallbackRate, q.SampleCount,
		q.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save quality: %w", err)
	}
	return nil
}

// RecentQuality returns the most recent quality summaries, newest first.
func (s *Store) RecentQuality(ctx context.Context, limit int) ([]contracts.Quality, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, p95_cue_latency_ms, false_correction_rate, fallback_rate, sample_count, recorded_at
		 FROM rt_quality ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list quality: %w", err)
	}
	defer rows.Close()

	var records []contracts.Quality
	for rows.Next() {
		var q contracts.Quality
		var recordedStr string
		if err := rows.Scan(&q.SessionID, &q.P95CueLatencyMs, &q.FalseCorrectionRate, &q.FallbackRate, &q.SampleCount, &recordedStr); err != nil {
			return nil, fmt.Errorf("scan quality: %w", err)
		}
		q.At, _ = time.Parse(time.RFC3339Nano, recordedStr)
		records = append(records, q)
	}
	return records, rows.Err()
}

// #endregion quality
