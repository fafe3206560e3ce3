package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sveturs/abkit/internal/abtest"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    definition TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    winner_variant TEXT,
    significance REAL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    event_name TEXT NOT NULL,
    session_id TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment_id);
CREATE INDEX IF NOT EXISTS idx_events_experiment_name ON events(experiment_id, event_name);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp *abtest.Experiment) error {
	definition, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, name, definition, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Name, string(definition), string(exp.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*abtest.Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT definition, status, winner_variant, significance
		 FROM experiments WHERE id = ?`, id,
	)
	exp, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*abtest.Experiment, error) {
	return s.queryExperiments(ctx,
		`SELECT definition, status, winner_variant, significance
		 FROM experiments ORDER BY created_at DESC`)
}

func (s *SQLiteStore) ActiveExperiments(ctx context.Context) ([]*abtest.Experiment, error) {
	return s.queryExperiments(ctx,
		`SELECT definition, status, winner_variant, significance
		 FROM experiments WHERE status = 'running' ORDER BY created_at DESC`)
}

func (s *SQLiteStore) queryExperiments(ctx context.Context, query string) ([]*abtest.Experiment, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*abtest.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	return experiments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanExperiment decodes the JSON definition column and overlays the
// mutable columns (status, winner, significance) which are authoritative
// over whatever the stored definition says.
func scanExperiment(row rowScanner) (*abtest.Experiment, error) {
	var definition, status string
	var winner sql.NullString
	var significance sql.NullFloat64

	if err := row.Scan(&definition, &status, &winner, &significance); err != nil {
		return nil, err
	}

	var exp abtest.Experiment
	if err := json.Unmarshal([]byte(definition), &exp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	exp.Status = abtest.Status(status)
	if winner.Valid {
		exp.WinnerVariant = winner.String
	}
	if significance.Valid {
		exp.Significance = significance.Float64
	}
	return &exp, nil
}

func (s *SQLiteStore) CompleteExperiment(ctx context.Context, id string, winnerVariant string, significance float64) error {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = 'completed', winner_variant = ?, significance = ?, updated_at = ?
		 WHERE id = ?`,
		winnerVariant, significance, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete experiment: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status abtest.Status) error {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	// First delete related events
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE experiment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, ev Event) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (experiment_id, variant_id, event_name, session_id, value, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ExperimentID, ev.VariantID, ev.EventName, ev.SessionID, ev.Value,
		nullableString(ev.Metadata), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetVariantStats(ctx context.Context, experimentID string) ([]VariantStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant_id,
			COUNT(CASE WHEN event_name = 'impression' THEN 1 END) as impressions,
			COUNT(CASE WHEN event_name = 'conversion' THEN 1 END) as conversions,
			COALESCE(SUM(CASE WHEN event_name = 'conversion' THEN value END), 0) as revenue
		FROM events
		WHERE experiment_id = ?
		GROUP BY variant_id
		ORDER BY variant_id
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant stats: %w", err)
	}
	defer rows.Close()

	var stats []VariantStats
	for rows.Next() {
		var vs VariantStats
		if err := rows.Scan(&vs.VariantID, &vs.Impressions, &vs.Conversions, &vs.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, vs)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) GetEvents(ctx context.Context, experimentID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, variant_id, event_name, session_id, value, metadata, created_at
		 FROM events WHERE experiment_id = ? ORDER BY created_at DESC`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var metadata sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.ExperimentID, &e.VariantID, &e.EventName, &e.SessionID, &e.Value, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Metadata = metadata.String
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// requireRows turns a zero-row UPDATE or DELETE into ErrNotFound.
func requireRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
