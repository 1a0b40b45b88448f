package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/harvest/pkg/model"

	_ "modernc.org/sqlite"
)

// schema contains the DDL for all Harvest tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		plugin       TEXT NOT NULL,
		key          TEXT NOT NULL,
		value        TEXT NOT NULL,
		collected_at TEXT NOT NULL,
		PRIMARY KEY (plugin, key)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_records_plugin ON records(plugin)`,
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance. Collectors in
	// the same layer hit the store from separate goroutines.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

// PutRecord inserts or overwrites the record keyed by (plugin, key).
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *model.Record) error {
	s.logger.Debug("sql", "op", "upsert", "table", "records", "plugin", rec.Plugin, "key", rec.Key)

	valueJSON, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	collectedAt := rec.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (plugin, key, value, collected_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(plugin, key) DO UPDATE SET
		   value = excluded.value,
		   collected_at = excluded.collected_at`,
		rec.Plugin, rec.Key, string(valueJSON), collectedAt.Format(time.RFC3339Nano),
	)
	return err
}

// GetRecord returns the record keyed by (plugin, key), or nil if absent.
func (s *SQLiteStore) GetRecord(ctx context.Context, plugin, key string) (*model.Record, error) {
	s.logger.Debug("sql", "op", "select", "table", "records", "plugin", plugin, "key", key)

	var rec model.Record
	var valueJSON, collectedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT plugin, key, value, collected_at FROM records WHERE plugin = ? AND key = ?`,
		plugin, key,
	).Scan(&rec.Plugin, &rec.Key, &valueJSON, &collectedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(valueJSON), &rec.Value); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	rec.CollectedAt, _ = time.Parse(time.RFC3339Nano, collectedAt)

	return &rec, nil
}

// ListRecords returns all records written by the given plugin, ordered by key.
func (s *SQLiteStore) ListRecords(ctx context.Context, plugin string) ([]*model.Record, error) {
	s.logger.Debug("sql", "op", "list", "table", "records", "plugin", plugin)

	rows, err := s.db.QueryContext(ctx,
		`SELECT plugin, key, value, collected_at FROM records WHERE plugin = ? ORDER BY key`,
		plugin,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*model.Record
	for rows.Next() {
		var rec model.Record
		var valueJSON, collectedAt string
		if err := rows.Scan(&rec.Plugin, &rec.Key, &valueJSON, &collectedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(valueJSON), &rec.Value); err != nil {
			return nil, fmt.Errorf("unmarshal value for %s/%s: %w", rec.Plugin, rec.Key, err)
		}
		rec.CollectedAt, _ = time.Parse(time.RFC3339Nano, collectedAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// ListPlugins returns the distinct plugin names that have written records.
func (s *SQLiteStore) ListPlugins(ctx context.Context) ([]string, error) {
	s.logger.Debug("sql", "op", "list_plugins", "table", "records")

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT plugin FROM records ORDER BY plugin`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plugins []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

// DeleteRecords removes every record written by the given plugin.
func (s *SQLiteStore) DeleteRecords(ctx context.Context, plugin string) error {
	s.logger.Debug("sql", "op", "delete", "table", "records", "plugin", plugin)

	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE plugin = ?`, plugin)
	return err
}
