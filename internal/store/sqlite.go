// Package store persists processed-message IDs and task outcomes in SQLite.
// The dedup table makes webhook enqueue idempotent: Meta redelivers events,
// and a redelivered message ID must not spawn a second task.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore backs enqueue dedup and the task audit log.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if strings.HasPrefix(dbPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[2:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed_messages (
		platform    TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		seen_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (platform, message_id)
	);

	CREATE TABLE IF NOT EXISTS task_results (
		task_id     TEXT PRIMARY KEY,
		platform    TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		elapsed_ms  INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_task_results_created ON task_results(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// MarkProcessed records a platform message ID. It returns true the first
// time an ID is seen and false on every redelivery.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, platform, messageID string) (bool, error) {
	if messageID == "" {
		// No platform ID to dedup on; treat as first delivery.
		return true, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (platform, message_id) VALUES (?, ?)`,
		platform, messageID)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return n > 0, nil
}

// RecordOutcome appends a terminal task result to the audit log.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, taskID, platform, senderID, outcome string, attempts int, elapsed time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_results (task_id, platform, sender_id, outcome, attempts, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, platform, senderID, outcome, attempts, elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// PruneProcessed drops dedup entries older than the retention window.
func (s *SQLiteStore) PruneProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE seen_at < ?`,
		time.Now().Add(-olderThan).UTC())
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
