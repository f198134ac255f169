package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteJournal persists failure entries to SQLite.
// It is suitable for single-process use where failures should survive restarts.
type SQLiteJournal struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteJournal opens (or creates) a journal database.
// The path should be a file path (e.g., "./failures.db") or ":memory:" for testing.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A :memory: database is per-connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS callback_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subscription_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			topic TEXT NOT NULL,
			error TEXT NOT NULL,
			panicked INTEGER NOT NULL,
			failed_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_callback_failures_subscription
		ON callback_failures(subscription_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Record implements Journal.
func (j *SQLiteJournal) Record(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	failedAt := entry.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO callback_failures (subscription_id, channel, topic, error, panicked, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.SubscriptionID, entry.Channel, entry.Topic, entry.Error, entry.Panicked,
		failedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// List implements Journal.
func (j *SQLiteJournal) List(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT subscription_id, channel, topic, error, panicked, failed_at
		FROM callback_failures
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return scanEntries(rows)
}

// ListBySubscription implements Journal.
func (j *SQLiteJournal) ListBySubscription(ctx context.Context, subscriptionID string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT subscription_id, channel, topic, error, panicked, failed_at
		FROM callback_failures
		WHERE subscription_id = ?
		ORDER BY id DESC
	`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list failures by subscription: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var failedAt string
		if err := rows.Scan(&e.SubscriptionID, &e.Channel, &e.Topic, &e.Error, &e.Panicked, &failedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, failedAt)
		if err != nil {
			return nil, fmt.Errorf("parse failed_at %q: %w", failedAt, err)
		}
		e.FailedAt = at
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return entries, nil
}

// Count implements Journal.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ErrClosed
	}

	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM callback_failures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// Clear implements Journal.
func (j *SQLiteJournal) Clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if _, err := j.db.ExecContext(ctx, `DELETE FROM callback_failures`); err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	return nil
}

// Close implements Journal.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
