// Package store implements the durable local cache that keeps the agent
// functional while the backend is unreachable.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"screentime/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed local cache. It holds three records: the last
// whitelist snapshot, the queue of time increments not yet synced to the
// backend, and the last known user budget state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the cache database inside cacheDir
func New(cacheDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(cacheDir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	return s, nil
}

// migrate creates the cache schema
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS whitelist_cache (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			items TEXT NOT NULL,
			cached_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_time (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seconds REAL NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			daily_limit_minutes INTEGER NOT NULL,
			today_used_minutes REAL NOT NULL,
			last_reset_date TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveWhitelist caches the whitelist snapshot, replacing any previous one
func (s *Store) SaveWhitelist(ctx context.Context, items []core.WhitelistItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal whitelist: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO whitelist_cache (id, items, cached_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			items = excluded.items,
			cached_at = excluded.cached_at
	`, string(data), time.Now())

	return err
}

// LoadWhitelist returns the cached whitelist snapshot. The second return is
// false when no snapshot exists or the stored record is unreadable; a corrupt
// record is logged and treated as absent, never returned as an error.
func (s *Store) LoadWhitelist(ctx context.Context) ([]core.WhitelistItem, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT items FROM whitelist_cache WHERE id = 1
	`).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []core.WhitelistItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		s.logger.Warn("corrupt whitelist cache, treating as absent", "error", err)
		return nil, false, nil
	}

	return items, true, nil
}

// AddPending appends a time increment that could not be synced to the backend
func (s *Store) AddPending(ctx context.Context, seconds float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_time (seconds, created_at) VALUES (?, ?)
	`, seconds, time.Now())

	return err
}

// DrainPending returns the total unsynced seconds and clears the queue
// atomically. Returns 0 if the queue is empty.
func (s *Store) DrainPending(ctx context.Context) (float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total float64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(seconds), 0) FROM pending_time
	`).Scan(&total); err != nil {
		return 0, err
	}

	if total == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_time"); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Debug("drained pending time queue", "total_seconds", total)
	return total, nil
}

// SaveUserState caches the last known user budget state
func (s *Store) SaveUserState(ctx context.Context, budget core.UserBudget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_state (id, daily_limit_minutes, today_used_minutes, last_reset_date, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_limit_minutes = excluded.daily_limit_minutes,
			today_used_minutes = excluded.today_used_minutes,
			last_reset_date = excluded.last_reset_date,
			updated_at = excluded.updated_at
	`, budget.DailyLimitMinutes, budget.TodayUsedMinutes, budget.LastResetDate, time.Now())

	return err
}

// LoadUserState returns the cached user budget state. The second return is
// false when no record exists or the record fails validation.
func (s *Store) LoadUserState(ctx context.Context) (core.UserBudget, bool, error) {
	var budget core.UserBudget
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_limit_minutes, today_used_minutes, last_reset_date
		FROM user_state WHERE id = 1
	`).Scan(&budget.DailyLimitMinutes, &budget.TodayUsedMinutes, &budget.LastResetDate)

	if err == sql.ErrNoRows {
		return core.UserBudget{}, false, nil
	}
	if err != nil {
		return core.UserBudget{}, false, err
	}

	if err := budget.Validate(); err != nil {
		s.logger.Warn("corrupt user state cache, treating as absent", "error", err)
		return core.UserBudget{}, false, nil
	}

	return budget, true, nil
}

// Close closes the cache database
func (s *Store) Close() error {
	return s.db.Close()
}
