// Package sqlite is the single-node store used for local runs and tests. It
// implements the same ports as the Postgres repositories.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/repository"

	_ "modernc.org/sqlite" // SQLite driver.
)

// timeLayout is fixed width so TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for every aggregate.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer; every query inside a transaction must go through the tx.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			age INTEGER,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'student',
			language TEXT NOT NULL DEFAULT 'en',
			num_of_exercises INTEGER NOT NULL DEFAULT 3,
			stars INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_login_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS user_area_progress (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			area TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			difficulty_level INTEGER NOT NULL DEFAULT 1,
			overall_score REAL NOT NULL DEFAULT 0,
			exercises_completed INTEGER NOT NULL DEFAULT 0,
			last_activity TEXT,
			PRIMARY KEY (user_id, area)
		);`,
		`CREATE TABLE IF NOT EXISTS user_daily_usage (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			total_time_spent_minutes REAL NOT NULL DEFAULT 0,
			sessions_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, date)
		);`,
		`CREATE TABLE IF NOT EXISTS exercises (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			area TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			difficulty_levels TEXT NOT NULL DEFAULT '[]',
			instructions TEXT NOT NULL DEFAULT '',
			image_url TEXT,
			is_test INTEGER NOT NULL DEFAULT 0,
			estimated_time_minutes INTEGER NOT NULL DEFAULT 0,
			skills TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS exercise_attempts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			exercise_id TEXT NOT NULL,
			area TEXT NOT NULL,
			difficulty_level INTEGER NOT NULL,
			score REAL,
			completion_status TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			is_test INTEGER NOT NULL DEFAULT 0,
			metrics TEXT,
			notes TEXT NOT NULL DEFAULT '',
			aggregated_at TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			total_time_spent_minutes REAL NOT NULL DEFAULT 0,
			exercises_completed INTEGER NOT NULL DEFAULT 0,
			exercise_attempts INTEGER NOT NULL DEFAULT 0,
			area_breakdown TEXT NOT NULL DEFAULT '{}',
			recent_exercises TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (user_id, date)
		);`,
		`CREATE TABLE IF NOT EXISTS weekly_summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			total_time_spent_minutes REAL NOT NULL DEFAULT 0,
			exercises_completed INTEGER NOT NULL DEFAULT 0,
			exercise_attempts INTEGER NOT NULL DEFAULT 0,
			area_breakdown TEXT NOT NULL DEFAULT '{}',
			recent_exercises TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (user_id, date)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_user_start ON exercise_attempts(user_id, start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_user_exercise ON exercise_attempts(user_id, exercise_id);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_pending ON exercise_attempts(created_at) WHERE aggregated_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_exercises_area ON exercises(area);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn inside one immediate transaction.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				_ = rerr
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// mapError turns driver errors into the repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", repository.ErrConflict, err)
	}
	return err
}

func (s *Store) ensureAreaRows(ctx context.Context, q queryer, userID uuid.UUID, areas ...models.Area) error {
	for _, area := range areas {
		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_area_progress (user_id, area)
			SELECT id, ? FROM users WHERE id = ?`, string(area), userID); err != nil {
			return err
		}
	}
	return nil
}
