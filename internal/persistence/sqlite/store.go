// Package sqlite implements the repository contracts of the application
// and notify packages on a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

// timeLayout is how timestamps are stored. RFC3339 strings sort
// chronologically, so range predicates work with plain comparison.
const timeLayout = time.RFC3339

// Store is the SQLite-backed persistence layer. One Store serves every
// repository contract; the *sql.DB pool underneath is safe for concurrent
// use.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at dsn. Foreign keys are
// enforced; the busy timeout keeps concurrent writers from failing fast
// under short lock contention.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema and seeds the single policy row with its
// defaults. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			capacity INTEGER NOT NULL CHECK (capacity > 0),
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			space_id TEXT NOT NULL REFERENCES spaces(id),
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			state TEXT NOT NULL,
			kind TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			recurring INTEGER NOT NULL DEFAULT 0,
			recurrence_pattern TEXT NOT NULL DEFAULT '',
			approver_id TEXT,
			approved_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			CHECK (end_at > start_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_space_state
			ON reservations (space_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_requester
			ON reservations (requester_id, state)`,
		`CREATE TABLE IF NOT EXISTS policy (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			advance_booking_days INTEGER NOT NULL,
			max_active_per_requester INTEGER NOT NULL,
			max_duration_hours INTEGER NOT NULL,
			opens_at INTEGER NOT NULL,
			closes_at INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			space_id TEXT NOT NULL REFERENCES spaces(id),
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			state TEXT NOT NULL,
			reported_by TEXT NOT NULL,
			reported_at TEXT NOT NULL,
			resolved_by TEXT,
			resolved_at TEXT,
			resolution TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			reservation_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			recipient TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			sent INTEGER NOT NULL DEFAULT 0,
			sent_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedup
			ON notifications (reservation_id, event_type) WHERE sent = 1`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			action TEXT NOT NULL,
			record_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			before_json TEXT,
			after_json TEXT,
			at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			token TEXT NOT NULL UNIQUE,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			revoked_at TEXT
		)`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	defaults := application.DefaultPolicy()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy (id, advance_booking_days, max_active_per_requester, max_duration_hours, opens_at, closes_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		defaults.AdvanceBookingDays,
		defaults.MaxActivePerRequester,
		defaults.MaxDurationHours,
		int(defaults.OpensAt),
		int(defaults.ClosesAt),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("seed policy: %w", err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mapError translates driver errors into persistence sentinels. The SQLite
// driver does not export typed constraint errors, so matching is on the
// error text.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return persistence.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrForeignKeyViolation, err)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", value, err)
	}
	return t, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func marshalJSON(value map[string]any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal audit data: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(value sql.NullString) (map[string]any, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(value.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal audit data: %w", err)
	}
	return out, nil
}
