/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the engines read through, so a
  single database file backs a whole deployment. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  approval.ConfigStore:       Approvable types and approver layers
  approval.ChainStore:        Flows and approval rows
  directory.Employees/Roles:  Employee records and role membership
  entitlement.CategoryStore:  Leave categories
  entitlement.Store:          Computed entitlements (upsert cache)
  entitlement.LeaveSource:    Approved leave, derived from the chain tables
  entitlement.HolidayCalendar
  requests.Store:             Leave, overtime and employee history rows
  attendance.Store:           Daily check-in records

KEY TABLES:
  approvable_types / approver_layers: Workflow configuration
  approval_flows:                     One row per started chain
  approvals:                          One row per (approvable, level)
  leave_entitlements:                 Unique per (employee, category, period)

STATUS IS NEVER STORED ON REQUESTS:
  Approved leave is selected by joining the chain tables: a flow exists
  and no row of it is pending or rejected.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which an
  in-memory database needs anyway. Chain-level exclusion is the job of
  the advisory lock in package lock, not of this store.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/approvals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Approval configuration
	CREATE TABLE IF NOT EXISTS approvable_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS approver_layers (
		id TEXT PRIMARY KEY,
		type_id TEXT NOT NULL REFERENCES approvable_types(id) ON DELETE CASCADE,
		level INTEGER NOT NULL,
		approver_kind TEXT NOT NULL,
		role_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		UNIQUE(type_id, level)
	);

	-- Approval chains
	CREATE TABLE IF NOT EXISTS approval_flows (
		kind TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		type_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (kind, ref_id)
	);

	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		approver_kind TEXT NOT NULL,
		approver_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		decided_at TEXT,
		decided_by TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(kind, ref_id, level),
		FOREIGN KEY (kind, ref_id) REFERENCES approval_flows(kind, ref_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_inbox
		ON approvals(approver_kind, approver_id, status);

	-- Directory
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		supervisor_code TEXT NOT NULL DEFAULT '',
		join_date TEXT,
		resign_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_employees_user
		ON employees(user_id);

	CREATE TABLE IF NOT EXISTS user_roles (
		role_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (role_id, user_id)
	);

	-- Leave categories and computed balances
	CREATE TABLE IF NOT EXISTS leave_categories (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT TRUE,
		deduct_balance BOOLEAN NOT NULL DEFAULT FALSE,
		half_day_allowed BOOLEAN NOT NULL DEFAULT FALSE,
		weekend_rule TEXT NOT NULL DEFAULT 'workdays',
		base_quota_days TEXT,
		prorate_on_join BOOLEAN NOT NULL DEFAULT FALSE,
		prorate_on_resign BOOLEAN NOT NULL DEFAULT FALSE,
		carryover_max_days TEXT,
		carryover_expiry_months INTEGER,
		proof_required BOOLEAN NOT NULL DEFAULT FALSE,
		defaults_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS leave_entitlements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		period TEXT NOT NULL,
		opening TEXT NOT NULL,
		accrual TEXT NOT NULL,
		consumed TEXT NOT NULL,
		carry_in TEXT NOT NULL,
		carry_out TEXT NOT NULL,
		closing TEXT NOT NULL,
		expires_at TEXT,
		computed_at TEXT NOT NULL,
		UNIQUE(employee_id, category_id, period)
	);

	-- Holidays (dated or recurring every year)
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date
		ON holidays(date);

	-- Approvables
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		half_day BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT NOT NULL DEFAULT '',
		proof_url TEXT NOT NULL DEFAULT '',
		days TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee_category
		ON leave_requests(employee_id, category_id, start_date);

	CREATE TABLE IF NOT EXISTS overtimes (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		hours TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employee_histories (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		from_unit TEXT NOT NULL DEFAULT '',
		to_unit TEXT NOT NULL DEFAULT '',
		from_position TEXT NOT NULL DEFAULT '',
		to_position TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Attendance (one record per employee-day)
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		check_in TEXT NOT NULL,
		check_out TEXT,
		UNIQUE(employee_id, date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data. Children are deleted before their parents.
// Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"approvals", "approval_flows", "approver_layers", "approvable_types",
		"leave_entitlements", "leave_requests", "overtimes", "employee_histories",
		"attendance_records", "holidays", "leave_categories", "user_roles", "employees",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }
func formatDate(t time.Time) string { return t.Format(dateLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mustAffect maps zero affected rows to notFound.
func mustAffect(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
