/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements attendance.Store (ledger, records, exceptions, employees) plus
  the policy and expiry-run tables the API layer needs. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  attendance.LedgerStore:    Balances + append-only points history
  attendance.RecordStore:    Attendance records, unique per day
  attendance.ExceptionStore: Exceptions with status compare-and-set
  attendance.EmployeeStore:  Employee directory

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on points_history
  - No DELETE statements on points_history (except Reset for demos)
  - Corrections via compensating entries only

KEY TABLES:
  points_balances:       One row per employee, versioned
  points_history:        Immutable ledger; seq is the insertion order
  attendance_records:    UNIQUE(organization_id, employee_id, date)
  attendance_exceptions: Exception workflow state
  employees:             Entity records
  policies:              One JSON policy per organization
  expiry_runs:           Scheduler bookkeeping

CONCURRENCY:
  Balance writes are compare-and-set on the version column. WithTx runs
  under the store mutex and an IMMEDIATE SQLite transaction, so the
  version check and the history insert commit together.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := attendance.NewLedger(store, policies)

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/attendance"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ attendance.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees (entities)
	CREATE TABLE IF NOT EXISTS employees (
		organization_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (organization_id, id)
	);

	-- Balances (materialized, versioned)
	CREATE TABLE IF NOT EXISTS points_balances (
		organization_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		current_points TEXT NOT NULL DEFAULT '0',
		points_this_period TEXT NOT NULL DEFAULT '0',
		points_ytd TEXT NOT NULL DEFAULT '0',
		period_start TEXT,
		ytd_year INTEGER NOT NULL DEFAULT 0,
		last_occurrence_date TEXT,
		next_point_expiry_date TEXT,
		warning_level TEXT NOT NULL DEFAULT 'none',
		last_warning_date TEXT,
		last_warning_type TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (organization_id, employee_id)
	);

	-- Hot path for the expiry sweep
	CREATE INDEX IF NOT EXISTS idx_balances_next_expiry
		ON points_balances(next_point_expiry_date) WHERE next_point_expiry_date IS NOT NULL;

	-- Points history (append-only ledger)
	CREATE TABLE IF NOT EXISTS points_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		organization_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		action TEXT NOT NULL,
		points_change TEXT NOT NULL,
		points_before TEXT NOT NULL,
		points_after TEXT NOT NULL,
		reason TEXT,
		effective_date TEXT NOT NULL,
		expiry_date TEXT,
		performed_by TEXT,
		performed_by_id TEXT,
		source_record_id TEXT,
		source_exception_id TEXT,
		source_entry_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_employee_date
		ON points_history(organization_id, employee_id, effective_date, seq);
	CREATE INDEX IF NOT EXISTS idx_history_source_record
		ON points_history(source_record_id) WHERE source_record_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_history_source_exception
		ON points_history(source_exception_id) WHERE source_exception_id IS NOT NULL;

	-- Attendance records (one per employee per day)
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		scheduled_start TEXT,
		scheduled_end TEXT,
		scheduled_hours TEXT NOT NULL DEFAULT '0',
		actual_clock_in TEXT,
		actual_clock_out TEXT,
		actual_hours TEXT NOT NULL DEFAULT '0',
		break_minutes INTEGER NOT NULL DEFAULT 0,
		is_late BOOLEAN NOT NULL DEFAULT FALSE,
		late_minutes INTEGER NOT NULL DEFAULT 0,
		is_early_departure BOOLEAN NOT NULL DEFAULT FALSE,
		early_departure_minutes INTEGER NOT NULL DEFAULT 0,
		is_overtime BOOLEAN NOT NULL DEFAULT FALSE,
		overtime_minutes INTEGER NOT NULL DEFAULT 0,
		is_absent BOOLEAN NOT NULL DEFAULT FALSE,
		is_no_call_no_show BOOLEAN NOT NULL DEFAULT FALSE,
		occurrence_type TEXT NOT NULL DEFAULT 'none',
		occurrence_points TEXT NOT NULL DEFAULT '0',
		approved_by TEXT,
		approved_by_id TEXT,
		approved_at TEXT,
		reviewed_by TEXT,
		reviewed_by_id TEXT,
		reviewed_at TEXT,
		pay_period_start TEXT,
		pay_period_end TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one record per (organization, employee, date)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_record_day
		ON attendance_records(organization_id, employee_id, date);

	-- Attendance exceptions
	CREATE TABLE IF NOT EXISTS attendance_exceptions (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		record_id TEXT NOT NULL REFERENCES attendance_records(id),
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT,
		occurred_at TEXT NOT NULL,
		duration_minutes INTEGER,
		points_assigned TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'pending',
		reported_by TEXT,
		reported_by_id TEXT,
		reported_at TEXT NOT NULL,
		resolved_by TEXT,
		resolved_by_id TEXT,
		resolved_at TEXT,
		resolution_notes TEXT,
		appealed BOOLEAN NOT NULL DEFAULT FALSE,
		reopened BOOLEAN NOT NULL DEFAULT FALSE,
		reopened_by TEXT,
		reopened_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exceptions_org_status
		ON attendance_exceptions(organization_id, status);
	CREATE INDEX IF NOT EXISTS idx_exceptions_record
		ON attendance_exceptions(record_id);

	-- Policies (one per organization)
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Expiry runs (for the scheduled sweep)
	CREATE TABLE IF NOT EXISTS expiry_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		employees INTEGER DEFAULT 0,
		entries INTEGER DEFAULT 0,
		points_expired TEXT DEFAULT '0',
		failures INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expiry_runs_status
		ON expiry_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (attendance.LedgerStore interface)
// =============================================================================

const balanceColumns = `organization_id, employee_id, current_points, points_this_period, points_ytd,
	period_start, ytd_year, last_occurrence_date, next_point_expiry_date,
	warning_level, last_warning_date, last_warning_type, version, created_at, updated_at`

const historyColumns = `seq, id, organization_id, employee_id, action, points_change, points_before,
	points_after, reason, effective_date, expiry_date, performed_by, performed_by_id,
	source_record_id, source_exception_id, source_entry_id, created_at`

// GetBalance returns the employee's balance, or nil if not enrolled.
func (s *Store) GetBalance(ctx context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) (*attendance.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, org, emp)
}

// LoadHistory returns all entries for an employee.
func (s *Store) LoadHistory(ctx context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) ([]attendance.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadHistory(ctx, s.db, org, emp)
}

// LoadHistoryRange returns entries with effective_date in [from, to].
func (s *Store) LoadHistoryRange(ctx context.Context, org attendance.OrganizationID, emp attendance.EmployeeID, from, to attendance.Date) ([]attendance.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + historyColumns + `
		FROM points_history
		WHERE organization_id = ? AND employee_id = ?
		  AND effective_date >= ? AND effective_date <= ?
		ORDER BY effective_date ASC, seq ASC`

	return queryHistory(ctx, s.db, query, org, emp, from.String(), to.String())
}

// BalancesDueForExpiry returns balances with points expiring on or before asOf.
func (s *Store) BalancesDueForExpiry(ctx context.Context, asOf attendance.Date) ([]attendance.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + balanceColumns + `
		FROM points_balances
		WHERE next_point_expiry_date IS NOT NULL AND next_point_expiry_date <= ?
		ORDER BY organization_id, employee_id`

	rows, err := s.db.QueryContext(ctx, query, asOf.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []attendance.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx attendance.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open transaction only.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetBalance(ctx context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) (*attendance.Balance, error) {
	return getBalance(ctx, ts.tx, org, emp)
}

func (ts *txStore) LoadHistory(ctx context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) ([]attendance.HistoryEntry, error) {
	return loadHistory(ctx, ts.tx, org, emp)
}

func (ts *txStore) AppendHistory(ctx context.Context, h attendance.HistoryEntry) error {
	query := `
		INSERT INTO points_history
		(id, organization_id, employee_id, action, points_change, points_before, points_after,
		 reason, effective_date, expiry_date, performed_by, performed_by_id,
		 source_record_id, source_exception_id, source_entry_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var sourceRecord, sourceException, sourceEntry *string
	if h.SourceRecordID != nil {
		v := string(*h.SourceRecordID)
		sourceRecord = &v
	}
	if h.SourceExceptionID != nil {
		v := string(*h.SourceExceptionID)
		sourceException = &v
	}
	if h.SourceEntryID != nil {
		v := string(*h.SourceEntryID)
		sourceEntry = &v
	}

	_, err := ts.tx.ExecContext(ctx, query,
		h.ID, h.OrganizationID, h.EmployeeID, h.Action,
		h.PointsChange.Value, h.PointsBefore.Value, h.PointsAfter.Value,
		h.Reason, h.EffectiveDate.String(), nullDate(h.ExpiryDate),
		h.PerformedBy, h.PerformedByID,
		sourceRecord, sourceException, sourceEntry,
		formatTime(h.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// SaveBalance inserts the row when expectedVersion is 0, otherwise updates
// it only if the stored version still matches.
func (ts *txStore) SaveBalance(ctx context.Context, b attendance.Balance, expectedVersion int64) error {
	b.Version = expectedVersion + 1

	if expectedVersion == 0 {
		query := `INSERT INTO points_balances (` + balanceColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := ts.tx.ExecContext(ctx, query,
			b.OrganizationID, b.EmployeeID,
			b.CurrentPoints.Value, b.PointsThisPeriod.Value, b.PointsYTD.Value,
			nullDate(zeroToNil(b.PeriodStart)), b.YTDYear,
			nullDate(b.LastOccurrenceDate), nullDate(b.NextPointExpiryDate),
			b.WarningLevel, nullDate(b.LastWarningDate), nullString(string(b.LastWarningType)),
			b.Version, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return attendance.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	query := `
		UPDATE points_balances SET
			current_points = ?, points_this_period = ?, points_ytd = ?,
			period_start = ?, ytd_year = ?, last_occurrence_date = ?, next_point_expiry_date = ?,
			warning_level = ?, last_warning_date = ?, last_warning_type = ?,
			version = ?, updated_at = ?
		WHERE organization_id = ? AND employee_id = ? AND version = ?
	`
	res, err := ts.tx.ExecContext(ctx, query,
		b.CurrentPoints.Value, b.PointsThisPeriod.Value, b.PointsYTD.Value,
		nullDate(zeroToNil(b.PeriodStart)), b.YTDYear,
		nullDate(b.LastOccurrenceDate), nullDate(b.NextPointExpiryDate),
		b.WarningLevel, nullDate(b.LastWarningDate), nullString(string(b.LastWarningType)),
		b.Version, formatTime(b.UpdatedAt),
		b.OrganizationID, b.EmployeeID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrConcurrentModification
	}
	return nil
}

func getBalance(ctx context.Context, q querier, org attendance.OrganizationID, emp attendance.EmployeeID) (*attendance.Balance, error) {
	query := `SELECT ` + balanceColumns + `
		FROM points_balances WHERE organization_id = ? AND employee_id = ?`

	b, err := scanBalance(q.QueryRowContext(ctx, query, org, emp))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func loadHistory(ctx context.Context, q querier, org attendance.OrganizationID, emp attendance.EmployeeID) ([]attendance.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + `
		FROM points_history
		WHERE organization_id = ? AND employee_id = ?
		ORDER BY effective_date ASC, seq ASC`

	return queryHistory(ctx, q, query, org, emp)
}

func queryHistory(ctx context.Context, q querier, query string, args ...any) ([]attendance.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []attendance.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (*attendance.Balance, error) {
	var (
		b                                       attendance.Balance
		periodStart, lastOccurrence, nextExpiry sql.NullString
		lastWarningDate, lastWarningType        sql.NullString
		createdAt, updatedAt                    string
	)

	err := row.Scan(
		&b.OrganizationID, &b.EmployeeID,
		&b.CurrentPoints.Value, &b.PointsThisPeriod.Value, &b.PointsYTD.Value,
		&periodStart, &b.YTDYear, &lastOccurrence, &nextExpiry,
		&b.WarningLevel, &lastWarningDate, &lastWarningType,
		&b.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan balance: %w", err)
	}

	if d := parseDate(periodStart); d != nil {
		b.PeriodStart = *d
	}
	b.LastOccurrenceDate = parseDate(lastOccurrence)
	b.NextPointExpiryDate = parseDate(nextExpiry)
	b.LastWarningDate = parseDate(lastWarningDate)
	b.LastWarningType = attendance.WarningLevel(lastWarningType.String)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func scanHistory(row scanner) (attendance.HistoryEntry, error) {
	var (
		h                                          attendance.HistoryEntry
		reason, performedBy, performedByID         sql.NullString
		effectiveDate, createdAt                   string
		expiryDate                                 sql.NullString
		sourceRecord, sourceException, sourceEntry sql.NullString
	)

	err := row.Scan(
		&h.Sequence, &h.ID, &h.OrganizationID, &h.EmployeeID, &h.Action,
		&h.PointsChange.Value, &h.PointsBefore.Value, &h.PointsAfter.Value,
		&reason, &effectiveDate, &expiryDate, &performedBy, &performedByID,
		&sourceRecord, &sourceException, &sourceEntry, &createdAt,
	)
	if err != nil {
		return h, fmt.Errorf("failed to scan history entry: %w", err)
	}

	h.Reason = reason.String
	h.PerformedBy = performedBy.String
	h.PerformedByID = performedByID.String
	if d := parseDate(sql.NullString{String: effectiveDate, Valid: true}); d != nil {
		h.EffectiveDate = *d
	}
	h.ExpiryDate = parseDate(expiryDate)
	if sourceRecord.Valid {
		id := attendance.RecordID(sourceRecord.String)
		h.SourceRecordID = &id
	}
	if sourceException.Valid {
		id := attendance.ExceptionID(sourceException.String)
		h.SourceExceptionID = &id
	}
	if sourceEntry.Valid {
		id := attendance.HistoryID(sourceEntry.String)
		h.SourceEntryID = &id
	}
	h.CreatedAt = parseTime(createdAt)
	return h, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"attendance_exceptions", "points_history", "points_balances",
		"attendance_records", "employees", "policies", "expiry_runs",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDate(d *attendance.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func zeroToNil(d attendance.Date) *attendance.Date {
	if d.IsZero() {
		return nil
	}
	return &d
}

func parseDate(s sql.NullString) *attendance.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := attendance.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
