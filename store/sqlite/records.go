package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// RECORD STORE (attendance.RecordStore interface)
// =============================================================================

const recordColumns = `id, organization_id, employee_id, date,
	scheduled_start, scheduled_end, scheduled_hours,
	actual_clock_in, actual_clock_out, actual_hours, break_minutes,
	is_late, late_minutes, is_early_departure, early_departure_minutes,
	is_overtime, overtime_minutes, is_absent, is_no_call_no_show,
	occurrence_type, occurrence_points,
	approved_by, approved_by_id, approved_at, reviewed_by, reviewed_by_id, reviewed_at,
	pay_period_start, pay_period_end, notes, created_at, updated_at`

// SaveRecord inserts or updates a record by ID.
func (s *Store) SaveRecord(ctx context.Context, r attendance.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO attendance_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			scheduled_start = excluded.scheduled_start,
			scheduled_end = excluded.scheduled_end,
			scheduled_hours = excluded.scheduled_hours,
			actual_clock_in = excluded.actual_clock_in,
			actual_clock_out = excluded.actual_clock_out,
			actual_hours = excluded.actual_hours,
			break_minutes = excluded.break_minutes,
			is_late = excluded.is_late,
			late_minutes = excluded.late_minutes,
			is_early_departure = excluded.is_early_departure,
			early_departure_minutes = excluded.early_departure_minutes,
			is_overtime = excluded.is_overtime,
			overtime_minutes = excluded.overtime_minutes,
			is_absent = excluded.is_absent,
			is_no_call_no_show = excluded.is_no_call_no_show,
			occurrence_type = excluded.occurrence_type,
			occurrence_points = excluded.occurrence_points,
			approved_by = excluded.approved_by,
			approved_by_id = excluded.approved_by_id,
			approved_at = excluded.approved_at,
			reviewed_by = excluded.reviewed_by,
			reviewed_by_id = excluded.reviewed_by_id,
			reviewed_at = excluded.reviewed_at,
			pay_period_start = excluded.pay_period_start,
			pay_period_end = excluded.pay_period_end,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.OrganizationID, r.EmployeeID, r.Date.String(),
		nullTime(r.ScheduledStart), nullTime(r.ScheduledEnd), r.ScheduledHours,
		nullTime(r.ActualClockIn), nullTime(r.ActualClockOut), r.ActualHours, r.BreakMinutes,
		r.IsLate, r.LateMinutes, r.IsEarlyDeparture, r.EarlyDepartureMinutes,
		r.IsOvertime, r.OvertimeMinutes, r.IsAbsent, r.IsNoCallNoShow,
		r.OccurrenceType, r.OccurrencePoints.Value,
		nullString(r.ApprovedBy), nullString(r.ApprovedByID), nullTime(r.ApprovedAt),
		nullString(r.ReviewedBy), nullString(r.ReviewedByID), nullTime(r.ReviewedAt),
		nullDate(r.PayPeriodStart), nullDate(r.PayPeriodEnd), nullString(r.Notes),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return attendance.ErrDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(ctx context.Context, id attendance.RecordID) (*attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE id = ?`
	return s.getRecord(ctx, query, id)
}

// GetRecordByDay retrieves the record for one employee on one day.
func (s *Store) GetRecordByDay(ctx context.Context, org attendance.OrganizationID, emp attendance.EmployeeID, day attendance.Date) (*attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + `
		FROM attendance_records
		WHERE organization_id = ? AND employee_id = ? AND date = ?`
	return s.getRecord(ctx, query, org, emp, day.String())
}

func (s *Store) getRecord(ctx context.Context, query string, args ...any) (*attendance.AttendanceRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRecords returns records matching the filter, oldest day first.
func (s *Store) ListRecords(ctx context.Context, f attendance.RecordFilter) ([]attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"organization_id = ?"}
	args := []any{f.OrganizationID}
	if f.EmployeeID != nil {
		where = append(where, "employee_id = ?")
		args = append(args, *f.EmployeeID)
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.OnlyOccurrences {
		where = append(where, "occurrence_type <> ?")
		args = append(args, attendance.OccurrenceNone)
	}

	query := `SELECT ` + recordColumns + `
		FROM attendance_records
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY date ASC, employee_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []attendance.AttendanceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func scanRecord(row scanner) (*attendance.AttendanceRecord, error) {
	var (
		r                                    attendance.AttendanceRecord
		date, createdAt, updatedAt           string
		scheduledStart, scheduledEnd         sql.NullString
		clockIn, clockOut                    sql.NullString
		approvedBy, approvedByID, approvedAt sql.NullString
		reviewedBy, reviewedByID, reviewedAt sql.NullString
		payPeriodStart, payPeriodEnd, notes  sql.NullString
	)

	err := row.Scan(
		&r.ID, &r.OrganizationID, &r.EmployeeID, &date,
		&scheduledStart, &scheduledEnd, &r.ScheduledHours,
		&clockIn, &clockOut, &r.ActualHours, &r.BreakMinutes,
		&r.IsLate, &r.LateMinutes, &r.IsEarlyDeparture, &r.EarlyDepartureMinutes,
		&r.IsOvertime, &r.OvertimeMinutes, &r.IsAbsent, &r.IsNoCallNoShow,
		&r.OccurrenceType, &r.OccurrencePoints.Value,
		&approvedBy, &approvedByID, &approvedAt, &reviewedBy, &reviewedByID, &reviewedAt,
		&payPeriodStart, &payPeriodEnd, &notes, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if d := parseDate(sql.NullString{String: date, Valid: true}); d != nil {
		r.Date = *d
	}
	r.ScheduledStart = parseTimePtr(scheduledStart)
	r.ScheduledEnd = parseTimePtr(scheduledEnd)
	r.ActualClockIn = parseTimePtr(clockIn)
	r.ActualClockOut = parseTimePtr(clockOut)
	r.ApprovedBy = approvedBy.String
	r.ApprovedByID = approvedByID.String
	r.ApprovedAt = parseTimePtr(approvedAt)
	r.ReviewedBy = reviewedBy.String
	r.ReviewedByID = reviewedByID.String
	r.ReviewedAt = parseTimePtr(reviewedAt)
	r.PayPeriodStart = parseDate(payPeriodStart)
	r.PayPeriodEnd = parseDate(payPeriodEnd)
	r.Notes = notes.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// =============================================================================
// EXCEPTION STORE (attendance.ExceptionStore interface)
// =============================================================================

const exceptionColumns = `id, organization_id, employee_id, record_id,
	type, severity, description, occurred_at, duration_minutes, points_assigned, status,
	reported_by, reported_by_id, reported_at,
	resolved_by, resolved_by_id, resolved_at, resolution_notes,
	appealed, reopened, reopened_by, reopened_at, updated_at`

// CreateException inserts a new exception.
func (s *Store) CreateException(ctx context.Context, e attendance.AttendanceException) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO attendance_exceptions (` + exceptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, exceptionArgs(e)...)
	if err != nil {
		return fmt.Errorf("failed to create exception: %w", err)
	}
	return nil
}

// UpdateException writes e only if the stored status is still from.
func (s *Store) UpdateException(ctx context.Context, e attendance.AttendanceException, from attendance.ExceptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE attendance_exceptions SET
			type = ?, severity = ?, description = ?, occurred_at = ?, duration_minutes = ?,
			points_assigned = ?, status = ?,
			resolved_by = ?, resolved_by_id = ?, resolved_at = ?, resolution_notes = ?,
			appealed = ?, reopened = ?, reopened_by = ?, reopened_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		e.Type, e.Severity, nullString(e.Description), formatTime(e.OccurredAt), durationArg(e.DurationMinutes),
		e.PointsAssigned.Value, e.Status,
		nullString(e.ResolvedBy), nullString(e.ResolvedByID), nullTime(e.ResolvedAt), nullString(e.ResolutionNotes),
		e.Appealed, e.Reopened, nullString(e.ReopenedBy), nullTime(e.ReopenedAt), formatTime(e.UpdatedAt),
		e.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update exception: %w", err)
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

// GetException retrieves an exception by ID.
func (s *Store) GetException(ctx context.Context, id attendance.ExceptionID) (*attendance.AttendanceException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + exceptionColumns + ` FROM attendance_exceptions WHERE id = ?`
	e, err := scanException(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListExceptions returns exceptions matching the filter, oldest report first.
func (s *Store) ListExceptions(ctx context.Context, f attendance.ExceptionFilter) ([]attendance.AttendanceException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"organization_id = ?"}
	args := []any{f.OrganizationID}
	if f.EmployeeID != nil {
		where = append(where, "employee_id = ?")
		args = append(args, *f.EmployeeID)
	}
	if f.RecordID != nil {
		where = append(where, "record_id = ?")
		args = append(args, *f.RecordID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.From != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "occurred_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT ` + exceptionColumns + `
		FROM attendance_exceptions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY reported_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	var exceptions []attendance.AttendanceException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		exceptions = append(exceptions, *e)
	}
	return exceptions, rows.Err()
}

func exceptionArgs(e attendance.AttendanceException) []any {
	return []any{
		e.ID, e.OrganizationID, e.EmployeeID, e.RecordID,
		e.Type, e.Severity, nullString(e.Description), formatTime(e.OccurredAt),
		durationArg(e.DurationMinutes), e.PointsAssigned.Value, e.Status,
		nullString(e.ReportedBy), nullString(e.ReportedByID), formatTime(e.ReportedAt),
		nullString(e.ResolvedBy), nullString(e.ResolvedByID), nullTime(e.ResolvedAt), nullString(e.ResolutionNotes),
		e.Appealed, e.Reopened, nullString(e.ReopenedBy), nullTime(e.ReopenedAt), formatTime(e.UpdatedAt),
	}
}

func durationArg(m *int) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*m), Valid: true}
}

func scanException(row scanner) (*attendance.AttendanceException, error) {
	var (
		e                                       attendance.AttendanceException
		description, reportedBy, reportedByID   sql.NullString
		resolvedBy, resolvedByID, resolvedAt    sql.NullString
		resolutionNotes, reopenedBy, reopenedAt sql.NullString
		occurredAt, reportedAt, updatedAt       string
		duration                                sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.EmployeeID, &e.RecordID,
		&e.Type, &e.Severity, &description, &occurredAt, &duration, &e.PointsAssigned.Value, &e.Status,
		&reportedBy, &reportedByID, &reportedAt,
		&resolvedBy, &resolvedByID, &resolvedAt, &resolutionNotes,
		&e.Appealed, &e.Reopened, &reopenedBy, &reopenedAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan exception: %w", err)
	}

	e.Description = description.String
	e.OccurredAt = parseTime(occurredAt)
	if duration.Valid {
		m := int(duration.Int64)
		e.DurationMinutes = &m
	}
	e.ReportedBy = reportedBy.String
	e.ReportedByID = reportedByID.String
	e.ReportedAt = parseTime(reportedAt)
	e.ResolvedBy = resolvedBy.String
	e.ResolvedByID = resolvedByID.String
	e.ResolvedAt = parseTimePtr(resolvedAt)
	e.ResolutionNotes = resolutionNotes.String
	e.ReopenedBy = reopenedBy.String
	e.ReopenedAt = parseTimePtr(reopenedAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// SaveEmployee saves an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp attendance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (organization_id, id, name, email, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date
	`

	createdAt := emp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		emp.OrganizationID, emp.ID, emp.Name, nullString(emp.Email),
		nullDate(zeroToNil(emp.HireDate)), formatTime(createdAt),
	)
	return err
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, org attendance.OrganizationID, id attendance.EmployeeID) (*attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emp, err := scanEmployee(s.db.QueryRowContext(ctx,
		"SELECT organization_id, id, name, email, hire_date, created_at FROM employees WHERE organization_id = ? AND id = ?",
		org, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return emp, nil
}

// ListEmployees returns all employees of an organization.
func (s *Store) ListEmployees(ctx context.Context, org attendance.OrganizationID) ([]attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT organization_id, id, name, email, hire_date, created_at FROM employees WHERE organization_id = ? ORDER BY name",
		org,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []attendance.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *emp)
	}
	return employees, rows.Err()
}

func scanEmployee(row scanner) (*attendance.Employee, error) {
	var emp attendance.Employee
	var email, hireDate sql.NullString
	var createdAt string
	if err := row.Scan(&emp.OrganizationID, &emp.ID, &emp.Name, &email, &hireDate, &createdAt); err != nil {
		return nil, err
	}
	emp.Email = email.String
	if d := parseDate(hireDate); d != nil {
		emp.HireDate = *d
	}
	emp.CreatedAt = parseTime(createdAt)
	return &emp, nil
}

// =============================================================================
// POLICY STORE
// =============================================================================

// PolicyRecord is a stored policy with its JSON config.
type PolicyRecord struct {
	ID             string
	OrganizationID string
	Name           string
	ConfigJSON     string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SavePolicy saves an organization's policy. Saving again bumps the version.
func (s *Store) SavePolicy(ctx context.Context, policy PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO policies (id, organization_id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = policies.version + 1,
			updated_at = excluded.updated_at
	`

	if policy.Version == 0 {
		policy.Version = 1
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query,
		policy.ID, policy.OrganizationID, policy.Name, policy.ConfigJSON,
		policy.Version, now, now,
	)
	return err
}

// GetPolicyByOrganization retrieves the organization's policy, or nil.
func (s *Store) GetPolicyByOrganization(ctx context.Context, org string) (*PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p PolicyRecord
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, organization_id, name, config_json, version, created_at, updated_at FROM policies WHERE organization_id = ?",
		org,
	).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// ListPolicies returns all policies.
func (s *Store) ListPolicies(ctx context.Context) ([]PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, organization_id, name, config_json, version, created_at, updated_at FROM policies ORDER BY organization_id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyRecord
	for rows.Next() {
		var p PolicyRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// EXPIRY RUNS STORE
// =============================================================================

// ExpiryRun records one execution of the expiry sweep.
type ExpiryRun struct {
	ID            string
	AsOf          attendance.Date
	Status        string // running, completed, failed
	Employees     int
	Entries       int
	PointsExpired attendance.Points
	Failures      int
	Error         string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// SaveExpiryRun inserts or updates a run by ID.
func (s *Store) SaveExpiryRun(ctx context.Context, r ExpiryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO expiry_runs (id, as_of, status, employees, entries, points_expired,
			failures, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			employees = excluded.employees,
			entries = excluded.entries,
			points_expired = excluded.points_expired,
			failures = excluded.failures,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.AsOf.String(), r.Status, r.Employees, r.Entries, r.PointsExpired.Value,
		r.Failures, nullString(r.Error), nullTime(r.StartedAt), nullTime(r.CompletedAt),
		formatTime(r.CreatedAt),
	)
	return err
}

// GetExpiryRuns returns the most recent runs, optionally filtered by status.
func (s *Store) GetExpiryRuns(ctx context.Context, status string, limit int) ([]ExpiryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, as_of, status, employees, entries, points_expired,
			failures, error, started_at, completed_at, created_at
		FROM expiry_runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ExpiryRun
	for rows.Next() {
		var r ExpiryRun
		var asOf, createdAt string
		var runErr, startedAt, completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &asOf, &r.Status, &r.Employees, &r.Entries, &r.PointsExpired.Value,
			&r.Failures, &runErr, &startedAt, &completedAt, &createdAt,
		); err != nil {
			return nil, err
		}

		if d := parseDate(sql.NullString{String: asOf, Valid: true}); d != nil {
			r.AsOf = *d
		}
		r.Error = runErr.String
		r.StartedAt = parseTimePtr(startedAt)
		r.CompletedAt = parseTimePtr(completedAt)
		r.CreatedAt = parseTime(createdAt)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
