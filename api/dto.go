/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers run them
  before touching the engine; the engine re-checks its own invariants.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/store/sqlite"
)

const dateLayout = "2006-01-02"

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	HireDate  string `json:"hire_date,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest creates an employee and opens their zero balance.
type CreateEmployeeRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"omitempty,email"`
	HireDate string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// BALANCE & HISTORY
// =============================================================================

// BalanceDTO is the materialized balance. Counters are reported as of today.
type BalanceDTO struct {
	EmployeeID          string  `json:"employee_id"`
	CurrentPoints       float64 `json:"current_points"`
	PointsThisPeriod    float64 `json:"points_this_period"`
	PointsYTD           float64 `json:"points_ytd"`
	CounterPeriod       string  `json:"counter_period"`
	WarningLevel        string  `json:"warning_level"`
	LastOccurrenceDate  *string `json:"last_occurrence_date,omitempty"`
	NextPointExpiryDate *string `json:"next_point_expiry_date,omitempty"`
	LastWarningDate     *string `json:"last_warning_date,omitempty"`
	LastWarningType     string  `json:"last_warning_type,omitempty"`
	Version             int64   `json:"version"`
	UpdatedAt           string  `json:"updated_at"`
}

// HistoryEntryDTO is one ledger row.
type HistoryEntryDTO struct {
	ID                string  `json:"id"`
	Sequence          int64   `json:"sequence"`
	Action            string  `json:"action"`
	PointsChange      float64 `json:"points_change"`
	PointsBefore      float64 `json:"points_before"`
	PointsAfter       float64 `json:"points_after"`
	Reason            string  `json:"reason,omitempty"`
	EffectiveDate     string  `json:"effective_date"`
	ExpiryDate        *string `json:"expiry_date,omitempty"`
	PerformedBy       string  `json:"performed_by,omitempty"`
	PerformedByID     string  `json:"performed_by_id,omitempty"`
	SourceRecordID    string  `json:"source_record_id,omitempty"`
	SourceExceptionID string  `json:"source_exception_id,omitempty"`
	SourceEntryID     string  `json:"source_entry_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// ReconciliationDTO compares the balance with a replay of the history.
type ReconciliationDTO struct {
	EmployeeID    string   `json:"employee_id"`
	Balance       float64  `json:"balance"`
	LedgerSum     float64  `json:"ledger_sum"`
	Entries       int      `json:"entries"`
	Consistent    bool     `json:"consistent"`
	BrokenEntries []string `json:"broken_entries,omitempty"`
}

// LedgerActionRequest is a manual ledger action.
type LedgerActionRequest struct {
	Action            string          `json:"action" validate:"required,oneof=add remove expire reset adjust"`
	Points            decimal.Decimal `json:"points"`
	Reason            string          `json:"reason" validate:"required,max=500"`
	EffectiveDate     string          `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate        string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	SourceRecordID    string          `json:"source_record_id"`
	SourceExceptionID string          `json:"source_exception_id"`
	SourceEntryID     string          `json:"source_entry_id"`
}

// LedgerResultDTO reports one applied action.
type LedgerResultDTO struct {
	PointsBefore         float64         `json:"points_before"`
	PointsAfter          float64         `json:"points_after"`
	WarningLevel         string          `json:"warning_level"`
	PreviousWarningLevel string          `json:"previous_warning_level"`
	TierChanged          bool            `json:"tier_changed"`
	Entry                HistoryEntryDTO `json:"entry"`
	Balance              BalanceDTO      `json:"balance"`
}

// =============================================================================
// ATTENDANCE RECORDS
// =============================================================================

// MarkAttendanceRequest reports one day's schedule and punches.
type MarkAttendanceRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`

	ScheduledStart *time.Time       `json:"scheduled_start"`
	ScheduledEnd   *time.Time       `json:"scheduled_end"`
	ScheduledHours *decimal.Decimal `json:"scheduled_hours"`

	ActualClockIn  *time.Time       `json:"actual_clock_in"`
	ActualClockOut *time.Time       `json:"actual_clock_out"`
	ActualHours    *decimal.Decimal `json:"actual_hours"`
	BreakMinutes   int              `json:"break_minutes" validate:"gte=0"`

	LateMinutes           *int `json:"late_minutes" validate:"omitempty,gte=0"`
	EarlyDepartureMinutes *int `json:"early_departure_minutes" validate:"omitempty,gte=0"`
	OvertimeMinutes       *int `json:"overtime_minutes" validate:"omitempty,gte=0"`

	Absent       bool `json:"absent"`
	NoCallNoShow bool `json:"no_call_no_show"`

	PayPeriodStart string `json:"pay_period_start" validate:"omitempty,datetime=2006-01-02"`
	PayPeriodEnd   string `json:"pay_period_end" validate:"omitempty,datetime=2006-01-02"`
	Notes          string `json:"notes" validate:"max=2000"`
}

// RecordDTO represents an attendance record.
type RecordDTO struct {
	ID                    string  `json:"id"`
	EmployeeID            string  `json:"employee_id"`
	Date                  string  `json:"date"`
	ScheduledStart        *string `json:"scheduled_start,omitempty"`
	ScheduledEnd          *string `json:"scheduled_end,omitempty"`
	ScheduledHours        float64 `json:"scheduled_hours"`
	ActualClockIn         *string `json:"actual_clock_in,omitempty"`
	ActualClockOut        *string `json:"actual_clock_out,omitempty"`
	ActualHours           float64 `json:"actual_hours"`
	BreakMinutes          int     `json:"break_minutes"`
	IsLate                bool    `json:"is_late"`
	LateMinutes           int     `json:"late_minutes"`
	IsEarlyDeparture      bool    `json:"is_early_departure"`
	EarlyDepartureMinutes int     `json:"early_departure_minutes"`
	IsOvertime            bool    `json:"is_overtime"`
	OvertimeMinutes       int     `json:"overtime_minutes"`
	IsAbsent              bool    `json:"is_absent"`
	IsNoCallNoShow        bool    `json:"is_no_call_no_show"`
	OccurrenceType        string  `json:"occurrence_type"`
	OccurrencePoints      float64 `json:"occurrence_points"`
	ApprovedBy            string  `json:"approved_by,omitempty"`
	ApprovedAt            *string `json:"approved_at,omitempty"`
	ReviewedBy            string  `json:"reviewed_by,omitempty"`
	ReviewedAt            *string `json:"reviewed_at,omitempty"`
	PayPeriodStart        *string `json:"pay_period_start,omitempty"`
	PayPeriodEnd          *string `json:"pay_period_end,omitempty"`
	Notes                 string  `json:"notes,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

// MarkAttendanceResponse is the record plus the ledger outcome.
type MarkAttendanceResponse struct {
	Record       RecordDTO        `json:"record"`
	Balance      BalanceDTO       `json:"balance"`
	WarningLevel string           `json:"warning_level"`
	TierChanged  bool             `json:"tier_changed"`
	Entry        *HistoryEntryDTO `json:"entry,omitempty"`
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

// ReportExceptionRequest opens an exception against a record.
type ReportExceptionRequest struct {
	RecordID        string           `json:"record_id" validate:"required"`
	Type            string           `json:"type" validate:"required,oneof=late_arrival early_departure missed_punch unapproved_overtime schedule_deviation break_violation no_call_no_show other"`
	Severity        string           `json:"severity" validate:"required,oneof=minor moderate major critical"`
	Description     string           `json:"description" validate:"max=2000"`
	OccurredAt      *time.Time       `json:"occurred_at"`
	DurationMinutes *int             `json:"duration_minutes" validate:"omitempty,gte=0"`
	PointsAssigned  *decimal.Decimal `json:"points_assigned"`
}

// ResolveExceptionRequest moves an exception out of pending or appealed.
type ResolveExceptionRequest struct {
	Status string `json:"status" validate:"required,oneof=approved excused denied appealed"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// ReopenExceptionRequest moves an appealed exception back to pending.
type ReopenExceptionRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// ReverseExceptionRequest removes the points of an approved/excused exception.
// Points defaults to the exception's assigned points.
type ReverseExceptionRequest struct {
	Points *decimal.Decimal `json:"points"`
}

// ExceptionDTO represents an exception.
type ExceptionDTO struct {
	ID              string  `json:"id"`
	EmployeeID      string  `json:"employee_id"`
	RecordID        string  `json:"record_id"`
	Type            string  `json:"type"`
	Severity        string  `json:"severity"`
	Description     string  `json:"description,omitempty"`
	OccurredAt      string  `json:"occurred_at"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	PointsAssigned  float64 `json:"points_assigned"`
	Status          string  `json:"status"`
	ReportedBy      string  `json:"reported_by,omitempty"`
	ReportedAt      string  `json:"reported_at"`
	ResolvedBy      string  `json:"resolved_by,omitempty"`
	ResolvedAt      *string `json:"resolved_at,omitempty"`
	ResolutionNotes string  `json:"resolution_notes,omitempty"`
	Appealed        bool    `json:"appealed"`
	Reopened        bool    `json:"reopened"`
	UpdatedAt       string  `json:"updated_at"`
}

// =============================================================================
// POLICIES & ADMIN
// =============================================================================

// PolicyDTO represents a policy in API responses.
type PolicyDTO struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id"`
	Name           string             `json:"name"`
	Config         factory.PolicyJSON `json:"config"`
	Version        int                `json:"version"`
	CreatedAt      string             `json:"created_at,omitempty"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
}

// ExpireRequest triggers the expiry sweep. AsOf defaults to today.
type ExpireRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

// ExpiryReportDTO summarizes one sweep.
type ExpiryReportDTO struct {
	RunID         string             `json:"run_id,omitempty"`
	AsOf          string             `json:"as_of"`
	Employees     int                `json:"employees"`
	Entries       int                `json:"entries"`
	PointsExpired float64            `json:"points_expired"`
	Failures      []ExpiryFailureDTO `json:"failures,omitempty"`
}

type ExpiryFailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

// ExpiryRunDTO is a stored sweep run.
type ExpiryRunDTO struct {
	ID            string  `json:"id"`
	AsOf          string  `json:"as_of"`
	Status        string  `json:"status"`
	Employees     int     `json:"employees"`
	Entries       int     `json:"entries"`
	PointsExpired float64 `json:"points_expired"`
	Failures      int     `json:"failures"`
	Error         string  `json:"error,omitempty"`
	StartedAt     *string `json:"started_at,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(e attendance.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:        string(e.ID),
		Name:      e.Name,
		Email:     e.Email,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.String()
	}
	return dto
}

func toBalanceDTO(b attendance.Balance, asOf attendance.Date, period attendance.PeriodType) BalanceDTO {
	thisPeriod, ytd := b.CountersAsOf(asOf, period)
	return BalanceDTO{
		EmployeeID:          string(b.EmployeeID),
		CurrentPoints:       b.CurrentPoints.Float64(),
		PointsThisPeriod:    thisPeriod.Float64(),
		PointsYTD:           ytd.Float64(),
		CounterPeriod:       string(period),
		WarningLevel:        string(b.WarningLevel),
		LastOccurrenceDate:  dateString(b.LastOccurrenceDate),
		NextPointExpiryDate: dateString(b.NextPointExpiryDate),
		LastWarningDate:     dateString(b.LastWarningDate),
		LastWarningType:     string(b.LastWarningType),
		Version:             b.Version,
		UpdatedAt:           b.UpdatedAt.Format(time.RFC3339),
	}
}

func toHistoryEntryDTO(h attendance.HistoryEntry) HistoryEntryDTO {
	dto := HistoryEntryDTO{
		ID:            string(h.ID),
		Sequence:      h.Sequence,
		Action:        string(h.Action),
		PointsChange:  h.PointsChange.Float64(),
		PointsBefore:  h.PointsBefore.Float64(),
		PointsAfter:   h.PointsAfter.Float64(),
		Reason:        h.Reason,
		EffectiveDate: h.EffectiveDate.String(),
		ExpiryDate:    dateString(h.ExpiryDate),
		PerformedBy:   h.PerformedBy,
		PerformedByID: h.PerformedByID,
		CreatedAt:     h.CreatedAt.Format(time.RFC3339),
	}
	if h.SourceRecordID != nil {
		dto.SourceRecordID = string(*h.SourceRecordID)
	}
	if h.SourceExceptionID != nil {
		dto.SourceExceptionID = string(*h.SourceExceptionID)
	}
	if h.SourceEntryID != nil {
		dto.SourceEntryID = string(*h.SourceEntryID)
	}
	return dto
}

func toHistoryDTOs(entries []attendance.HistoryEntry) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, h := range entries {
		dtos[i] = toHistoryEntryDTO(h)
	}
	return dtos
}

func toLedgerResultDTO(r attendance.LedgerResult, asOf attendance.Date, period attendance.PeriodType) LedgerResultDTO {
	return LedgerResultDTO{
		PointsBefore:         r.PointsBefore.Float64(),
		PointsAfter:          r.PointsAfter.Float64(),
		WarningLevel:         string(r.WarningLevel),
		PreviousWarningLevel: string(r.PreviousWarningLevel),
		TierChanged:          r.TierChanged,
		Entry:                toHistoryEntryDTO(r.Entry),
		Balance:              toBalanceDTO(r.Balance, asOf, period),
	}
}

func toRecordDTO(r attendance.AttendanceRecord) RecordDTO {
	scheduled, _ := r.ScheduledHours.Float64()
	actual, _ := r.ActualHours.Float64()
	return RecordDTO{
		ID:                    string(r.ID),
		EmployeeID:            string(r.EmployeeID),
		Date:                  r.Date.String(),
		ScheduledStart:        timeString(r.ScheduledStart),
		ScheduledEnd:          timeString(r.ScheduledEnd),
		ScheduledHours:        scheduled,
		ActualClockIn:         timeString(r.ActualClockIn),
		ActualClockOut:        timeString(r.ActualClockOut),
		ActualHours:           actual,
		BreakMinutes:          r.BreakMinutes,
		IsLate:                r.IsLate,
		LateMinutes:           r.LateMinutes,
		IsEarlyDeparture:      r.IsEarlyDeparture,
		EarlyDepartureMinutes: r.EarlyDepartureMinutes,
		IsOvertime:            r.IsOvertime,
		OvertimeMinutes:       r.OvertimeMinutes,
		IsAbsent:              r.IsAbsent,
		IsNoCallNoShow:        r.IsNoCallNoShow,
		OccurrenceType:        string(r.OccurrenceType),
		OccurrencePoints:      r.OccurrencePoints.Float64(),
		ApprovedBy:            r.ApprovedBy,
		ApprovedAt:            timeString(r.ApprovedAt),
		ReviewedBy:            r.ReviewedBy,
		ReviewedAt:            timeString(r.ReviewedAt),
		PayPeriodStart:        dateString(r.PayPeriodStart),
		PayPeriodEnd:          dateString(r.PayPeriodEnd),
		Notes:                 r.Notes,
		CreatedAt:             r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             r.UpdatedAt.Format(time.RFC3339),
	}
}

func toExceptionDTO(e attendance.AttendanceException) ExceptionDTO {
	return ExceptionDTO{
		ID:              string(e.ID),
		EmployeeID:      string(e.EmployeeID),
		RecordID:        string(e.RecordID),
		Type:            string(e.Type),
		Severity:        string(e.Severity),
		Description:     e.Description,
		OccurredAt:      e.OccurredAt.Format(time.RFC3339),
		DurationMinutes: e.DurationMinutes,
		PointsAssigned:  e.PointsAssigned.Float64(),
		Status:          string(e.Status),
		ReportedBy:      e.ReportedBy,
		ReportedAt:      e.ReportedAt.Format(time.RFC3339),
		ResolvedBy:      e.ResolvedBy,
		ResolvedAt:      timeString(e.ResolvedAt),
		ResolutionNotes: e.ResolutionNotes,
		Appealed:        e.Appealed,
		Reopened:        e.Reopened,
		UpdatedAt:       e.UpdatedAt.Format(time.RFC3339),
	}
}

func toExpiryRunDTO(r sqlite.ExpiryRun) ExpiryRunDTO {
	return ExpiryRunDTO{
		ID:            r.ID,
		AsOf:          r.AsOf.String(),
		Status:        r.Status,
		Employees:     r.Employees,
		Entries:       r.Entries,
		PointsExpired: r.PointsExpired.Float64(),
		Failures:      r.Failures,
		Error:         r.Error,
		StartedAt:     timeString(r.StartedAt),
		CompletedAt:   timeString(r.CompletedAt),
	}
}

func dateString(d *attendance.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
