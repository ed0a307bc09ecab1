/*
record.go - Attendance record store (engine entry point)

PURPOSE:
  One AttendanceRecord per (organization, employee, date). MarkAttendance
  upserts the day's record, classifies it, and adds the classified points
  to the ledger tagged with the record id.

FLOW:
  facts ─▶ derive flags ─▶ Classify ─▶ upsert record ─▶ ledger add ─▶ tier

UPSERT:
  An existing record for the day keeps its ID, CreatedAt and any approval
  or review metadata; everything else is replaced by the new facts.

KNOWN LIMITATION (re-submitted days):
  Marking the same day twice adds the second classification on top of the
  first. Earlier points are not reversed automatically; use an exception
  or a manual remove to correct them.

SEE ALSO:
  - classifier.go: Classify
  - ledger.go: ApplyAction
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ATTENDANCE RECORD
// =============================================================================

type AttendanceRecord struct {
	ID             RecordID
	OrganizationID OrganizationID
	EmployeeID     EmployeeID
	Date           Date

	// Schedule facts (from the external scheduling system)
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	ScheduledHours decimal.Decimal

	// Actual facts
	ActualClockIn  *time.Time
	ActualClockOut *time.Time
	ActualHours    decimal.Decimal
	BreakMinutes   int

	// Derived flags
	IsLate                bool
	LateMinutes           int
	IsEarlyDeparture      bool
	EarlyDepartureMinutes int
	IsOvertime            bool
	OvertimeMinutes       int
	IsAbsent              bool
	IsNoCallNoShow        bool

	// Classification
	OccurrenceType   OccurrenceType
	OccurrencePoints Points

	// Workflow metadata
	ApprovedBy     string
	ApprovedByID   string
	ApprovedAt     *time.Time
	ReviewedBy     string
	ReviewedByID   string
	ReviewedAt     *time.Time
	PayPeriodStart *Date
	PayPeriodEnd   *Date

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttendanceFacts is what a caller reports for a day. Minute fields left nil
// are derived from the schedule and punches when both are present.
type AttendanceFacts struct {
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	ScheduledHours *decimal.Decimal

	ActualClockIn  *time.Time
	ActualClockOut *time.Time
	ActualHours    *decimal.Decimal
	BreakMinutes   int

	LateMinutes           *int
	EarlyDepartureMinutes *int
	OvertimeMinutes       *int

	Absent       bool
	NoCallNoShow bool

	PayPeriodStart *Date
	PayPeriodEnd   *Date
	Notes          string
}

// =============================================================================
// RECORD SERVICE
// =============================================================================

type AttendanceService struct {
	Records  RecordStore
	Ledger   *Ledger
	Policies PolicySource
	Now      func() time.Time
	NewID    func() string
}

func NewAttendanceService(records RecordStore, ledger *Ledger, policies PolicySource) *AttendanceService {
	return &AttendanceService{
		Records:  records,
		Ledger:   ledger,
		Policies: policies,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

type MarkAttendanceInput struct {
	OrganizationID OrganizationID
	EmployeeID     EmployeeID
	Date           Date
	Facts          AttendanceFacts
	Actor          Actor
}

// MarkResult is the record plus the ledger state after marking.
type MarkResult struct {
	Record       AttendanceRecord
	Balance      Balance
	WarningLevel WarningLevel

	// Ledger is nil when the day classified as none.
	Ledger *LedgerResult
}

// MarkAttendance upserts the day's record and applies its points.
func (s *AttendanceService) MarkAttendance(ctx context.Context, in MarkAttendanceInput) (*MarkResult, error) {
	if err := requireOrganization(in.OrganizationID); err != nil {
		return nil, err
	}
	if err := requireEmployee(in.EmployeeID); err != nil {
		return nil, err
	}
	if in.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "required"}
	}
	if in.Date.After(DateOf(s.Now())) {
		return nil, &ValidationError{Field: "date", Message: "cannot be in the future"}
	}

	bal, err := s.Ledger.Balance(ctx, in.OrganizationID, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	policy, err := s.Policies.PolicyFor(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}

	record, err := deriveRecord(in, s.Now().UTC())
	if err != nil {
		return nil, err
	}
	occurrence, points, err := Classify(OccurrenceFacts{
		LateMinutes:           record.LateMinutes,
		EarlyDepartureMinutes: record.EarlyDepartureMinutes,
		Absent:                record.IsAbsent,
		NoCallNoShow:          record.IsNoCallNoShow,
		ScheduledHours:        record.ScheduledHours,
		ActualHours:           record.ActualHours,
	}, policy.Classifier)
	if err != nil {
		return nil, err
	}
	record.OccurrenceType = occurrence
	record.OccurrencePoints = points

	saved, err := s.upsert(ctx, record)
	if err != nil {
		return nil, err
	}

	result := &MarkResult{Record: saved, Balance: *bal, WarningLevel: bal.WarningLevel}
	if occurrence == OccurrenceNone {
		return result, nil
	}

	recordID := saved.ID
	lr, err := s.Ledger.ApplyAction(ctx, ActionInput{
		OrganizationID: in.OrganizationID,
		EmployeeID:     in.EmployeeID,
		Action:         ActionAdd,
		PointsChange:   points,
		Reason:         fmt.Sprintf("%s on %s", occurrence, in.Date),
		Actor:          in.Actor,
		EffectiveDate:  in.Date,
		ExpiryDate:     policy.ExpiryFor(in.Date),
		SourceRecordID: &recordID,
	})
	if err != nil {
		return nil, err
	}
	result.Ledger = lr
	result.Balance = lr.Balance
	result.WarningLevel = lr.WarningLevel
	return result, nil
}

// upsert keeps the existing row's identity and approval metadata. A
// concurrent insert for the same day surfaces as ErrDuplicateRecord; the
// second writer then updates the row the first one created.
func (s *AttendanceService) upsert(ctx context.Context, r AttendanceRecord) (AttendanceRecord, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.Records.GetRecordByDay(ctx, r.OrganizationID, r.EmployeeID, r.Date)
		if err != nil {
			return r, fmt.Errorf("failed to load record: %w", err)
		}
		if existing != nil {
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
			r.ApprovedBy, r.ApprovedByID, r.ApprovedAt = existing.ApprovedBy, existing.ApprovedByID, existing.ApprovedAt
			r.ReviewedBy, r.ReviewedByID, r.ReviewedAt = existing.ReviewedBy, existing.ReviewedByID, existing.ReviewedAt
			if r.PayPeriodStart == nil {
				r.PayPeriodStart = existing.PayPeriodStart
			}
			if r.PayPeriodEnd == nil {
				r.PayPeriodEnd = existing.PayPeriodEnd
			}
		} else {
			r.ID = RecordID(s.NewID())
		}

		err = s.Records.SaveRecord(ctx, r)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrDuplicateRecord) {
			return r, fmt.Errorf("failed to save record: %w", err)
		}
	}
	return r, &ConflictError{EmployeeID: r.EmployeeID, Attempts: 2}
}

// deriveRecord fills schedule/actual facts and the derived flags.
func deriveRecord(in MarkAttendanceInput, now time.Time) (AttendanceRecord, error) {
	f := in.Facts
	if f.BreakMinutes < 0 {
		return AttendanceRecord{}, &ValidationError{Field: "break_minutes", Message: "must be >= 0"}
	}
	if f.ScheduledStart != nil && f.ScheduledEnd != nil && f.ScheduledEnd.Before(*f.ScheduledStart) {
		return AttendanceRecord{}, &ValidationError{Field: "scheduled_end", Message: "before scheduled_start"}
	}
	if f.ActualClockIn != nil && f.ActualClockOut != nil && f.ActualClockOut.Before(*f.ActualClockIn) {
		return AttendanceRecord{}, &ValidationError{Field: "actual_clock_out", Message: "before actual_clock_in"}
	}
	for field, v := range map[string]*int{
		"late_minutes":            f.LateMinutes,
		"early_departure_minutes": f.EarlyDepartureMinutes,
		"overtime_minutes":        f.OvertimeMinutes,
	} {
		if v != nil && *v < 0 {
			return AttendanceRecord{}, &ValidationError{Field: field, Message: "must be >= 0"}
		}
	}

	r := AttendanceRecord{
		OrganizationID: in.OrganizationID,
		EmployeeID:     in.EmployeeID,
		Date:           in.Date,
		ScheduledStart: f.ScheduledStart,
		ScheduledEnd:   f.ScheduledEnd,
		ActualClockIn:  f.ActualClockIn,
		ActualClockOut: f.ActualClockOut,
		BreakMinutes:   f.BreakMinutes,
		IsAbsent:       f.Absent || f.NoCallNoShow,
		IsNoCallNoShow: f.NoCallNoShow,
		PayPeriodStart: f.PayPeriodStart,
		PayPeriodEnd:   f.PayPeriodEnd,
		Notes:          f.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch {
	case f.ScheduledHours != nil:
		r.ScheduledHours = *f.ScheduledHours
	case f.ScheduledStart != nil && f.ScheduledEnd != nil:
		r.ScheduledHours = minutesToHours(minutesBetween(*f.ScheduledStart, *f.ScheduledEnd))
	}
	switch {
	case f.ActualHours != nil:
		r.ActualHours = *f.ActualHours
	case f.ActualClockIn != nil && f.ActualClockOut != nil:
		worked := minutesBetween(*f.ActualClockIn, *f.ActualClockOut) - f.BreakMinutes
		if worked < 0 {
			worked = 0
		}
		r.ActualHours = minutesToHours(worked)
	}
	if r.ScheduledHours.IsNegative() || r.ActualHours.IsNegative() {
		return AttendanceRecord{}, &ValidationError{Field: "hours", Message: "must be >= 0"}
	}

	switch {
	case f.LateMinutes != nil:
		r.LateMinutes = *f.LateMinutes
	case f.ScheduledStart != nil && f.ActualClockIn != nil:
		r.LateMinutes = positiveMinutes(*f.ScheduledStart, *f.ActualClockIn)
	}
	switch {
	case f.EarlyDepartureMinutes != nil:
		r.EarlyDepartureMinutes = *f.EarlyDepartureMinutes
	case f.ScheduledEnd != nil && f.ActualClockOut != nil:
		r.EarlyDepartureMinutes = positiveMinutes(*f.ActualClockOut, *f.ScheduledEnd)
	}
	switch {
	case f.OvertimeMinutes != nil:
		r.OvertimeMinutes = *f.OvertimeMinutes
	case r.ScheduledHours.IsPositive() && r.ActualHours.GreaterThan(r.ScheduledHours):
		r.OvertimeMinutes = int(r.ActualHours.Sub(r.ScheduledHours).Mul(decimal.NewFromInt(60)).IntPart())
	}

	r.IsLate = r.LateMinutes > 0
	r.IsEarlyDeparture = r.EarlyDepartureMinutes > 0
	r.IsOvertime = r.OvertimeMinutes > 0
	return r, nil
}

func minutesBetween(from, to time.Time) int {
	return int(to.Sub(from) / time.Minute)
}

// positiveMinutes returns whole minutes from a to b, or 0 if b is not after a.
func positiveMinutes(a, b time.Time) int {
	if m := minutesBetween(a, b); m > 0 {
		return m
	}
	return 0
}

func minutesToHours(m int) decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(60)).Round(2)
}

// =============================================================================
// QUERIES & APPROVAL
// =============================================================================

func (s *AttendanceService) GetRecord(ctx context.Context, org OrganizationID, id RecordID) (*AttendanceRecord, error) {
	if err := requireOrganization(org); err != nil {
		return nil, err
	}
	r, err := s.Records.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if r == nil || r.OrganizationID != org {
		return nil, &NotFoundError{Kind: "record", ID: string(id)}
	}
	return r, nil
}

func (s *AttendanceService) ListRecords(ctx context.Context, filter RecordFilter) ([]AttendanceRecord, error) {
	if err := requireOrganization(filter.OrganizationID); err != nil {
		return nil, err
	}
	return s.Records.ListRecords(ctx, filter)
}

// ApproveRecord stamps timesheet approval. Points are not affected.
func (s *AttendanceService) ApproveRecord(ctx context.Context, org OrganizationID, id RecordID, approver Actor) (*AttendanceRecord, error) {
	r, err := s.GetRecord(ctx, org, id)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	r.ApprovedBy = approver.Name
	r.ApprovedByID = approver.ID
	r.ApprovedAt = &now
	r.UpdatedAt = now
	if err := s.Records.SaveRecord(ctx, *r); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	return r, nil
}

// ReviewRecord stamps reviewer metadata, e.g. after an exception on the
// record has been resolved.
func (s *AttendanceService) ReviewRecord(ctx context.Context, org OrganizationID, id RecordID, reviewer Actor) (*AttendanceRecord, error) {
	r, err := s.GetRecord(ctx, org, id)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	r.ReviewedBy = reviewer.Name
	r.ReviewedByID = reviewer.ID
	r.ReviewedAt = &now
	r.UpdatedAt = now
	if err := s.Records.SaveRecord(ctx, *r); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	return r, nil
}
