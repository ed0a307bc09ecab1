/*
exception.go - Attendance exception review workflow

PURPOSE:
  An exception flags one attendance record for human review. A reviewer
  resolves it; approving or excusing usually means the points the record
  generated should come back off the balance.

STATE MACHINE:

    report ──▶ pending ──resolve──▶ approved   (terminal)
                  ▲                 excused    (terminal)
                  │                 denied     (terminal)
                  │                 appealed
                  └────reopen (once)────┘

  - Resolve is allowed from pending and from appealed.
  - An exception can be appealed at most once, and reopened at most once.
  - Anything else is an InvalidTransitionError.

POINTS:
  The workflow never touches balances. ReversePoints delegates a remove
  action to the ledger, tagged with the exception id. The caller decides
  the amount; it defaults to PointsAssigned.

SEE ALSO:
  - ledger.go: ApplyAction
  - record.go: AttendanceRecord
*/
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EXCEPTION TYPES
// =============================================================================

type ExceptionType string

const (
	ExceptionLateArrival        ExceptionType = "late_arrival"
	ExceptionEarlyDeparture     ExceptionType = "early_departure"
	ExceptionMissedPunch        ExceptionType = "missed_punch"
	ExceptionUnapprovedOvertime ExceptionType = "unapproved_overtime"
	ExceptionScheduleDeviation  ExceptionType = "schedule_deviation"
	ExceptionBreakViolation     ExceptionType = "break_violation"
	ExceptionNoCallNoShow       ExceptionType = "no_call_no_show"
	ExceptionOther              ExceptionType = "other"
)

func (t ExceptionType) Valid() bool {
	switch t {
	case ExceptionLateArrival, ExceptionEarlyDeparture, ExceptionMissedPunch,
		ExceptionUnapprovedOvertime, ExceptionScheduleDeviation, ExceptionBreakViolation,
		ExceptionNoCallNoShow, ExceptionOther:
		return true
	}
	return false
}

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityModerate, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

type ExceptionStatus string

const (
	StatusPending  ExceptionStatus = "pending"
	StatusApproved ExceptionStatus = "approved"
	StatusExcused  ExceptionStatus = "excused"
	StatusDenied   ExceptionStatus = "denied"
	StatusAppealed ExceptionStatus = "appealed"
)

// IsResolution reports whether s is one of the four values Resolve accepts.
func (s ExceptionStatus) IsResolution() bool {
	switch s {
	case StatusApproved, StatusExcused, StatusDenied, StatusAppealed:
		return true
	}
	return false
}

// ReversesPoints reports whether the status normally leads to a point removal.
func (s ExceptionStatus) ReversesPoints() bool {
	return s == StatusApproved || s == StatusExcused
}

// AttendanceException is a reviewable flag on exactly one record.
type AttendanceException struct {
	ID             ExceptionID
	OrganizationID OrganizationID
	EmployeeID     EmployeeID
	RecordID       RecordID

	Type            ExceptionType
	Severity        Severity
	Description     string
	OccurredAt      time.Time
	DurationMinutes *int
	PointsAssigned  Points

	Status ExceptionStatus

	ReportedBy   string
	ReportedByID string
	ReportedAt   time.Time

	ResolvedBy      string
	ResolvedByID    string
	ResolvedAt      *time.Time
	ResolutionNotes string

	Appealed   bool
	Reopened   bool
	ReopenedBy string
	ReopenedAt *time.Time

	UpdatedAt time.Time
}

// =============================================================================
// WORKFLOW
// =============================================================================

// ExceptionRepository is what the workflow needs from storage.
type ExceptionRepository interface {
	ExceptionStore
	RecordStore
}

type ExceptionWorkflow struct {
	Store  ExceptionRepository
	Ledger *Ledger
	Now    func() time.Time
	NewID  func() string
}

func NewExceptionWorkflow(store ExceptionRepository, ledger *Ledger) *ExceptionWorkflow {
	return &ExceptionWorkflow{
		Store:  store,
		Ledger: ledger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

type ReportExceptionInput struct {
	OrganizationID  OrganizationID
	RecordID        RecordID
	Type            ExceptionType
	Severity        Severity
	Description     string
	OccurredAt      time.Time
	DurationMinutes *int

	// PointsAssigned defaults to the record's occurrence points.
	PointsAssigned *Points
	Reporter       Actor
}

// Report creates a pending exception against an existing record.
func (w *ExceptionWorkflow) Report(ctx context.Context, in ReportExceptionInput) (*AttendanceException, error) {
	if err := requireOrganization(in.OrganizationID); err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown exception type %q", in.Type)}
	}
	if !in.Severity.Valid() {
		return nil, &ValidationError{Field: "severity", Message: fmt.Sprintf("unknown severity %q", in.Severity)}
	}
	if in.DurationMinutes != nil && *in.DurationMinutes < 0 {
		return nil, &ValidationError{Field: "duration_minutes", Message: "must be >= 0"}
	}
	if in.PointsAssigned != nil && in.PointsAssigned.IsNegative() {
		return nil, &ValidationError{Field: "points_assigned", Message: "must be >= 0"}
	}

	record, err := w.Store.GetRecord(ctx, in.RecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if record == nil || record.OrganizationID != in.OrganizationID {
		return nil, &NotFoundError{Kind: "record", ID: string(in.RecordID)}
	}

	now := w.Now().UTC()
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	points := record.OccurrencePoints
	if in.PointsAssigned != nil {
		points = *in.PointsAssigned
	}

	e := AttendanceException{
		ID:              ExceptionID(w.NewID()),
		OrganizationID:  in.OrganizationID,
		EmployeeID:      record.EmployeeID,
		RecordID:        record.ID,
		Type:            in.Type,
		Severity:        in.Severity,
		Description:     in.Description,
		OccurredAt:      occurred.UTC(),
		DurationMinutes: in.DurationMinutes,
		PointsAssigned:  points,
		Status:          StatusPending,
		ReportedBy:      in.Reporter.Name,
		ReportedByID:    in.Reporter.ID,
		ReportedAt:      now,
		UpdatedAt:       now,
	}
	if err := w.Store.CreateException(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to save exception: %w", err)
	}
	return &e, nil
}

// Get returns one exception scoped to the organization.
func (w *ExceptionWorkflow) Get(ctx context.Context, org OrganizationID, id ExceptionID) (*AttendanceException, error) {
	if err := requireOrganization(org); err != nil {
		return nil, err
	}
	e, err := w.Store.GetException(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load exception: %w", err)
	}
	if e == nil || e.OrganizationID != org {
		return nil, &NotFoundError{Kind: "exception", ID: string(id)}
	}
	return e, nil
}

func (w *ExceptionWorkflow) List(ctx context.Context, filter ExceptionFilter) ([]AttendanceException, error) {
	if err := requireOrganization(filter.OrganizationID); err != nil {
		return nil, err
	}
	return w.Store.ListExceptions(ctx, filter)
}

// Resolve moves a pending or appealed exception to a resolution status.
func (w *ExceptionWorkflow) Resolve(ctx context.Context, org OrganizationID, id ExceptionID, status ExceptionStatus, resolver Actor, notes string) (*AttendanceException, error) {
	e, err := w.Get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if !status.IsResolution() {
		return nil, &InvalidTransitionError{ExceptionID: id, From: e.Status, To: status, Reason: "not a resolution status"}
	}
	switch e.Status {
	case StatusPending:
	case StatusAppealed:
		if status == StatusAppealed {
			return nil, &InvalidTransitionError{ExceptionID: id, From: e.Status, To: status, Reason: "already appealed"}
		}
	default:
		return nil, &InvalidTransitionError{ExceptionID: id, From: e.Status, To: status, Reason: "exception is closed"}
	}
	if status == StatusAppealed && e.Appealed {
		return nil, &InvalidTransitionError{ExceptionID: id, From: e.Status, To: status, Reason: "an exception can be appealed once"}
	}

	from := e.Status
	now := w.Now().UTC()
	e.Status = status
	e.ResolvedBy = resolver.Name
	e.ResolvedByID = resolver.ID
	e.ResolvedAt = &now
	e.ResolutionNotes = notes
	e.UpdatedAt = now
	if status == StatusAppealed {
		e.Appealed = true
	}

	if err := w.update(ctx, *e, from); err != nil {
		return nil, err
	}
	return e, nil
}

// Reopen sends an appealed exception back to pending for re-review.
func (w *ExceptionWorkflow) Reopen(ctx context.Context, org OrganizationID, id ExceptionID, actor Actor, notes string) (*AttendanceException, error) {
	e, err := w.Get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusAppealed {
		return nil, &InvalidTransitionError{ExceptionID: id, From: e.Status, To: StatusPending, Reason: "only appealed exceptions can be reopened"}
	}
	if e.Reopened {
		return nil, &InvalidTransitionError{ExceptionID: id, From: e.Status, To: StatusPending, Reason: "already reopened once"}
	}

	now := w.Now().UTC()
	e.Status = StatusPending
	e.Reopened = true
	e.ReopenedBy = actor.Name
	e.ReopenedAt = &now
	e.ResolvedBy = ""
	e.ResolvedByID = ""
	e.ResolvedAt = nil
	if notes != "" {
		e.ResolutionNotes = notes
	}
	e.UpdatedAt = now

	if err := w.update(ctx, *e, StatusAppealed); err != nil {
		return nil, err
	}
	return e, nil
}

func (w *ExceptionWorkflow) update(ctx context.Context, e AttendanceException, from ExceptionStatus) error {
	err := w.Store.UpdateException(ctx, e, from)
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return &InvalidTransitionError{ExceptionID: e.ID, From: from, To: e.Status, Reason: "status changed concurrently"}
	}
	return fmt.Errorf("failed to save exception: %w", err)
}

// ReversePoints removes points for an approved or excused exception through
// the ledger. A nil amount means PointsAssigned. Each exception can be
// reversed once.
func (w *ExceptionWorkflow) ReversePoints(ctx context.Context, org OrganizationID, id ExceptionID, points *Points, actor Actor) (*LedgerResult, error) {
	e, err := w.Get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.ReversesPoints() {
		return nil, &InvalidTransitionError{ExceptionID: id, From: e.Status, To: e.Status, Reason: "points are only reversed for approved or excused exceptions"}
	}
	amount := e.PointsAssigned
	if points != nil {
		amount = *points
	}
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "points", Message: "must be >= 0"}
	}

	recordID := e.RecordID
	in := ActionInput{
		OrganizationID:    org,
		EmployeeID:        e.EmployeeID,
		Action:            ActionRemove,
		PointsChange:      amount,
		Reason:            fmt.Sprintf("exception %s %s", e.ID, e.Status),
		Actor:             actor,
		SourceRecordID:    &recordID,
		SourceExceptionID: &e.ID,
	}
	return w.Ledger.ApplyActionIf(ctx, in, func(history []HistoryEntry, next *ActionInput) error {
		for _, h := range history {
			if h.SourceExceptionID != nil && *h.SourceExceptionID == id && h.Action == ActionRemove {
				return &ValidationError{Field: "exception_id", Message: "points already reversed"}
			}
			if h.Action == ActionAdd && h.SourceRecordID != nil && *h.SourceRecordID == e.RecordID {
				hid := h.ID
				next.SourceEntryID = &hid
			}
		}
		return nil
	})
}
