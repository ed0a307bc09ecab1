package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"golang.org/x/sync/errgroup"
)

var reviewer = attendance.Actor{ID: "hr-7", Name: "Riley"}

func reportOn(t *testing.T, s *services, rec attendance.AttendanceRecord, typ attendance.ExceptionType) *attendance.AttendanceException {
	t.Helper()
	e, err := s.exceptions.Report(context.Background(), attendance.ReportExceptionInput{
		OrganizationID: testOrg,
		RecordID:       rec.ID,
		Type:           typ,
		Severity:       attendance.SeverityModerate,
		Description:    "flagged by timekeeping",
		Reporter:       attendance.Actor{ID: "sup-1", Name: "Supervisor"},
	})
	require.NoError(t, err)
	return e
}

// =============================================================================
// REPORT
// =============================================================================

func TestReportException_DefaultsToRecordPoints(t *testing.T) {
	// GIVEN: A late_major day (2 points)
	s := newTestServices(t)
	r := mark(t, s, today(), shift(today(), 20, 0))

	// WHEN: Reporting an exception on it
	e := reportOn(t, s, r.Record, attendance.ExceptionLateArrival)

	// THEN: It is pending, tied to the record, with the record's points
	assert.Equal(t, attendance.StatusPending, e.Status)
	assert.Equal(t, r.Record.ID, e.RecordID)
	assert.Equal(t, testEmp, e.EmployeeID)
	assertPoints(t, 2, e.PointsAssigned)
	assert.Equal(t, "Supervisor", e.ReportedBy)
	assert.Equal(t, testNow, e.ReportedAt)
}

func TestReportException_Validation(t *testing.T) {
	s := newTestServices(t)
	r := mark(t, s, today(), shift(today(), 20, 0))
	ctx := context.Background()

	_, err := s.exceptions.Report(ctx, attendance.ReportExceptionInput{
		OrganizationID: testOrg, RecordID: r.Record.ID, Type: "sleeping", Severity: attendance.SeverityMinor,
	})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, err = s.exceptions.Report(ctx, attendance.ReportExceptionInput{
		OrganizationID: testOrg, RecordID: r.Record.ID, Type: attendance.ExceptionOther, Severity: "apocalyptic",
	})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, err = s.exceptions.Report(ctx, attendance.ReportExceptionInput{
		OrganizationID: testOrg, RecordID: "missing", Type: attendance.ExceptionOther, Severity: attendance.SeverityMinor,
	})
	assert.ErrorIs(t, err, attendance.ErrNotFound)

	_, err = s.exceptions.Report(ctx, attendance.ReportExceptionInput{
		OrganizationID: "globex", RecordID: r.Record.ID, Type: attendance.ExceptionOther, Severity: attendance.SeverityMinor,
	})
	assert.ErrorIs(t, err, attendance.ErrNotFound, "records of other organizations are invisible")
}

// =============================================================================
// RESOLVE / APPEAL / REOPEN
// =============================================================================

func TestResolveException_StateMachine(t *testing.T) {
	s := newTestServices(t)
	r := mark(t, s, today(), shift(today(), 20, 0))
	ctx := context.Background()

	// pending -> denied
	e := reportOn(t, s, r.Record, attendance.ExceptionLateArrival)
	denied, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusDenied, reviewer, "no documentation")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusDenied, denied.Status)
	assert.Equal(t, "Riley", denied.ResolvedBy)
	assert.Equal(t, "no documentation", denied.ResolutionNotes)

	// denied is final
	_, err = s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusApproved, reviewer, "")
	var tErr *attendance.InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, attendance.StatusDenied, tErr.From)

	// pending is not a resolution
	e2 := reportOn(t, s, r.Record, attendance.ExceptionOther)
	_, err = s.exceptions.Resolve(ctx, testOrg, e2.ID, attendance.StatusPending, reviewer, "")
	assert.ErrorIs(t, err, attendance.ErrInvalidTransition)
}

func TestResolveException_AppealOnceReopenOnce(t *testing.T) {
	// GIVEN: A pending exception
	s := newTestServices(t)
	r := mark(t, s, today(), attendance.AttendanceFacts{NoCallNoShow: true})
	e := reportOn(t, s, r.Record, attendance.ExceptionNoCallNoShow)
	ctx := context.Background()

	// WHEN: The employee appeals
	appealed, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusAppealed, reviewer, "hospital note")
	require.NoError(t, err)
	assert.True(t, appealed.Appealed)

	// THEN: Appealing again is rejected
	_, err = s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusAppealed, reviewer, "")
	assert.ErrorIs(t, err, attendance.ErrInvalidTransition)

	// WHEN: HR reopens it for another look
	reopened, err := s.exceptions.Reopen(ctx, testOrg, e.ID, reviewer, "re-review")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPending, reopened.Status)
	assert.True(t, reopened.Reopened)
	assert.Nil(t, reopened.ResolvedAt)

	// THEN: It cannot be appealed a second time
	_, err = s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusAppealed, reviewer, "")
	assert.ErrorIs(t, err, attendance.ErrInvalidTransition)

	// AND: It can only be reopened from appealed
	_, err = s.exceptions.Reopen(ctx, testOrg, e.ID, reviewer, "")
	assert.ErrorIs(t, err, attendance.ErrInvalidTransition)

	// AND: It can still be resolved
	excused, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusExcused, reviewer, "documented emergency")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusExcused, excused.Status)
}

func TestResolveException_ConcurrentChangeIsRejected(t *testing.T) {
	// GIVEN: Two reviewers that both loaded the exception while pending
	s := newTestServices(t)
	r := mark(t, s, today(), shift(today(), 20, 0))
	e := reportOn(t, s, r.Record, attendance.ExceptionLateArrival)
	ctx := context.Background()

	stale := *e
	_, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusApproved, reviewer, "")
	require.NoError(t, err)

	// WHEN: The second write still expects pending
	stale.Status = attendance.StatusDenied
	err = s.mem.UpdateException(ctx, stale, attendance.StatusPending)

	// THEN: The store refuses it
	assert.ErrorIs(t, err, attendance.ErrConcurrentModification)
}

// =============================================================================
// REVERSE POINTS
// =============================================================================

func TestReversePoints_ExcusedRemovesAssignedPoints(t *testing.T) {
	// GIVEN: An excused late_major (2 points) on top of a 4-point absence
	s := newTestServices(t)
	mark(t, s, today().AddDays(-1), attendance.AttendanceFacts{Absent: true})
	r := mark(t, s, today(), shift(today(), 20, 0))
	e := reportOn(t, s, r.Record, attendance.ExceptionLateArrival)
	ctx := context.Background()

	_, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusExcused, reviewer, "transit outage")
	require.NoError(t, err)

	// WHEN: Reversing the points
	result, err := s.exceptions.ReversePoints(ctx, testOrg, e.ID, nil, reviewer)

	// THEN: The 2 points come off through a remove entry linked to the exception
	require.NoError(t, err)
	assertPoints(t, 6, result.PointsBefore)
	assertPoints(t, 4, result.PointsAfter)
	assert.Equal(t, attendance.ActionRemove, result.Entry.Action)
	require.NotNil(t, result.Entry.SourceExceptionID)
	assert.Equal(t, e.ID, *result.Entry.SourceExceptionID)
	require.NotNil(t, result.Entry.SourceEntryID, "remove points at the add it draws down")
	assert.Equal(t, attendance.WarningVerbal, result.WarningLevel)

	// AND: A second reversal is rejected
	_, err = s.exceptions.ReversePoints(ctx, testOrg, e.ID, nil, reviewer)
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestReversePoints_ConcurrentCallsReverseOnce(t *testing.T) {
	// GIVEN: An excused late_major (2 points) on top of a 4-point absence,
	// with a slow clock so concurrent reversals overlap
	s := newTestServices(t)
	mark(t, s, today().AddDays(-1), attendance.AttendanceFacts{Absent: true})
	r := mark(t, s, today(), shift(today(), 20, 0))
	e := reportOn(t, s, r.Record, attendance.ExceptionLateArrival)
	ctx := context.Background()
	_, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusExcused, reviewer, "")
	require.NoError(t, err)

	s.ledger.MaxAttempts = 100
	s.ledger.Now = func() time.Time {
		time.Sleep(time.Millisecond)
		return testNow
	}

	// WHEN: Four reversals race
	const workers = 4
	errs := make([]error, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			_, errs[i] = s.exceptions.ReversePoints(ctx, testOrg, e.ID, nil, reviewer)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: Exactly one wins, the rest see the reversal already applied
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, attendance.ErrValidation)
	}
	assert.Equal(t, 1, succeeded)

	bal, err := s.ledger.Balance(ctx, testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 4, bal.CurrentPoints)

	history, err := s.ledger.History(ctx, testOrg, testEmp, nil, nil)
	require.NoError(t, err)
	removes := 0
	for _, h := range history {
		if h.Action == attendance.ActionRemove {
			removes++
		}
	}
	assert.Equal(t, 1, removes)
}

func TestReversePoints_PartialAmount(t *testing.T) {
	s := newTestServices(t)
	r := mark(t, s, today(), attendance.AttendanceFacts{Absent: true})
	e := reportOn(t, s, r.Record, attendance.ExceptionOther)
	ctx := context.Background()
	_, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusApproved, reviewer, "")
	require.NoError(t, err)

	half := attendance.NewPoints(1.5)
	result, err := s.exceptions.ReversePoints(ctx, testOrg, e.ID, &half, reviewer)

	require.NoError(t, err)
	assertPoints(t, 2.5, result.PointsAfter)
}

func TestReversePoints_RequiresApprovedOrExcused(t *testing.T) {
	s := newTestServices(t)
	r := mark(t, s, today(), shift(today(), 20, 0))
	e := reportOn(t, s, r.Record, attendance.ExceptionLateArrival)
	ctx := context.Background()

	_, err := s.exceptions.ReversePoints(ctx, testOrg, e.ID, nil, reviewer)
	assert.ErrorIs(t, err, attendance.ErrInvalidTransition, "pending")

	_, err = s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusDenied, reviewer, "")
	require.NoError(t, err)
	_, err = s.exceptions.ReversePoints(ctx, testOrg, e.ID, nil, reviewer)
	assert.ErrorIs(t, err, attendance.ErrInvalidTransition, "denied")

	bal, err := s.ledger.Balance(ctx, testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 2, bal.CurrentPoints)
}

func TestReversedPoints_ShrinkLaterExpiry(t *testing.T) {
	// GIVEN: An absence long enough ago that its points are due, partly reversed
	s := newTestServices(t)
	day := today().AddDays(-400)
	r := mark(t, s, day, attendance.AttendanceFacts{Absent: true})
	e := reportOn(t, s, r.Record, attendance.ExceptionOther)
	ctx := context.Background()
	_, err := s.exceptions.Resolve(ctx, testOrg, e.ID, attendance.StatusApproved, reviewer, "")
	require.NoError(t, err)
	one := attendance.NewPointsFromInt(1)
	_, err = s.exceptions.ReversePoints(ctx, testOrg, e.ID, &one, reviewer)
	require.NoError(t, err)

	// WHEN: The sweep runs
	report, err := s.ledger.ExpirePoints(ctx, today())

	// THEN: Only the remaining 3 points expire
	require.NoError(t, err)
	assertPoints(t, 3, report.PointsExpired)
	bal, err := s.ledger.Balance(ctx, testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 0, bal.CurrentPoints)
}

func TestListExceptions_FiltersByStatus(t *testing.T) {
	s := newTestServices(t)
	r := mark(t, s, today(), shift(today(), 20, 0))
	ctx := context.Background()
	e1 := reportOn(t, s, r.Record, attendance.ExceptionLateArrival)
	reportOn(t, s, r.Record, attendance.ExceptionMissedPunch)
	_, err := s.exceptions.Resolve(ctx, testOrg, e1.ID, attendance.StatusDenied, reviewer, "")
	require.NoError(t, err)

	pending, err := s.exceptions.List(ctx, attendance.ExceptionFilter{
		OrganizationID: testOrg,
		Statuses:       []attendance.ExceptionStatus{attendance.StatusPending},
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, attendance.ExceptionMissedPunch, pending[0].Type)

	all, err := s.exceptions.List(ctx, attendance.ExceptionFilter{OrganizationID: testOrg})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.exceptions.Get(ctx, "globex", e1.ID)
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}
