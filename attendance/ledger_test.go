package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testOrg attendance.OrganizationID = "acme"
	testEmp attendance.EmployeeID     = "emp-1"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func today() attendance.Date { return attendance.DateOf(testNow) }

func newTestLedger(t *testing.T) (*attendance.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	l := attendance.NewLedger(mem, attendance.NewStaticPolicies(attendance.DefaultPolicy()))
	l.Now = func() time.Time { return testNow }

	_, err := l.Enroll(context.Background(), testOrg, testEmp)
	require.NoError(t, err)
	return l, mem
}

func addPoints(t *testing.T, l *attendance.Ledger, points float64, effective attendance.Date, expiry *attendance.Date) *attendance.LedgerResult {
	t.Helper()
	r, err := l.ApplyAction(context.Background(), attendance.ActionInput{
		OrganizationID: testOrg,
		EmployeeID:     testEmp,
		Action:         attendance.ActionAdd,
		PointsChange:   attendance.NewPoints(points),
		Reason:         "occurrence",
		Actor:          attendance.Actor{ID: "mgr-1", Name: "Manager"},
		EffectiveDate:  effective,
		ExpiryDate:     expiry,
	})
	require.NoError(t, err)
	return r
}

func apply(l *attendance.Ledger, action attendance.Action, points float64) (*attendance.LedgerResult, error) {
	return l.ApplyAction(context.Background(), attendance.ActionInput{
		OrganizationID: testOrg,
		EmployeeID:     testEmp,
		Action:         action,
		PointsChange:   attendance.NewPoints(points),
		Reason:         string(action),
		Actor:          attendance.Actor{ID: "hr-1", Name: "HR"},
	})
}

func assertPoints(t *testing.T, want float64, got attendance.Points) {
	t.Helper()
	assert.True(t, got.Equal(attendance.NewPoints(want)), "expected %v points, got %s", want, got)
}

// =============================================================================
// ENROLL & LOOKUP
// =============================================================================

func TestLedger_Enroll_OpensZeroBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	bal, err := l.Balance(ctx, testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 0, bal.CurrentPoints)
	assert.Equal(t, attendance.WarningNone, bal.WarningLevel)
	assert.Equal(t, int64(1), bal.Version)

	// Enrolling again is a no-op
	again, err := l.Enroll(ctx, testOrg, testEmp)
	require.NoError(t, err)
	assert.Equal(t, bal.Version, again.Version)
}

func TestLedger_UnknownEmployee_NotFound(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Balance(context.Background(), testOrg, "nobody")
	assert.True(t, attendance.IsNotFound(err))

	_, err = l.ApplyAction(context.Background(), attendance.ActionInput{
		OrganizationID: testOrg,
		EmployeeID:     "nobody",
		Action:         attendance.ActionAdd,
		PointsChange:   attendance.NewPointsFromInt(1),
	})
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

func TestLedger_MissingOrganization_ConfigurationError(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Balance(context.Background(), "", testEmp)
	assert.ErrorIs(t, err, attendance.ErrConfiguration)
}

func TestLedger_TenantIsolation(t *testing.T) {
	// GIVEN: Points for emp-1 in acme
	l, _ := newTestLedger(t)
	addPoints(t, l, 3, today(), nil)

	// WHEN: Looking up the same employee id in another organization
	_, err := l.Balance(context.Background(), "globex", testEmp)

	// THEN: It does not exist there
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

// =============================================================================
// ACTIONS
// =============================================================================

func TestLedger_Add_UpdatesBalanceAndHistory(t *testing.T) {
	l, _ := newTestLedger(t)

	r := addPoints(t, l, 2, today(), nil)

	assertPoints(t, 0, r.PointsBefore)
	assertPoints(t, 2, r.PointsAfter)
	assert.Equal(t, attendance.ActionAdd, r.Entry.Action)
	assert.Equal(t, "Manager", r.Entry.PerformedBy)
	assert.Equal(t, "mgr-1", r.Entry.PerformedByID)
	assert.Equal(t, today(), *r.Balance.LastOccurrenceDate)
	assert.Equal(t, int64(2), r.Balance.Version)

	history, err := l.History(context.Background(), testOrg, testEmp, nil, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assertPoints(t, 2, history[0].PointsChange)
}

func TestLedger_Add_RejectsNegative(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := apply(l, attendance.ActionAdd, -1)

	var vErr *attendance.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "points_change", vErr.Field)
}

func TestLedger_Remove_FloorsAtZero(t *testing.T) {
	// GIVEN: 2 points
	l, _ := newTestLedger(t)
	addPoints(t, l, 2, today(), nil)

	// WHEN: Removing 5
	r, err := apply(l, attendance.ActionRemove, 5)

	// THEN: Only 2 are removed and the entry records the applied change
	require.NoError(t, err)
	assertPoints(t, 0, r.PointsAfter)
	assertPoints(t, -2, r.Entry.PointsChange)
}

func TestLedger_Remove_IgnoresSign(t *testing.T) {
	l, _ := newTestLedger(t)
	addPoints(t, l, 3, today(), nil)

	r, err := apply(l, attendance.ActionRemove, -1)
	require.NoError(t, err)
	assertPoints(t, 2, r.PointsAfter)
}

func TestLedger_Reset_ZeroesBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	addPoints(t, l, 7, today(), nil)

	r, err := apply(l, attendance.ActionReset, 0)

	require.NoError(t, err)
	assertPoints(t, 0, r.PointsAfter)
	assertPoints(t, -7, r.Entry.PointsChange)
	assert.Equal(t, attendance.WarningNone, r.WarningLevel)
	assert.Equal(t, attendance.WarningWritten, r.PreviousWarningLevel)
	assert.True(t, r.TierChanged)
}

func TestLedger_Adjust_SignedAndFloored(t *testing.T) {
	l, _ := newTestLedger(t)
	addPoints(t, l, 3, today(), nil)

	r, err := apply(l, attendance.ActionAdjust, 1.5)
	require.NoError(t, err)
	assertPoints(t, 4.5, r.PointsAfter)

	r, err = apply(l, attendance.ActionAdjust, -10)
	require.NoError(t, err)
	assertPoints(t, 0, r.PointsAfter)
	assertPoints(t, -4.5, r.Entry.PointsChange)
}

func TestLedger_RejectsFutureEffectiveDate(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.ApplyAction(context.Background(), attendance.ActionInput{
		OrganizationID: testOrg,
		EmployeeID:     testEmp,
		Action:         attendance.ActionAdd,
		PointsChange:   attendance.NewPointsFromInt(1),
		EffectiveDate:  today().AddDays(1),
	})
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestLedger_RejectsExpiryOnNonAdd(t *testing.T) {
	l, _ := newTestLedger(t)
	addPoints(t, l, 2, today(), nil)

	exp := today().AddDays(30)
	_, err := l.ApplyAction(context.Background(), attendance.ActionInput{
		OrganizationID: testOrg,
		EmployeeID:     testEmp,
		Action:         attendance.ActionRemove,
		PointsChange:   attendance.NewPointsFromInt(1),
		ExpiryDate:     &exp,
	})
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestLedger_RejectsUnknownAction(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := apply(l, attendance.Action("double"), 1)
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

// =============================================================================
// TIERS & COUNTERS
// =============================================================================

func TestLedger_ProgressiveDiscipline(t *testing.T) {
	// GIVEN: An employee with a clean record
	l, _ := newTestLedger(t)

	// WHEN: A late arrival (1) then a full absence (4)
	r := addPoints(t, l, 1, today().AddDays(-10), nil)
	assert.False(t, r.TierChanged)

	r = addPoints(t, l, 4, today().AddDays(-2), nil)

	// THEN: 5 points puts them at a verbal warning, recorded on the balance
	assertPoints(t, 5, r.PointsAfter)
	assert.Equal(t, attendance.WarningVerbal, r.WarningLevel)
	assert.True(t, r.TierChanged)
	assert.Equal(t, attendance.WarningVerbal, r.Balance.LastWarningType)
	assert.Equal(t, today(), *r.Balance.LastWarningDate)

	// AND: A no-call/no-show (5) jumps straight to termination
	r = addPoints(t, l, 5, today(), nil)
	assert.Equal(t, attendance.WarningTermination, r.WarningLevel)
	assert.Equal(t, attendance.WarningVerbal, r.PreviousWarningLevel)

	// AND: Removing points lowers the tier again
	r, err := apply(l, attendance.ActionRemove, 5)
	require.NoError(t, err)
	assert.Equal(t, attendance.WarningVerbal, r.WarningLevel)
	assert.True(t, r.TierChanged)
}

func TestLedger_TierFollowsBalanceThroughExpiry(t *testing.T) {
	// GIVEN: An employee at zero points, one ledger for every step
	l, _ := newTestLedger(t)

	steps := []struct {
		name            string
		action          attendance.Action
		points          float64
		effective       attendance.Date
		wantBalance     float64
		wantTier        attendance.WarningLevel
		wantLastWarning attendance.WarningLevel
	}{
		{"first late_minor", attendance.ActionAdd, 1, today().AddDays(-30), 1, attendance.WarningNone, ""},
		{"second late_minor", attendance.ActionAdd, 1, today().AddDays(-20), 2, attendance.WarningNone, ""},
		{"third late_minor", attendance.ActionAdd, 1, today().AddDays(-10), 3, attendance.WarningNone, ""},
		{"fourth late_minor reaches verbal", attendance.ActionAdd, 1, today().AddDays(-5), 4, attendance.WarningVerbal, attendance.WarningVerbal},
		{"expire 2 drops back to none", attendance.ActionExpire, 2, today(), 2, attendance.WarningNone, attendance.WarningNone},
		{"no_call_no_show reaches written", attendance.ActionAdd, 5, today(), 7, attendance.WarningWritten, attendance.WarningWritten},
	}

	for _, step := range steps {
		// WHEN: Each action is applied in order
		r, err := l.ApplyAction(context.Background(), attendance.ActionInput{
			OrganizationID: testOrg,
			EmployeeID:     testEmp,
			Action:         step.action,
			PointsChange:   attendance.NewPoints(step.points),
			Reason:         step.name,
			EffectiveDate:  step.effective,
		})

		// THEN: The tier is recomputed from the new balance every time
		require.NoError(t, err, step.name)
		assertPoints(t, step.wantBalance, r.PointsAfter)
		assert.Equal(t, step.wantTier, r.WarningLevel, step.name)
		assert.Equal(t, step.wantLastWarning, r.Balance.LastWarningType, step.name)
	}
}

func TestLedger_Counters_PeriodAndYTD(t *testing.T) {
	// GIVEN: Monthly counters
	l, _ := newTestLedger(t)

	// WHEN: Points land in May and June
	addPoints(t, l, 1, attendance.NewDate(2025, time.May, 20), nil)
	r := addPoints(t, l, 2, attendance.NewDate(2025, time.June, 10), nil)

	// THEN: This period only counts June, YTD counts both
	thisPeriod, ytd := r.Balance.CountersAsOf(today(), attendance.PeriodMonth)
	assertPoints(t, 2, thisPeriod)
	assertPoints(t, 3, ytd)

	// AND: Next month the period counter reads zero
	thisPeriod, ytd = r.Balance.CountersAsOf(attendance.NewDate(2025, time.July, 1), attendance.PeriodMonth)
	assertPoints(t, 0, thisPeriod)
	assertPoints(t, 3, ytd)

	// AND: Next year both read zero
	thisPeriod, ytd = r.Balance.CountersAsOf(attendance.NewDate(2026, time.January, 2), attendance.PeriodMonth)
	assertPoints(t, 0, thisPeriod)
	assertPoints(t, 0, ytd)
}

func TestLedger_Counters_RemoveDoesNotDecrement(t *testing.T) {
	l, _ := newTestLedger(t)
	addPoints(t, l, 4, today(), nil)

	r, err := apply(l, attendance.ActionRemove, 4)
	require.NoError(t, err)

	thisPeriod, ytd := r.Balance.CountersAsOf(today(), attendance.PeriodMonth)
	assertPoints(t, 4, thisPeriod)
	assertPoints(t, 4, ytd)
}

func TestLedger_History_DateRange(t *testing.T) {
	l, _ := newTestLedger(t)
	addPoints(t, l, 1, attendance.NewDate(2025, time.March, 1), nil)
	addPoints(t, l, 1, attendance.NewDate(2025, time.April, 1), nil)
	addPoints(t, l, 1, attendance.NewDate(2025, time.May, 1), nil)

	from := attendance.NewDate(2025, time.March, 15)
	to := attendance.NewDate(2025, time.April, 30)
	history, err := l.History(context.Background(), testOrg, testEmp, &from, &to)

	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, attendance.NewDate(2025, time.April, 1), history[0].EffectiveDate)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestLedger_Reconcile_Consistent(t *testing.T) {
	l, _ := newTestLedger(t)
	addPoints(t, l, 3, today().AddDays(-5), nil)
	addPoints(t, l, 2, today(), nil)
	_, err := apply(l, attendance.ActionRemove, 10)
	require.NoError(t, err)
	_, err = apply(l, attendance.ActionAdjust, 1)
	require.NoError(t, err)

	rec, err := l.Reconcile(context.Background(), testOrg, testEmp)

	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 4, rec.Entries)
	assertPoints(t, 1, rec.Balance)
	assertPoints(t, 1, rec.LedgerSum)
	assert.Empty(t, rec.BrokenEntries)
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

func TestLedger_ExpirePoints_ExpiresDueAdds(t *testing.T) {
	// GIVEN: 4 points that expired June 1 and 2 points expiring next year
	l, _ := newTestLedger(t)
	old := addPoints(t, l, 4, attendance.NewDate(2024, time.June, 1), attendance.DatePtr(attendance.NewDate(2025, time.June, 1)))
	addPoints(t, l, 2, attendance.NewDate(2025, time.June, 10), attendance.DatePtr(attendance.NewDate(2026, time.June, 10)))

	bal, err := l.Balance(context.Background(), testOrg, testEmp)
	require.NoError(t, err)
	assert.Equal(t, attendance.WarningWritten, bal.WarningLevel)
	assert.Equal(t, attendance.NewDate(2025, time.June, 1), *bal.NextPointExpiryDate)

	// WHEN: The sweep runs today
	report, err := l.ExpirePoints(context.Background(), today())

	// THEN: Only the old add expires
	require.NoError(t, err)
	assert.Equal(t, 1, report.Employees)
	assert.Equal(t, 1, report.Entries)
	assertPoints(t, 4, report.PointsExpired)
	assert.Empty(t, report.Failures)

	bal, err = l.Balance(context.Background(), testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 2, bal.CurrentPoints)
	assert.Equal(t, attendance.WarningNone, bal.WarningLevel)
	assert.Equal(t, attendance.NewDate(2026, time.June, 10), *bal.NextPointExpiryDate)

	history, err := l.History(context.Background(), testOrg, testEmp, nil, nil)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, attendance.ActionExpire, last.Action)
	assert.Equal(t, attendance.SystemActor.Name, last.PerformedBy)
	require.NotNil(t, last.SourceEntryID)
	assert.Equal(t, old.Entry.ID, *last.SourceEntryID)

	// AND: Running again finds nothing due
	report, err = l.ExpirePoints(context.Background(), today())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Employees)
	assert.Equal(t, 0, report.Entries)
}

func TestLedger_ExpirePoints_OnlyOutstandingAfterRemove(t *testing.T) {
	// GIVEN: An expired 4-point add with 1 point already removed against it
	l, _ := newTestLedger(t)
	old := addPoints(t, l, 4, attendance.NewDate(2024, time.May, 1), attendance.DatePtr(attendance.NewDate(2025, time.May, 1)))
	source := old.Entry.ID
	_, err := l.ApplyAction(context.Background(), attendance.ActionInput{
		OrganizationID: testOrg,
		EmployeeID:     testEmp,
		Action:         attendance.ActionRemove,
		PointsChange:   attendance.NewPointsFromInt(1),
		Reason:         "excused",
		SourceEntryID:  &source,
	})
	require.NoError(t, err)
	addPoints(t, l, 1, today(), nil)

	// WHEN: The sweep runs
	report, err := l.ExpirePoints(context.Background(), today())

	// THEN: Only the 3 outstanding points expire
	require.NoError(t, err)
	assertPoints(t, 3, report.PointsExpired)
	bal, err := l.Balance(context.Background(), testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 1, bal.CurrentPoints)
	assert.Nil(t, bal.NextPointExpiryDate)
}

func TestLedger_ExpirePoints_DeductionsDrawDownOpenAdds(t *testing.T) {
	expired := attendance.NewDate(2025, time.June, 1)
	later := attendance.NewDate(2026, time.June, 1)

	tests := []struct {
		name        string
		deduct      func(old, young attendance.HistoryEntry) attendance.ActionInput
		wantExpired float64
		wantBalance float64
		wantNext    *attendance.Date
	}{
		{
			name: "unlinked remove comes off the oldest add",
			deduct: func(_, _ attendance.HistoryEntry) attendance.ActionInput {
				return attendance.ActionInput{Action: attendance.ActionRemove, PointsChange: attendance.NewPointsFromInt(4)}
			},
			wantExpired: 0,
			wantBalance: 3,
			wantNext:    &later,
		},
		{
			name: "remove linked by record comes off that record's add",
			deduct: func(_, young attendance.HistoryEntry) attendance.ActionInput {
				return attendance.ActionInput{Action: attendance.ActionRemove, PointsChange: attendance.NewPointsFromInt(3), SourceRecordID: young.SourceRecordID}
			},
			wantExpired: 4,
			wantBalance: 0,
		},
		{
			name: "remove linked by entry comes off that add",
			deduct: func(_, young attendance.HistoryEntry) attendance.ActionInput {
				id := young.ID
				return attendance.ActionInput{Action: attendance.ActionRemove, PointsChange: attendance.NewPointsFromInt(3), SourceEntryID: &id}
			},
			wantExpired: 4,
			wantBalance: 0,
		},
		{
			name: "remove larger than its add spills onto the oldest",
			deduct: func(_, young attendance.HistoryEntry) attendance.ActionInput {
				return attendance.ActionInput{Action: attendance.ActionRemove, PointsChange: attendance.NewPointsFromInt(5), SourceRecordID: young.SourceRecordID}
			},
			wantExpired: 2,
			wantBalance: 0,
		},
		{
			name: "negative adjust comes off the oldest add",
			deduct: func(_, _ attendance.HistoryEntry) attendance.ActionInput {
				return attendance.ActionInput{Action: attendance.ActionAdjust, PointsChange: attendance.NewPointsFromInt(-4)}
			},
			wantExpired: 0,
			wantBalance: 3,
			wantNext:    &later,
		},
		{
			name: "manual expire without a link comes off the oldest add",
			deduct: func(_, _ attendance.HistoryEntry) attendance.ActionInput {
				return attendance.ActionInput{Action: attendance.ActionExpire, PointsChange: attendance.NewPointsFromInt(1)}
			},
			wantExpired: 3,
			wantBalance: 3,
			wantNext:    &later,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: 4 points already past expiry, 3 points live until next
			// year, then a deduction
			l, _ := newTestLedger(t)
			ctx := context.Background()
			addFor := func(record attendance.RecordID, points int, effective, expiry attendance.Date) attendance.HistoryEntry {
				r, err := l.ApplyAction(ctx, attendance.ActionInput{
					OrganizationID: testOrg,
					EmployeeID:     testEmp,
					Action:         attendance.ActionAdd,
					PointsChange:   attendance.NewPointsFromInt(points),
					EffectiveDate:  effective,
					ExpiryDate:     &expiry,
					SourceRecordID: &record,
				})
				require.NoError(t, err)
				return r.Entry
			}
			old := addFor("rec-old", 4, attendance.NewDate(2024, time.June, 1), expired)
			young := addFor("rec-young", 3, today().AddDays(-1), later)

			in := tt.deduct(old, young)
			in.OrganizationID, in.EmployeeID = testOrg, testEmp
			_, err := l.ApplyAction(ctx, in)
			require.NoError(t, err)

			// WHEN: The sweep runs
			report, err := l.ExpirePoints(ctx, today())

			// THEN: Points already deducted are not expired a second time
			require.NoError(t, err)
			assertPoints(t, tt.wantExpired, report.PointsExpired)
			bal, err := l.Balance(ctx, testOrg, testEmp)
			require.NoError(t, err)
			assertPoints(t, tt.wantBalance, bal.CurrentPoints)
			assert.Equal(t, tt.wantNext, bal.NextPointExpiryDate)

			rec, err := l.Reconcile(ctx, testOrg, testEmp)
			require.NoError(t, err)
			assert.True(t, rec.Consistent)
		})
	}
}

func TestLedger_ExpirePoints_ResetClosesOpenAdds(t *testing.T) {
	// GIVEN: An expired add wiped out by a reset
	l, _ := newTestLedger(t)
	addPoints(t, l, 4, attendance.NewDate(2024, time.May, 1), attendance.DatePtr(attendance.NewDate(2025, time.May, 1)))
	_, err := apply(l, attendance.ActionReset, 0)
	require.NoError(t, err)

	// WHEN: The sweep runs
	report, err := l.ExpirePoints(context.Background(), today())

	// THEN: Nothing is expired and the expiry marker is cleared
	require.NoError(t, err)
	assert.Equal(t, 0, report.Entries)
	bal, err := l.Balance(context.Background(), testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 0, bal.CurrentPoints)
	assert.Nil(t, bal.NextPointExpiryDate)
}

func TestLedger_ExpirePoints_RejectsFutureAsOf(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.ExpirePoints(context.Background(), today().AddDays(1))
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentAdds_NoLostUpdates(t *testing.T) {
	// GIVEN: One balance and many writers
	l, _ := newTestLedger(t)
	l.MaxAttempts = 100
	ctx := context.Background()

	// WHEN: 20 goroutines add 1 point each
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := apply(l, attendance.ActionAdd, 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	// THEN: Every add is reflected exactly once
	bal, err := l.Balance(ctx, testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 20, bal.CurrentPoints)
	assert.Equal(t, int64(21), bal.Version)

	rec, err := l.Reconcile(ctx, testOrg, testEmp)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "broken entries: %v", rec.BrokenEntries)
	assert.Equal(t, 20, rec.Entries)
}

// conflictingStore loses every optimistic race.
type conflictingStore struct {
	*store.Memory
	attempts int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(tx attendance.LedgerTx) error) error {
	c.attempts++
	return attendance.ErrConcurrentModification
}

func TestLedger_ConflictAfterRetries(t *testing.T) {
	// GIVEN: A store where every commit conflicts
	_, mem := newTestLedger(t)
	cs := &conflictingStore{Memory: mem}
	l := attendance.NewLedger(cs, attendance.NewStaticPolicies(attendance.DefaultPolicy()))
	l.Now = func() time.Time { return testNow }

	// WHEN: Applying an action
	_, err := apply(l, attendance.ActionAdd, 1)

	// THEN: The ledger gives up after MaxAttempts with a ConflictError
	var cErr *attendance.ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, attendance.DefaultMaxAttempts, cErr.Attempts)
	assert.Equal(t, attendance.DefaultMaxAttempts, cs.attempts)
	assert.True(t, attendance.IsRetryable(err))

	// AND: Nothing was written
	bal, err := mem.GetBalance(context.Background(), testOrg, testEmp)
	require.NoError(t, err)
	assertPoints(t, 0, bal.CurrentPoints)
}
