/*
ledger.go - Points ledger: balance + append-only history

PURPOSE:
  The ledger is the only writer of balances and history. Every action writes
  exactly one immutable history entry in the same atomic unit as the balance
  update, so the balance is always a materialized cache of the history.

INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. RECONCILABLE: CurrentPoints == sum(PointsChange) over the history
  3. NON-NEGATIVE: no action drives the balance below zero
  4. SERIALIZED: two concurrent actions for one employee never read the same
     PointsBefore (optimistic version check + bounded retry)

ACTIONS:
  add:    +n (n >= 0), bumps period/YTD counters
  remove: -|n|, floored at 0
  expire: -|n|, floored at 0
  reset:  balance -> 0
  adjust: signed delta, floored at 0, counters untouched

  PointsChange on the entry is the delta actually applied after flooring.

WARNING TIER:
  Recomputed from the new balance after every action. LastWarningDate and
  LastWarningType move only when the tier differs from the stored one.

EXPIRY:
  ExpirePoints is the sweep a scheduler invokes. Add entries carry an
  optional ExpiryDate; once it passes, the outstanding part of that add is
  expired. Removes, unlinked expires and negative adjusts draw down the add
  they are linked to (SourceEntryID, then SourceRecordID) and otherwise the
  oldest open adds, so points already taken off are never expired twice.

SEE ALSO:
  - store.go: LedgerStore / LedgerTx contract
  - tier.go: TierThresholds
  - exception.go: Delegates point reversals here
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ACTIONS
// =============================================================================

// Action is a closed set; ApplyAction switches over it exhaustively.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionExpire Action = "expire"
	ActionReset  Action = "reset"
	ActionAdjust Action = "adjust"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionRemove, ActionExpire, ActionReset, ActionAdjust:
		return true
	}
	return false
}

// =============================================================================
// BALANCE & HISTORY
// =============================================================================

// Balance is the materialized per-employee state. Exactly one per employee.
type Balance struct {
	OrganizationID OrganizationID
	EmployeeID     EmployeeID

	CurrentPoints    Points
	PointsThisPeriod Points
	PointsYTD        Points
	PeriodStart      Date // window PointsThisPeriod belongs to
	YTDYear          int  // year PointsYTD belongs to

	LastOccurrenceDate  *Date
	NextPointExpiryDate *Date

	WarningLevel    WarningLevel
	LastWarningDate *Date
	LastWarningType WarningLevel

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CountersAsOf reports the period and YTD counters as they stand on d. A
// counter whose window has already passed reads as zero.
func (b Balance) CountersAsOf(d Date, period PeriodType) (thisPeriod, ytd Points) {
	thisPeriod, ytd = b.PointsThisPeriod, b.PointsYTD
	if period.PeriodStart(d).After(b.PeriodStart) {
		thisPeriod = ZeroPoints()
	}
	if d.Year() > b.YTDYear {
		ytd = ZeroPoints()
	}
	return thisPeriod, ytd
}

// HistoryEntry is one immutable ledger row.
type HistoryEntry struct {
	ID             HistoryID
	Sequence       int64 // insertion order, assigned by the store
	OrganizationID OrganizationID
	EmployeeID     EmployeeID
	Action         Action

	PointsChange Points
	PointsBefore Points
	PointsAfter  Points

	Reason        string
	EffectiveDate Date
	ExpiryDate    *Date

	PerformedBy   string
	PerformedByID string

	SourceRecordID    *RecordID
	SourceExceptionID *ExceptionID
	SourceEntryID     *HistoryID // add entry an expire/remove draws down

	CreatedAt time.Time
}

// =============================================================================
// LEDGER
// =============================================================================

// DefaultMaxAttempts bounds the internal retry on concurrent modification.
const DefaultMaxAttempts = 5

type Ledger struct {
	Store       LedgerStore
	Policies    PolicySource
	MaxAttempts int
	Now         func() time.Time
	NewID       func() string
}

func NewLedger(store LedgerStore, policies PolicySource) *Ledger {
	return &Ledger{
		Store:       store,
		Policies:    policies,
		MaxAttempts: DefaultMaxAttempts,
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

func (l *Ledger) today() Date { return DateOf(l.Now()) }

// ActionInput describes one ledger action.
type ActionInput struct {
	OrganizationID OrganizationID
	EmployeeID     EmployeeID
	Action         Action
	PointsChange   Points
	Reason         string
	Actor          Actor

	// EffectiveDate defaults to today. Future dates are rejected.
	EffectiveDate Date
	ExpiryDate    *Date

	SourceRecordID    *RecordID
	SourceExceptionID *ExceptionID
	SourceEntryID     *HistoryID
}

// LedgerResult is what ApplyAction reports back.
type LedgerResult struct {
	PointsBefore         Points
	PointsAfter          Points
	WarningLevel         WarningLevel
	PreviousWarningLevel WarningLevel
	TierChanged          bool
	Entry                HistoryEntry
	Balance              Balance
}

// Enroll opens the zero balance for an employee. Calling it again is a no-op.
func (l *Ledger) Enroll(ctx context.Context, org OrganizationID, emp EmployeeID) (*Balance, error) {
	if err := requireOrganization(org); err != nil {
		return nil, err
	}
	if err := requireEmployee(emp); err != nil {
		return nil, err
	}

	var out *Balance
	err := l.withRetry(ctx, emp, func(tx LedgerTx) error {
		existing, err := tx.GetBalance(ctx, org, emp)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		now := l.Now().UTC()
		b := Balance{
			OrganizationID:   org,
			EmployeeID:       emp,
			CurrentPoints:    ZeroPoints(),
			PointsThisPeriod: ZeroPoints(),
			PointsYTD:        ZeroPoints(),
			WarningLevel:     WarningNone,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.SaveBalance(ctx, b, 0); err != nil {
			return err
		}
		out = &b
		return nil
	})
	return out, err
}

// Balance returns the current balance or NotFoundError.
func (l *Ledger) Balance(ctx context.Context, org OrganizationID, emp EmployeeID) (*Balance, error) {
	if err := requireOrganization(org); err != nil {
		return nil, err
	}
	b, err := l.Store.GetBalance(ctx, org, emp)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "employee", ID: string(emp)}
	}
	return b, nil
}

// History returns ledger entries, optionally limited to [from, to].
func (l *Ledger) History(ctx context.Context, org OrganizationID, emp EmployeeID, from, to *Date) ([]HistoryEntry, error) {
	if _, err := l.Balance(ctx, org, emp); err != nil {
		return nil, err
	}
	if from == nil && to == nil {
		return l.Store.LoadHistory(ctx, org, emp)
	}
	lo, hi := NewDate(1, time.January, 1), NewDate(9999, time.December, 31)
	if from != nil {
		lo = *from
	}
	if to != nil {
		hi = *to
	}
	return l.Store.LoadHistoryRange(ctx, org, emp, lo, hi)
}

// ApplyAction performs one ledger action atomically.
func (l *Ledger) ApplyAction(ctx context.Context, in ActionInput) (*LedgerResult, error) {
	return l.ApplyActionIf(ctx, in, nil)
}

// HistoryCheck inspects the employee's history before an action is written.
// It may fill in source links on in; an error aborts the action.
type HistoryCheck func(history []HistoryEntry, in *ActionInput) error

// ApplyActionIf is ApplyAction guarded by check. The history check and the
// write share one atomic unit, so a concurrent writer invalidates the check
// and the unit is retried against the new history.
func (l *Ledger) ApplyActionIf(ctx context.Context, in ActionInput, check HistoryCheck) (*LedgerResult, error) {
	if err := l.validate(&in); err != nil {
		return nil, err
	}
	policy, err := l.Policies.PolicyFor(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}

	var result *LedgerResult
	err = l.withRetry(ctx, in.EmployeeID, func(tx LedgerTx) error {
		attempt := in
		if check != nil {
			history, err := tx.LoadHistory(ctx, in.OrganizationID, in.EmployeeID)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			if err := check(history, &attempt); err != nil {
				return err
			}
		}
		r, err := l.apply(ctx, tx, attempt, policy)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Ledger) validate(in *ActionInput) error {
	if err := requireOrganization(in.OrganizationID); err != nil {
		return err
	}
	if err := requireEmployee(in.EmployeeID); err != nil {
		return err
	}
	if !in.Action.Valid() {
		return &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", in.Action)}
	}
	if in.Action == ActionAdd && in.PointsChange.IsNegative() {
		return &ValidationError{Field: "points_change", Message: "add requires points >= 0"}
	}
	today := l.today()
	if in.EffectiveDate.IsZero() {
		in.EffectiveDate = today
	}
	if in.EffectiveDate.After(today) {
		return &ValidationError{Field: "effective_date", Message: "cannot be in the future"}
	}
	if in.ExpiryDate != nil {
		if in.Action != ActionAdd {
			return &ValidationError{Field: "expiry_date", Message: "only add entries expire"}
		}
		if in.ExpiryDate.Before(in.EffectiveDate) {
			return &ValidationError{Field: "expiry_date", Message: "before effective date"}
		}
	}
	return nil
}

// withRetry runs fn in a store transaction, retrying on optimistic
// conflicts up to MaxAttempts times.
func (l *Ledger) withRetry(ctx context.Context, emp EmployeeID, fn func(tx LedgerTx) error) error {
	attempts := l.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.Store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		log.Printf("[Ledger] concurrent update for %s, attempt %d/%d", emp, i, attempts)
	}
	return &ConflictError{EmployeeID: emp, Attempts: attempts}
}

// apply is one read-modify-write inside tx. Reads go through tx so repeated
// calls in one unit see each other's writes.
func (l *Ledger) apply(ctx context.Context, tx LedgerTx, in ActionInput, policy Policy) (*LedgerResult, error) {
	bal, err := tx.GetBalance(ctx, in.OrganizationID, in.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if bal == nil {
		return nil, &NotFoundError{Kind: "employee", ID: string(in.EmployeeID)}
	}

	before := bal.CurrentPoints
	var change Points
	switch in.Action {
	case ActionAdd:
		change = in.PointsChange
	case ActionRemove, ActionExpire:
		change = in.PointsChange.Abs().Min(before).Neg()
	case ActionReset:
		change = before.Neg()
	case ActionAdjust:
		change = before.Add(in.PointsChange).FloorZero().Sub(before)
	default:
		return nil, &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", in.Action)}
	}
	after := before.Add(change)

	now := l.Now().UTC()
	entry := HistoryEntry{
		ID:                HistoryID(l.NewID()),
		OrganizationID:    in.OrganizationID,
		EmployeeID:        in.EmployeeID,
		Action:            in.Action,
		PointsChange:      change,
		PointsBefore:      before,
		PointsAfter:       after,
		Reason:            in.Reason,
		EffectiveDate:     in.EffectiveDate,
		ExpiryDate:        in.ExpiryDate,
		PerformedBy:       in.Actor.Name,
		PerformedByID:     in.Actor.ID,
		SourceRecordID:    in.SourceRecordID,
		SourceExceptionID: in.SourceExceptionID,
		SourceEntryID:     in.SourceEntryID,
		CreatedAt:         now,
	}

	updated := *bal
	updated.CurrentPoints = after
	if in.Action == ActionAdd {
		bumpCounters(&updated, in.EffectiveDate, change, policy.CounterPeriod)
		if updated.LastOccurrenceDate == nil || in.EffectiveDate.After(*updated.LastOccurrenceDate) {
			updated.LastOccurrenceDate = DatePtr(in.EffectiveDate)
		}
		if in.ExpiryDate != nil && (updated.NextPointExpiryDate == nil || in.ExpiryDate.Before(*updated.NextPointExpiryDate)) {
			updated.NextPointExpiryDate = DatePtr(*in.ExpiryDate)
		}
	}

	previous := bal.WarningLevel
	level := policy.Tiers.TierFor(after)
	updated.WarningLevel = level
	changed := level != previous
	if changed {
		updated.LastWarningDate = DatePtr(l.today())
		updated.LastWarningType = level
	}
	updated.Version = bal.Version + 1
	updated.UpdatedAt = now

	if err := tx.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}
	if err := tx.SaveBalance(ctx, updated, bal.Version); err != nil {
		return nil, err
	}

	return &LedgerResult{
		PointsBefore:         before,
		PointsAfter:          after,
		WarningLevel:         level,
		PreviousWarningLevel: previous,
		TierChanged:          changed,
		Entry:                entry,
		Balance:              updated,
	}, nil
}

func bumpCounters(b *Balance, d Date, change Points, period PeriodType) {
	start := period.PeriodStart(d)
	if b.PeriodStart.IsZero() || start.After(b.PeriodStart) {
		b.PeriodStart = start
		b.PointsThisPeriod = ZeroPoints()
	}
	if start.Equal(b.PeriodStart) {
		b.PointsThisPeriod = b.PointsThisPeriod.Add(change)
	}
	if d.Year() > b.YTDYear {
		b.YTDYear = d.Year()
		b.PointsYTD = ZeroPoints()
	}
	if d.Year() == b.YTDYear {
		b.PointsYTD = b.PointsYTD.Add(change)
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconciliation compares the balance against a replay of the history.
type Reconciliation struct {
	OrganizationID OrganizationID
	EmployeeID     EmployeeID
	Balance        Points
	LedgerSum      Points
	Entries        int
	Consistent     bool

	// BrokenEntries are rows whose before/after do not chain.
	BrokenEntries []HistoryID
}

// Reconcile replays the history in insertion order.
func (l *Ledger) Reconcile(ctx context.Context, org OrganizationID, emp EmployeeID) (*Reconciliation, error) {
	bal, err := l.Balance(ctx, org, emp)
	if err != nil {
		return nil, err
	}
	history, err := l.Store.LoadHistory(ctx, org, emp)
	if err != nil {
		return nil, err
	}
	sortBySequence(history)

	rec := &Reconciliation{
		OrganizationID: org,
		EmployeeID:     emp,
		Balance:        bal.CurrentPoints,
		LedgerSum:      ZeroPoints(),
		Entries:        len(history),
	}
	running := ZeroPoints()
	for _, h := range history {
		if !h.PointsBefore.Equal(running) || !h.PointsBefore.Add(h.PointsChange).Equal(h.PointsAfter) {
			rec.BrokenEntries = append(rec.BrokenEntries, h.ID)
		}
		running = h.PointsAfter
		rec.LedgerSum = rec.LedgerSum.Add(h.PointsChange)
	}
	rec.Consistent = rec.LedgerSum.Equal(rec.Balance) && len(rec.BrokenEntries) == 0
	return rec, nil
}

func sortBySequence(history []HistoryEntry) {
	sort.SliceStable(history, func(i, j int) bool { return history[i].Sequence < history[j].Sequence })
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

type ExpiryReport struct {
	AsOf          Date
	Employees     int
	Entries       int
	PointsExpired Points
	Failures      []ExpiryFailure
}

type ExpiryFailure struct {
	OrganizationID OrganizationID
	EmployeeID     EmployeeID
	Err            error
}

// openAdd is an add entry with points still outstanding.
type openAdd struct {
	entry       HistoryEntry
	outstanding Points
}

// ExpirePoints expires every add whose expiry date is on or before asOf.
// Each employee is its own atomic unit; failures are reported, not fatal.
func (l *Ledger) ExpirePoints(ctx context.Context, asOf Date) (*ExpiryReport, error) {
	if asOf.After(l.today()) {
		return nil, &ValidationError{Field: "as_of", Message: "cannot be in the future"}
	}
	due, err := l.Store.BalancesDueForExpiry(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances due for expiry: %w", err)
	}

	report := &ExpiryReport{AsOf: asOf, PointsExpired: ZeroPoints()}
	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entries, expired, err := l.expireEmployee(ctx, b.OrganizationID, b.EmployeeID, asOf)
		if err != nil {
			report.Failures = append(report.Failures, ExpiryFailure{
				OrganizationID: b.OrganizationID,
				EmployeeID:     b.EmployeeID,
				Err:            err,
			})
			continue
		}
		report.Employees++
		report.Entries += entries
		report.PointsExpired = report.PointsExpired.Add(expired)
	}
	return report, nil
}

func (l *Ledger) expireEmployee(ctx context.Context, org OrganizationID, emp EmployeeID, asOf Date) (int, Points, error) {
	policy, err := l.Policies.PolicyFor(ctx, org)
	if err != nil {
		return 0, ZeroPoints(), err
	}

	var entries int
	var expired Points
	err = l.withRetry(ctx, emp, func(tx LedgerTx) error {
		entries, expired = 0, ZeroPoints()

		history, err := tx.LoadHistory(ctx, org, emp)
		if err != nil {
			return err
		}
		open := openAdds(history)

		var next *Date
		for _, oa := range open {
			if oa.entry.ExpiryDate.After(asOf) {
				if next == nil || oa.entry.ExpiryDate.Before(*next) {
					next = DatePtr(*oa.entry.ExpiryDate)
				}
				continue
			}
			source := oa.entry.ID
			r, err := l.apply(ctx, tx, ActionInput{
				OrganizationID: org,
				EmployeeID:     emp,
				Action:         ActionExpire,
				PointsChange:   oa.outstanding,
				Reason:         fmt.Sprintf("points from %s expired", oa.entry.EffectiveDate),
				Actor:          SystemActor,
				EffectiveDate:  asOf,
				SourceRecordID: oa.entry.SourceRecordID,
				SourceEntryID:  &source,
			}, policy)
			if err != nil {
				return err
			}
			entries++
			expired = expired.Add(r.Entry.PointsChange.Abs())
		}

		bal, err := tx.GetBalance(ctx, org, emp)
		if err != nil {
			return err
		}
		if bal == nil {
			return &NotFoundError{Kind: "employee", ID: string(emp)}
		}
		updated := *bal
		updated.NextPointExpiryDate = next
		updated.Version = bal.Version + 1
		updated.UpdatedAt = l.Now().UTC()
		return tx.SaveBalance(ctx, updated, bal.Version)
	})
	if err != nil {
		return 0, ZeroPoints(), err
	}
	if entries > 0 {
		log.Printf("[Ledger] expired %s points for %s/%s in %d entries", expired, org, emp, entries)
	}
	return entries, expired, nil
}

// openAdds walks the history in insertion order and returns expiring add
// entries after the latest reset that still have points outstanding.
//
// A deduction (remove, unlinked expire, negative adjust) draws down the add
// it names through SourceEntryID, else the add for its SourceRecordID, and
// any remainder comes off the oldest open adds first. Adds without an
// expiry date take part in the draw-down but are never returned.
func openAdds(history []HistoryEntry) []openAdd {
	sorted := append([]HistoryEntry(nil), history...)
	sortBySequence(sorted)

	var order []*openAdd
	byEntry := make(map[HistoryID]*openAdd)
	byRecord := make(map[RecordID]*openAdd)
	for _, h := range sorted {
		switch h.Action {
		case ActionReset:
			order = nil
			byEntry = make(map[HistoryID]*openAdd)
			byRecord = make(map[RecordID]*openAdd)
		case ActionAdd:
			if !h.PointsChange.IsPositive() {
				continue
			}
			oa := &openAdd{entry: h, outstanding: h.PointsChange}
			order = append(order, oa)
			byEntry[h.ID] = oa
			if h.SourceRecordID != nil {
				byRecord[*h.SourceRecordID] = oa
			}
		case ActionExpire:
			// An expire closes its add even when flooring applied less.
			if h.SourceEntryID != nil {
				if oa, ok := byEntry[*h.SourceEntryID]; ok {
					oa.outstanding = ZeroPoints()
					continue
				}
			}
			drawDown(order, nil, h.PointsChange.Abs())
		case ActionRemove, ActionAdjust:
			if !h.PointsChange.IsNegative() {
				continue
			}
			var target *openAdd
			if h.SourceEntryID != nil {
				target = byEntry[*h.SourceEntryID]
			}
			if target == nil && h.SourceRecordID != nil {
				target = byRecord[*h.SourceRecordID]
			}
			drawDown(order, target, h.PointsChange.Abs())
		}
	}

	var result []openAdd
	for _, oa := range order {
		if oa.entry.ExpiryDate != nil && oa.outstanding.IsPositive() {
			result = append(result, *oa)
		}
	}
	return result
}

// drawDown takes amount from target first, then from order oldest first.
func drawDown(order []*openAdd, target *openAdd, amount Points) {
	take := func(oa *openAdd) {
		n := amount.Min(oa.outstanding)
		oa.outstanding = oa.outstanding.Sub(n)
		amount = amount.Sub(n)
	}
	if target != nil {
		take(target)
	}
	for _, oa := range order {
		if !amount.IsPositive() {
			return
		}
		take(oa)
	}
}
