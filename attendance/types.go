/*
Package attendance provides the occurrence points engine.

PURPOSE:
  Turns daily attendance facts (late arrival, early departure, absence,
  no-call-no-show) into disciplinary occurrence points, keeps a running
  per-employee balance backed by an append-only ledger, derives a warning
  tier from that balance, and runs the exception workflow that can excuse
  points after the fact.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: A decimal quantity of occurrence points
  - Date: A calendar day (ledger effective dates, attendance days)
  - Typed identifiers for organizations, employees, records, exceptions

COMPONENTS (leaves first):
  classifier.go: facts -> occurrence type + points (pure)
  tier.go:       balance -> warning level (pure)
  ledger.go:     balance + history invariant, atomic actions, expiry sweep
  exception.go:  review/excuse/appeal state machine
  record.go:     per-employee-per-day record upsert, entry point

DESIGN PRINCIPLES:
  1. Immutability: History entries are never modified, only compensated
  2. Precision: Uses decimal.Decimal so half points never drift
  3. Type Safety: Strong typing for IDs prevents mixing employees/records
  4. Storage agnostic: everything persists through the Store interfaces

SEE ALSO:
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
  - store/sqlite: SQLite implementation
*/
package attendance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS - Occurrence point quantity
// =============================================================================

// Points is an occurrence point amount. Policies may assign half points,
// so the value is a decimal rather than an int.
type Points struct {
	Value decimal.Decimal
}

func NewPoints(value float64) Points    { return Points{Value: decimal.NewFromFloat(value)} }
func NewPointsFromInt(value int) Points { return Points{Value: decimal.NewFromInt(int64(value))} }
func ZeroPoints() Points                { return Points{Value: decimal.Zero} }

// ParsePoints parses a decimal string such as "1.5".
func ParsePoints(s string) (Points, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Points{}, err
	}
	return Points{Value: d}, nil
}

func (p Points) Add(o Points) Points             { return Points{Value: p.Value.Add(o.Value)} }
func (p Points) Sub(o Points) Points             { return Points{Value: p.Value.Sub(o.Value)} }
func (p Points) Neg() Points                     { return Points{Value: p.Value.Neg()} }
func (p Points) Abs() Points                     { return Points{Value: p.Value.Abs()} }
func (p Points) IsZero() bool                    { return p.Value.IsZero() }
func (p Points) IsNegative() bool                { return p.Value.IsNegative() }
func (p Points) IsPositive() bool                { return p.Value.IsPositive() }
func (p Points) Equal(o Points) bool             { return p.Value.Equal(o.Value) }
func (p Points) GreaterThan(o Points) bool       { return p.Value.GreaterThan(o.Value) }
func (p Points) GreaterThanOrEqual(o Points) bool { return p.Value.GreaterThanOrEqual(o.Value) }
func (p Points) LessThan(o Points) bool          { return p.Value.LessThan(o.Value) }
func (p Points) String() string                  { return p.Value.String() }

func (p Points) Min(o Points) Points {
	if p.LessThan(o) {
		return p
	}
	return o
}

// FloorZero clamps negative values to zero. Balances never go below zero.
func (p Points) FloorZero() Points {
	if p.IsNegative() {
		return ZeroPoints()
	}
	return p
}

// Float64 is for display only.
func (p Points) Float64() float64 {
	f, _ := p.Value.Float64()
	return f
}

// =============================================================================
// DATE - Calendar day
// =============================================================================

// Date is a calendar day in UTC. Attendance and ledger effective dates are
// day-granular; the time-of-day is always zero.
type Date struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day (in t's own location).
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Today returns the current day.
func Today() Date { return DateOf(time.Now()) }

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) Before(o Date) bool        { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool         { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool         { return d.Time.Equal(o.Time) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }
func (d Date) IsZero() bool              { return d.Time.IsZero() }
func (d Date) AddDays(n int) Date        { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) Year() int                 { return d.Time.Year() }
func (d Date) Month() time.Month         { return d.Time.Month() }
func (d Date) String() string            { return d.Time.Format(dateLayout) }

// DatePtr is a helper for optional date fields.
func DatePtr(d Date) *Date { return &d }

// =============================================================================
// PERIOD - Counter window for points_this_period
// =============================================================================

// PeriodType defines the window points_this_period counts over.
type PeriodType string

const (
	PeriodMonth   PeriodType = "month"
	PeriodQuarter PeriodType = "quarter"
	PeriodYear    PeriodType = "calendar_year"
)

// PeriodStart returns the first day of the window containing d.
func (pt PeriodType) PeriodStart(d Date) Date {
	switch pt {
	case PeriodMonth:
		return NewDate(d.Year(), d.Month(), 1)
	case PeriodQuarter:
		q := (int(d.Month()) - 1) / 3
		return NewDate(d.Year(), time.Month(q*3+1), 1)
	default:
		return NewDate(d.Year(), time.January, 1)
	}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrganizationID string
type EmployeeID string
type RecordID string
type ExceptionID string
type HistoryID string

// Actor identifies who performed an operation. The identity layer is
// external; names and ids are trusted as given.
type Actor struct {
	ID   string
	Name string
}

// SystemActor is used for scheduled work such as the expiry sweep.
var SystemActor = Actor{ID: "system", Name: "system"}
