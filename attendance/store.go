/*
store.go - Persistence interfaces for the points engine

PURPOSE:
  Defines the boundary between engine logic and the database. The engine is
  specified against these interfaces only; SQLite and in-memory
  implementations live in store/sqlite and attendance/store.

KEY INTERFACES:
  LedgerStore:    balance lookup, history queries, atomic ledger unit
  LedgerTx:       the "read balance, append history, write balance" view
  RecordStore:    attendance records, unique per (org, employee, date)
  ExceptionStore: attendance exceptions with status compare-and-set
  EmployeeStore:  minimal employee directory

APPEND-ONLY CONTRACT:
  History has AppendHistory and nothing else. No Update, no Delete.
  Corrections are compensating entries.

OPTIMISTIC CONCURRENCY:
  Balances carry a Version. SaveBalance(b, expected) succeeds only when the
  stored version still equals expected (0 = row must not exist yet) and
  stores b with Version = expected+1. Otherwise it returns
  ErrConcurrentModification and the whole WithTx unit is rolled back.

MISSING ROWS:
  Point lookups return (nil, nil) when nothing matches.

SEE ALSO:
  - ledger.go: The only writer of balances and history
  - store/sqlite/sqlite.go: SQLite implementation
  - attendance/store/memory.go: In-memory implementation
*/
package attendance

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerReader is shared by the store and its transactional view.
type LedgerReader interface {
	GetBalance(ctx context.Context, org OrganizationID, emp EmployeeID) (*Balance, error)

	// LoadHistory returns all entries ordered by EffectiveDate then Sequence.
	LoadHistory(ctx context.Context, org OrganizationID, emp EmployeeID) ([]HistoryEntry, error)
}

// LedgerTx is the atomic unit. Everything written through it commits or
// rolls back together.
type LedgerTx interface {
	LedgerReader

	// AppendHistory inserts an immutable entry. The store assigns Sequence.
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	// SaveBalance writes b if the stored version equals expectedVersion.
	SaveBalance(ctx context.Context, b Balance, expectedVersion int64) error
}

type LedgerStore interface {
	LedgerReader

	// LoadHistoryRange returns entries with EffectiveDate in [from, to].
	LoadHistoryRange(ctx context.Context, org OrganizationID, emp EmployeeID, from, to Date) ([]HistoryEntry, error)

	// BalancesDueForExpiry returns balances whose NextPointExpiryDate <= asOf.
	BalancesDueForExpiry(ctx context.Context, asOf Date) ([]Balance, error)

	// WithTx runs fn atomically. A non-nil error from fn rolls back.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordFilter struct {
	OrganizationID  OrganizationID
	EmployeeID      *EmployeeID
	From            *Date
	To              *Date
	OnlyOccurrences bool
}

type RecordStore interface {
	GetRecord(ctx context.Context, id RecordID) (*AttendanceRecord, error)
	GetRecordByDay(ctx context.Context, org OrganizationID, emp EmployeeID, day Date) (*AttendanceRecord, error)

	// SaveRecord inserts or updates by ID. Inserting a second record for an
	// existing (org, employee, date) returns ErrDuplicateRecord.
	SaveRecord(ctx context.Context, r AttendanceRecord) error

	ListRecords(ctx context.Context, filter RecordFilter) ([]AttendanceRecord, error)
}

// =============================================================================
// EXCEPTION STORE
// =============================================================================

type ExceptionFilter struct {
	OrganizationID OrganizationID
	EmployeeID     *EmployeeID
	RecordID       *RecordID
	Statuses       []ExceptionStatus
	From           *time.Time
	To             *time.Time
}

type ExceptionStore interface {
	GetException(ctx context.Context, id ExceptionID) (*AttendanceException, error)

	// CreateException inserts a new exception.
	CreateException(ctx context.Context, e AttendanceException) error

	// UpdateException writes e if the stored status still equals from.
	// Returns ErrConcurrentModification otherwise.
	UpdateException(ctx context.Context, e AttendanceException, from ExceptionStatus) error

	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]AttendanceException, error)
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// Employee is the engine's minimal view of the external employee system.
type Employee struct {
	ID             EmployeeID
	OrganizationID OrganizationID
	Name           string
	Email          string
	HireDate       Date
	CreatedAt      time.Time
}

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, org OrganizationID, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context, org OrganizationID) ([]Employee, error)
}

// Store is everything the engine persists.
type Store interface {
	LedgerStore
	RecordStore
	ExceptionStore
	EmployeeStore
}
