// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements attendance.Store. Ledger transactions are optimistic:
// writes are staged in a view and version-checked on commit, the same way
// a database with row versions behaves.
type Memory struct {
	mu         sync.RWMutex
	balances   map[key]attendance.Balance
	history    map[key][]attendance.HistoryEntry
	seq        int64
	records    map[attendance.RecordID]attendance.AttendanceRecord
	recordDays map[dayKey]attendance.RecordID
	exceptions map[attendance.ExceptionID]attendance.AttendanceException
	employees  map[key]attendance.Employee
}

type key struct {
	OrganizationID attendance.OrganizationID
	EmployeeID     attendance.EmployeeID
}

type dayKey struct {
	key
	Day string
}

var _ attendance.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[key]attendance.Balance),
		history:    make(map[key][]attendance.HistoryEntry),
		records:    make(map[attendance.RecordID]attendance.AttendanceRecord),
		recordDays: make(map[dayKey]attendance.RecordID),
		exceptions: make(map[attendance.ExceptionID]attendance.AttendanceException),
		employees:  make(map[key]attendance.Employee),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) (*attendance.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[key{org, emp}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) LoadHistory(_ context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) ([]attendance.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.history[key{org, emp}]
	result := make([]attendance.HistoryEntry, len(src))
	copy(result, src)
	return result, nil
}

func (m *Memory) LoadHistoryRange(_ context.Context, org attendance.OrganizationID, emp attendance.EmployeeID, from, to attendance.Date) ([]attendance.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []attendance.HistoryEntry
	for _, h := range m.history[key{org, emp}] {
		if from.BeforeOrEqual(h.EffectiveDate) && h.EffectiveDate.BeforeOrEqual(to) {
			result = append(result, h)
		}
	}
	return result, nil
}

func (m *Memory) BalancesDueForExpiry(_ context.Context, asOf attendance.Date) ([]attendance.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []attendance.Balance
	for _, b := range m.balances {
		if b.NextPointExpiryDate != nil && b.NextPointExpiryDate.BeforeOrEqual(asOf) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OrganizationID != result[j].OrganizationID {
			return result[i].OrganizationID < result[j].OrganizationID
		}
		return result[i].EmployeeID < result[j].EmployeeID
	})
	return result, nil
}

// insertLocked keeps history ordered by EffectiveDate, then insertion.
func (m *Memory) insertLocked(h attendance.HistoryEntry) {
	m.seq++
	h.Sequence = m.seq
	k := key{h.OrganizationID, h.EmployeeID}
	entries := m.history[k]

	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].EffectiveDate.After(h.EffectiveDate)
	})
	entries = append(entries, attendance.HistoryEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = h
	m.history[k] = entries
}

// WithTx stages writes in a view and commits them under the lock after
// checking every staged balance's expected version. Reads are checked too:
// the balance version observed at the first read of each employee must
// still hold, so history read early in the unit cannot go stale.
func (m *Memory) WithTx(ctx context.Context, fn func(tx attendance.LedgerTx) error) error {
	view := &txView{
		parent:   m,
		balances: make(map[key]stagedBalance),
		seen:     make(map[key]int64),
	}
	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, version := range view.seen {
		if m.versionLocked(k) != version {
			return attendance.ErrConcurrentModification
		}
	}
	for k, sb := range view.balances {
		if m.versionLocked(k) != sb.expected {
			return attendance.ErrConcurrentModification
		}
	}
	for _, h := range view.history {
		m.insertLocked(h)
	}
	for k, sb := range view.balances {
		m.balances[k] = sb.balance
	}
	return nil
}

type stagedBalance struct {
	balance  attendance.Balance
	expected int64 // version the row had when this unit first wrote it
}

type txView struct {
	parent   *Memory
	balances map[key]stagedBalance
	history  []attendance.HistoryEntry

	// seen is the committed balance version at the first read per employee.
	seen map[key]int64
}

func (m *Memory) versionLocked(k key) int64 {
	if b, ok := m.balances[k]; ok {
		return b.Version
	}
	return 0
}

// observe records the version a read is based on. Later reads of the same
// key keep the first version.
func (tv *txView) observe(k key, version int64) {
	if _, ok := tv.seen[k]; !ok {
		tv.seen[k] = version
	}
}

func (tv *txView) GetBalance(_ context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) (*attendance.Balance, error) {
	k := key{org, emp}
	if sb, ok := tv.balances[k]; ok {
		b := sb.balance
		return &b, nil
	}
	m := tv.parent
	m.mu.RLock()
	defer m.mu.RUnlock()
	tv.observe(k, m.versionLocked(k))
	b, ok := m.balances[k]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (tv *txView) LoadHistory(_ context.Context, org attendance.OrganizationID, emp attendance.EmployeeID) ([]attendance.HistoryEntry, error) {
	k := key{org, emp}
	m := tv.parent
	m.mu.RLock()
	tv.observe(k, m.versionLocked(k))
	src := m.history[k]
	result := make([]attendance.HistoryEntry, len(src), len(src)+len(tv.history))
	copy(result, src)
	m.mu.RUnlock()

	for _, h := range tv.history {
		if h.OrganizationID == org && h.EmployeeID == emp {
			result = append(result, h)
		}
	}
	return result, nil
}

func (tv *txView) AppendHistory(_ context.Context, h attendance.HistoryEntry) error {
	// Staged rows sort after committed ones until commit assigns the real
	// sequence.
	h.Sequence = int64(1<<62) + int64(len(tv.history))
	tv.history = append(tv.history, h)
	return nil
}

func (tv *txView) SaveBalance(_ context.Context, b attendance.Balance, expectedVersion int64) error {
	k := key{b.OrganizationID, b.EmployeeID}
	if sb, ok := tv.balances[k]; ok {
		if sb.balance.Version != expectedVersion {
			return attendance.ErrConcurrentModification
		}
		b.Version = expectedVersion + 1
		tv.balances[k] = stagedBalance{balance: b, expected: sb.expected}
		return nil
	}
	b.Version = expectedVersion + 1
	tv.balances[k] = stagedBalance{balance: b, expected: expectedVersion}
	return nil
}

// =============================================================================
// RECORDS
// =============================================================================

func dayKeyOf(org attendance.OrganizationID, emp attendance.EmployeeID, d attendance.Date) dayKey {
	return dayKey{key: key{org, emp}, Day: d.String()}
}

func (m *Memory) GetRecord(_ context.Context, id attendance.RecordID) (*attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) GetRecordByDay(_ context.Context, org attendance.OrganizationID, emp attendance.EmployeeID, day attendance.Date) (*attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.recordDays[dayKeyOf(org, emp, day)]
	if !ok {
		return nil, nil
	}
	r := m.records[id]
	return &r, nil
}

func (m *Memory) SaveRecord(_ context.Context, r attendance.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dk := dayKeyOf(r.OrganizationID, r.EmployeeID, r.Date)
	if id, ok := m.recordDays[dk]; ok && id != r.ID {
		return attendance.ErrDuplicateRecord
	}
	if prev, ok := m.records[r.ID]; ok {
		delete(m.recordDays, dayKeyOf(prev.OrganizationID, prev.EmployeeID, prev.Date))
	}
	m.records[r.ID] = r
	m.recordDays[dk] = r.ID
	return nil
}

func (m *Memory) ListRecords(_ context.Context, f attendance.RecordFilter) ([]attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []attendance.AttendanceRecord
	for _, r := range m.records {
		if r.OrganizationID != f.OrganizationID {
			continue
		}
		if f.EmployeeID != nil && r.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.From != nil && r.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && r.Date.After(*f.To) {
			continue
		}
		if f.OnlyOccurrences && r.OccurrenceType == attendance.OccurrenceNone {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].EmployeeID < result[j].EmployeeID
	})
	return result, nil
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

func (m *Memory) GetException(_ context.Context, id attendance.ExceptionID) (*attendance.AttendanceException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exceptions[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) CreateException(_ context.Context, e attendance.AttendanceException) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exceptions[e.ID]; ok {
		return fmt.Errorf("exception %s already exists", e.ID)
	}
	m.exceptions[e.ID] = e
	return nil
}

func (m *Memory) UpdateException(_ context.Context, e attendance.AttendanceException, from attendance.ExceptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.exceptions[e.ID]
	if !ok || cur.Status != from {
		return attendance.ErrConcurrentModification
	}
	m.exceptions[e.ID] = e
	return nil
}

func (m *Memory) ListExceptions(_ context.Context, f attendance.ExceptionFilter) ([]attendance.AttendanceException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make(map[attendance.ExceptionStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}
	var result []attendance.AttendanceException
	for _, e := range m.exceptions {
		if e.OrganizationID != f.OrganizationID {
			continue
		}
		if f.EmployeeID != nil && e.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.RecordID != nil && e.RecordID != *f.RecordID {
			continue
		}
		if len(statuses) > 0 && !statuses[e.Status] {
			continue
		}
		if f.From != nil && e.OccurredAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.OccurredAt.After(*f.To) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReportedAt.Before(result[j].ReportedAt) })
	return result, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e attendance.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{e.OrganizationID, e.ID}
	if prev, ok := m.employees[k]; ok {
		e.CreatedAt = prev.CreatedAt
	}
	m.employees[k] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, org attendance.OrganizationID, id attendance.EmployeeID) (*attendance.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[key{org, id}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context, org attendance.OrganizationID) ([]attendance.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []attendance.Employee
	for k, e := range m.employees {
		if k.OrganizationID == org {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
