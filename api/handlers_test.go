/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Tenancy header enforcement
- Employee enrollment, marking attendance and balances
- Manual ledger actions and error status mapping
- Exception workflow over HTTP
- Policy storage and the expiry sweep
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/store/sqlite"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) string {
	return testNow.AddDate(0, 0, -n).Format("2006-01-02")
}

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(store)
	handler.SetClock(func() time.Time { return testNow })
	return &testServer{t: t, handler: handler, router: NewRouter(handler, nil)}
}

// do sends a request as the given organization. An empty org omits the header.
func (s *testServer) do(method, path, org string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if org != "" {
		req.Header.Set(headerOrganization, org)
	}
	req.Header.Set(headerActorID, "mgr-1")
	req.Header.Set(headerActorName, "Morgan")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createEmployee(org, id, name string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/employees", org, CreateEmployeeRequest{ID: id, Name: name})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) markAbsent(org, emp, day string) MarkAttendanceResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/employees/"+emp+"/attendance", org, MarkAttendanceRequest{Date: day, Absent: true})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[MarkAttendanceResponse](s.t, rec)
}

// =============================================================================
// TENANCY
// =============================================================================

func TestAPI_MissingOrganizationHeader(t *testing.T) {
	s := setupTestServer(t)

	for _, path := range []string{"/api/employees", "/api/exceptions", "/api/policies/current"} {
		rec := s.do(http.MethodGet, path, "", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		resp := decodeAs[ErrorResponse](t, rec)
		assert.Contains(t, resp.Details, headerOrganization)
	}
}

func TestAPI_OnlyAPIRoutesAreServed(t *testing.T) {
	s := setupTestServer(t)

	for _, path := range []string{"/", "/index.html", "/employees"} {
		rec := s.do(http.MethodGet, path, "acme", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestAPI_OrganizationsAreIsolated(t *testing.T) {
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")

	rec := s.do(http.MethodGet, "/api/employees/emp-1/balance", "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/employees", "globex", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]EmployeeDTO](t, rec))
}

// =============================================================================
// EMPLOYEES & ATTENDANCE
// =============================================================================

func TestAPI_MarkAttendanceUpdatesBalance(t *testing.T) {
	// GIVEN: An enrolled employee
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")

	rec := s.do(http.MethodGet, "/api/employees/emp-1", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", decodeAs[EmployeeDTO](t, rec).Name)

	// WHEN: Marking a 20 minute late arrival
	late := 20
	rec = s.do(http.MethodPost, "/api/employees/emp-1/attendance", "acme", MarkAttendanceRequest{
		Date:        daysAgo(1),
		LateMinutes: &late,
	})

	// THEN: The day is late_major and 2 points land on the balance
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	marked := decodeAs[MarkAttendanceResponse](t, rec)
	assert.Equal(t, "late_major", marked.Record.OccurrenceType)
	assert.Equal(t, 2.0, marked.Record.OccurrencePoints)
	require.NotNil(t, marked.Entry)
	assert.Equal(t, "Morgan", marked.Entry.PerformedBy)
	assert.Equal(t, marked.Record.ID, marked.Entry.SourceRecordID)

	rec = s.do(http.MethodGet, "/api/employees/emp-1/balance", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeAs[BalanceDTO](t, rec)
	assert.Equal(t, 2.0, bal.CurrentPoints)
	assert.Equal(t, 2.0, bal.PointsThisPeriod)
	assert.Equal(t, "month", bal.CounterPeriod)
	assert.Equal(t, "none", bal.WarningLevel)

	// AND: The record is listed as an occurrence
	rec = s.do(http.MethodGet, "/api/employees/emp-1/attendance?occurrences_only=true", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]RecordDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/employees/emp-1/history", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]HistoryEntryDTO](t, rec), 1)
}

func TestAPI_MarkAttendanceErrors(t *testing.T) {
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")

	tests := []struct {
		name string
		emp  string
		body any
		want int
	}{
		{"missing date", "emp-1", MarkAttendanceRequest{}, http.StatusBadRequest},
		{"malformed date", "emp-1", MarkAttendanceRequest{Date: "15/06/2025"}, http.StatusBadRequest},
		{"future date", "emp-1", MarkAttendanceRequest{Date: testNow.AddDate(0, 0, 1).Format("2006-01-02")}, http.StatusBadRequest},
		{"unknown employee", "ghost", MarkAttendanceRequest{Date: daysAgo(1)}, http.StatusNotFound},
		{"invalid json", "emp-1", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/employees/"+tt.emp+"/attendance", "acme", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_CreateEmployeeValidation(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodPost, "/api/employees", "acme", CreateEmployeeRequest{ID: "emp-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/employees", "acme", CreateEmployeeRequest{ID: "emp-1", Name: "Alice", Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/employees/emp-1", "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ApproveAndReviewRecord(t *testing.T) {
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")
	marked := s.markAbsent("acme", "emp-1", daysAgo(2))

	rec := s.do(http.MethodPost, "/api/records/"+marked.Record.ID+"/approve", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Morgan", decodeAs[RecordDTO](t, rec).ApprovedBy)

	rec = s.do(http.MethodPost, "/api/records/"+marked.Record.ID+"/review", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Morgan", decodeAs[RecordDTO](t, rec).ReviewedBy)

	rec = s.do(http.MethodGet, "/api/records/"+marked.Record.ID, "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// LEDGER ACTIONS
// =============================================================================

func TestAPI_LedgerActions(t *testing.T) {
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")
	path := "/api/employees/emp-1/actions"

	// Adding 6 points crosses into the written tier
	rec := s.do(http.MethodPost, path, "acme", map[string]any{"action": "add", "points": 6, "reason": "manual"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeAs[LedgerResultDTO](t, rec)
	assert.Equal(t, "written", result.WarningLevel)
	assert.Equal(t, "none", result.PreviousWarningLevel)
	assert.True(t, result.TierChanged)

	// Removing more than the balance floors at zero
	rec = s.do(http.MethodPost, path, "acme", map[string]any{"action": "remove", "points": 10, "reason": "goodwill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result = decodeAs[LedgerResultDTO](t, rec)
	assert.Equal(t, 0.0, result.PointsAfter)
	assert.Equal(t, -6.0, result.Entry.PointsChange)

	rec = s.do(http.MethodGet, "/api/employees/emp-1/reconcile", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAs[ReconciliationDTO](t, rec).Consistent)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown action", map[string]any{"action": "bonus", "points": 1, "reason": "x"}, http.StatusBadRequest},
		{"missing reason", map[string]any{"action": "add", "points": 1}, http.StatusBadRequest},
		{"negative add", map[string]any{"action": "add", "points": -1, "reason": "x"}, http.StatusBadRequest},
		{"future effective date", map[string]any{"action": "add", "points": 1, "reason": "x", "effective_date": "2025-07-01"}, http.StatusBadRequest},
		{"expiry on remove", map[string]any{"action": "remove", "points": 1, "reason": "x", "expiry_date": "2025-07-01"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, path, "acme", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec = s.do(http.MethodPost, "/api/employees/ghost/actions", "acme", map[string]any{"action": "add", "points": 1, "reason": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// EXCEPTIONS
// =============================================================================

func TestAPI_ExceptionWorkflow(t *testing.T) {
	// GIVEN: A full absence worth 4 points
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")
	marked := s.markAbsent("acme", "emp-1", daysAgo(3))

	// WHEN: An exception is reported and excused
	rec := s.do(http.MethodPost, "/api/exceptions", "acme", ReportExceptionRequest{
		RecordID:    marked.Record.ID,
		Type:        "other",
		Severity:    "major",
		Description: "Car accident",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exc := decodeAs[ExceptionDTO](t, rec)
	assert.Equal(t, "pending", exc.Status)
	assert.Equal(t, 4.0, exc.PointsAssigned)
	assert.Equal(t, "Morgan", exc.ReportedBy)

	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/resolve", "acme", ResolveExceptionRequest{Status: "excused", Notes: "police report"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "excused", decodeAs[ExceptionDTO](t, rec).Status)

	// THEN: Reversing returns the points
	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/reverse", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reversed := decodeAs[LedgerResultDTO](t, rec)
	assert.Equal(t, 0.0, reversed.PointsAfter)
	assert.Equal(t, exc.ID, reversed.Entry.SourceExceptionID)

	// AND: The closed exception rejects further changes
	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/reverse", "acme", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already reversed")

	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/resolve", "acme", ResolveExceptionRequest{Status: "denied"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/reopen", "acme", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/exceptions?status=excused,pending&employee_id=emp-1", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ExceptionDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/exceptions/"+exc.ID, "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ExceptionAppealAndReopen(t *testing.T) {
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")
	marked := s.markAbsent("acme", "emp-1", daysAgo(1))

	rec := s.do(http.MethodPost, "/api/exceptions", "acme", ReportExceptionRequest{
		RecordID: marked.Record.ID, Type: "no_call_no_show", Severity: "critical",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exc := decodeAs[ExceptionDTO](t, rec)

	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/resolve", "acme", ResolveExceptionRequest{Status: "appealed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Reversal is not allowed while the appeal is open
	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/reverse", "acme", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/exceptions/"+exc.ID+"/reopen", "acme", ReopenExceptionRequest{Notes: "new evidence"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reopened := decodeAs[ExceptionDTO](t, rec)
	assert.Equal(t, "pending", reopened.Status)
	assert.True(t, reopened.Reopened)

	rec = s.do(http.MethodPost, "/api/exceptions", "acme", ReportExceptionRequest{
		RecordID: marked.Record.ID, Type: "teleportation", Severity: "critical",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/exceptions", "acme", ReportExceptionRequest{
		RecordID: "missing", Type: "other", Severity: "minor",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestAPI_Policies(t *testing.T) {
	s := setupTestServer(t)

	// The default applies until a policy is stored
	rec := s.do(http.MethodGet, "/api/policies/current", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeAs[PolicyDTO](t, rec)
	require.NotNil(t, current.Config.PointLifetimeDays)
	assert.Equal(t, 365, *current.Config.PointLifetimeDays)

	// Storing a policy twice bumps its version
	body := map[string]any{"name": "Short memory", "point_lifetime_days": 90}
	rec = s.do(http.MethodPost, "/api/policies", "acme", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[PolicyDTO](t, rec)
	assert.Equal(t, "acme-policy", created.ID)
	assert.Equal(t, 1, created.Version)

	rec = s.do(http.MethodPost, "/api/policies", "acme", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeAs[PolicyDTO](t, rec).Version)

	// Marking attendance now uses the stored lifetime
	s.createEmployee("acme", "emp-1", "Alice")
	day := daysAgo(1)
	marked := s.markAbsent("acme", "emp-1", day)
	require.NotNil(t, marked.Entry)
	require.NotNil(t, marked.Entry.ExpiryDate)
	assert.Equal(t, testNow.AddDate(0, 0, 89).Format("2006-01-02"), *marked.Entry.ExpiryDate)

	// Other organizations keep the default
	rec = s.do(http.MethodGet, "/api/policies/current", "globex", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 365, *decodeAs[PolicyDTO](t, rec).Config.PointLifetimeDays)

	rec = s.do(http.MethodGet, "/api/policies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]PolicyDTO](t, rec), 1)
}

func TestAPI_CreatePolicyRejectsInvalidConfig(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodPost, "/api/policies", "acme", map[string]any{
		"tiers": map[string]any{"verbal": 8, "written": 6},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/policies", "acme", map[string]any{
		"classifier": map[string]any{"points": map[string]any{"late_extreme": 9}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/policies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]PolicyDTO](t, rec))
}

// =============================================================================
// EXPIRY
// =============================================================================

func TestAPI_ExpirySweep(t *testing.T) {
	// GIVEN: 3 points that expired ten days ago
	s := setupTestServer(t)
	s.createEmployee("acme", "emp-1", "Alice")
	rec := s.do(http.MethodPost, "/api/employees/emp-1/actions", "acme", map[string]any{
		"action": "add", "points": 3, "reason": "old occurrence",
		"effective_date": daysAgo(40), "expiry_date": daysAgo(10),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Running the sweep
	rec = s.do(http.MethodPost, "/api/admin/expire", "", nil)

	// THEN: The points are expired and the run is recorded
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeAs[ExpiryReportDTO](t, rec)
	assert.Equal(t, 1, report.Entries)
	assert.Equal(t, 3.0, report.PointsExpired)
	assert.NotEmpty(t, report.RunID)

	rec = s.do(http.MethodGet, "/api/employees/emp-1/balance", "acme", nil)
	bal := decodeAs[BalanceDTO](t, rec)
	assert.Equal(t, 0.0, bal.CurrentPoints)
	assert.Nil(t, bal.NextPointExpiryDate)

	// AND: A sweep dated in the future is rejected and recorded as failed
	rec = s.do(http.MethodPost, "/api/admin/expire", "", ExpireRequest{AsOf: "2025-06-16"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/admin/expiry-runs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ExpiryRunDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/admin/expiry-runs?status=failed", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decodeAs[[]ExpiryRunDTO](t, rec)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "future")
}
