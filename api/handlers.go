/*
handlers.go - HTTP API handlers for the attendance points engine

PURPOSE:
  Exposes the points engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the attendance package.

ENDPOINTS:
  Employees:
    GET    /api/employees                    List employees
    POST   /api/employees                    Create employee + open balance
    GET    /api/employees/{id}               Get employee details
    GET    /api/employees/{id}/balance       Current balance and tier
    GET    /api/employees/{id}/history       Ledger history (?from=&to=)
    GET    /api/employees/{id}/reconcile     Balance vs. replayed history
    POST   /api/employees/{id}/attendance    Mark a day
    GET    /api/employees/{id}/attendance    List the employee's records
    POST   /api/employees/{id}/actions       Manual ledger action

  Records:
    GET    /api/records/{id}                 Get a record
    POST   /api/records/{id}/approve         Timesheet approval
    POST   /api/records/{id}/review          Reviewer sign-off

  Exceptions:
    GET    /api/exceptions                   List (?employee_id=&status=)
    POST   /api/exceptions                   Report an exception
    GET    /api/exceptions/{id}              Get an exception
    POST   /api/exceptions/{id}/resolve      Resolve / appeal
    POST   /api/exceptions/{id}/reopen       Reopen an appeal
    POST   /api/exceptions/{id}/reverse      Remove the exception's points

  Policies:
    GET    /api/policies                     List stored policies
    GET    /api/policies/current             Policy in force for the org
    POST   /api/policies                     Store the org's policy JSON

  Admin:
    POST   /api/admin/expire                 Run the expiry sweep now
    GET    /api/admin/expiry-runs            Past sweep runs

TENANCY:
  Every request names its organization in the X-Organization-ID header.
  The acting user comes from X-Actor-ID / X-Actor-Name. Authentication is
  handled upstream.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: ValidationError, ConfigurationError, malformed input
  - 404: NotFoundError
  - 409: InvalidTransitionError, ConflictError, duplicate record
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/store/sqlite"
)

const (
	headerOrganization = "X-Organization-ID"
	headerActorID      = "X-Actor-ID"
	headerActorName    = "X-Actor-Name"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	PolicyFactory *factory.PolicyFactory
	Policies      attendance.PolicySource

	Ledger     *attendance.Ledger
	Attendance *attendance.AttendanceService
	Exceptions *attendance.ExceptionWorkflow

	validate *validator.Validate
	now      func() time.Time

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the engine services on top of the given store.
func NewHandler(store *sqlite.Store) *Handler {
	policies := factory.NewStorePolicies(store, attendance.DefaultPolicy())
	ledger := attendance.NewLedger(store, policies)

	return &Handler{
		Store:         store,
		PolicyFactory: factory.NewPolicyFactory(),
		Policies:      policies,
		Ledger:        ledger,
		Attendance:    attendance.NewAttendanceService(store, ledger, policies),
		Exceptions:    attendance.NewExceptionWorkflow(store, ledger),
		validate:      validator.New(),
		now:           time.Now,
	}
}

// SetClock replaces the clock of the handler and every engine service.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
	h.Ledger.Now = now
	h.Attendance.Now = now
	h.Exceptions.Now = now
}

func (h *Handler) today() attendance.Date { return attendance.DateOf(h.now()) }

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees of the organization.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	employees, err := h.Store.ListEmployees(r.Context(), org)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee stores the employee and opens their zero balance.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}

	emp := attendance.Employee{
		ID:             attendance.EmployeeID(req.ID),
		OrganizationID: org,
		Name:           req.Name,
		Email:          req.Email,
		CreatedAt:      h.now().UTC(),
	}
	if req.HireDate != "" {
		emp.HireDate, _ = attendance.ParseDate(req.HireDate)
	}

	ctx := r.Context()
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	if _, err := h.Ledger.Enroll(ctx, org, emp.ID); err != nil {
		writeEngineError(w, "Failed to open balance", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	id := attendance.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Store.GetEmployee(r.Context(), org, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// =============================================================================
// BALANCE & LEDGER HANDLERS
// =============================================================================

// GetBalance returns the current balance and warning tier.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	emp := attendance.EmployeeID(chi.URLParam(r, "id"))

	bal, err := h.Ledger.Balance(ctx, org, emp)
	if err != nil {
		writeEngineError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal, h.today(), h.counterPeriod(ctx, org)))
}

// GetHistory returns ledger entries, optionally bounded by ?from= and ?to=.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	emp := attendance.EmployeeID(chi.URLParam(r, "id"))

	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	entries, err := h.Ledger.History(r.Context(), org, emp, from, to)
	if err != nil {
		writeEngineError(w, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// Reconcile compares the balance with a replay of the history.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	emp := attendance.EmployeeID(chi.URLParam(r, "id"))

	rec, err := h.Ledger.Reconcile(r.Context(), org, emp)
	if err != nil {
		writeEngineError(w, "Failed to reconcile", err)
		return
	}

	dto := ReconciliationDTO{
		EmployeeID: string(rec.EmployeeID),
		Balance:    rec.Balance.Float64(),
		LedgerSum:  rec.LedgerSum.Float64(),
		Entries:    rec.Entries,
		Consistent: rec.Consistent,
	}
	for _, id := range rec.BrokenEntries {
		dto.BrokenEntries = append(dto.BrokenEntries, string(id))
	}
	if !rec.Consistent {
		log.Printf("[API] ledger for %s/%s is inconsistent: balance=%s sum=%s broken=%d",
			org, emp, rec.Balance, rec.LedgerSum, len(rec.BrokenEntries))
	}
	writeJSON(w, http.StatusOK, dto)
}

// ApplyAction performs a manual ledger action.
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	emp := attendance.EmployeeID(chi.URLParam(r, "id"))

	var req LedgerActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := attendance.ActionInput{
		OrganizationID: org,
		EmployeeID:     emp,
		Action:         attendance.Action(req.Action),
		PointsChange:   attendance.Points{Value: req.Points},
		Reason:         req.Reason,
		Actor:          actor(r),
	}
	if req.EffectiveDate != "" {
		in.EffectiveDate, _ = attendance.ParseDate(req.EffectiveDate)
	}
	if req.ExpiryDate != "" {
		d, _ := attendance.ParseDate(req.ExpiryDate)
		in.ExpiryDate = &d
	}
	if req.SourceRecordID != "" {
		id := attendance.RecordID(req.SourceRecordID)
		in.SourceRecordID = &id
	}
	if req.SourceExceptionID != "" {
		id := attendance.ExceptionID(req.SourceExceptionID)
		in.SourceExceptionID = &id
	}
	if req.SourceEntryID != "" {
		id := attendance.HistoryID(req.SourceEntryID)
		in.SourceEntryID = &id
	}

	ctx := r.Context()
	result, err := h.Ledger.ApplyAction(ctx, in)
	if err != nil {
		writeEngineError(w, "Failed to apply action", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerResultDTO(*result, h.today(), h.counterPeriod(ctx, org)))
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// MarkAttendance records one day for an employee and applies its points.
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	emp := attendance.EmployeeID(chi.URLParam(r, "id"))

	var req MarkAttendanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	day, _ := attendance.ParseDate(req.Date)

	facts := attendance.AttendanceFacts{
		ScheduledStart:        req.ScheduledStart,
		ScheduledEnd:          req.ScheduledEnd,
		ScheduledHours:        req.ScheduledHours,
		ActualClockIn:         req.ActualClockIn,
		ActualClockOut:        req.ActualClockOut,
		ActualHours:           req.ActualHours,
		BreakMinutes:          req.BreakMinutes,
		LateMinutes:           req.LateMinutes,
		EarlyDepartureMinutes: req.EarlyDepartureMinutes,
		OvertimeMinutes:       req.OvertimeMinutes,
		Absent:                req.Absent,
		NoCallNoShow:          req.NoCallNoShow,
		Notes:                 req.Notes,
	}
	if req.PayPeriodStart != "" {
		d, _ := attendance.ParseDate(req.PayPeriodStart)
		facts.PayPeriodStart = &d
	}
	if req.PayPeriodEnd != "" {
		d, _ := attendance.ParseDate(req.PayPeriodEnd)
		facts.PayPeriodEnd = &d
	}

	ctx := r.Context()
	result, err := h.Attendance.MarkAttendance(ctx, attendance.MarkAttendanceInput{
		OrganizationID: org,
		EmployeeID:     emp,
		Date:           day,
		Facts:          facts,
		Actor:          actor(r),
	})
	if err != nil {
		writeEngineError(w, "Failed to mark attendance", err)
		return
	}

	period := h.counterPeriod(ctx, org)
	resp := MarkAttendanceResponse{
		Record:       toRecordDTO(result.Record),
		Balance:      toBalanceDTO(result.Balance, h.today(), period),
		WarningLevel: string(result.WarningLevel),
	}
	if result.Ledger != nil {
		entry := toHistoryEntryDTO(result.Ledger.Entry)
		resp.Entry = &entry
		resp.TierChanged = result.Ledger.TierChanged
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAttendance lists an employee's records (?from=&to=&occurrences_only=).
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	emp := attendance.EmployeeID(chi.URLParam(r, "id"))

	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	onlyOccurrences, _ := strconv.ParseBool(r.URL.Query().Get("occurrences_only"))

	records, err := h.Attendance.ListRecords(r.Context(), attendance.RecordFilter{
		OrganizationID:  org,
		EmployeeID:      &emp,
		From:            from,
		To:              to,
		OnlyOccurrences: onlyOccurrences,
	})
	if err != nil {
		writeEngineError(w, "Failed to list records", err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRecord returns one attendance record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	rec, err := h.Attendance.GetRecord(r.Context(), org, attendance.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec))
}

// ApproveRecord stamps timesheet approval on a record.
func (h *Handler) ApproveRecord(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	rec, err := h.Attendance.ApproveRecord(r.Context(), org, attendance.RecordID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		writeEngineError(w, "Failed to approve record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec))
}

// ReviewRecord stamps reviewer metadata on a record.
func (h *Handler) ReviewRecord(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	rec, err := h.Attendance.ReviewRecord(r.Context(), org, attendance.RecordID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		writeEngineError(w, "Failed to review record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec))
}

// =============================================================================
// EXCEPTION HANDLERS
// =============================================================================

// ReportException opens a pending exception on a record.
func (h *Handler) ReportException(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	var req ReportExceptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := attendance.ReportExceptionInput{
		OrganizationID:  org,
		RecordID:        attendance.RecordID(req.RecordID),
		Type:            attendance.ExceptionType(req.Type),
		Severity:        attendance.Severity(req.Severity),
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Reporter:        actor(r),
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}
	if req.PointsAssigned != nil {
		p := attendance.Points{Value: *req.PointsAssigned}
		in.PointsAssigned = &p
	}

	e, err := h.Exceptions.Report(r.Context(), in)
	if err != nil {
		writeEngineError(w, "Failed to report exception", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExceptionDTO(*e))
}

// ListExceptions lists exceptions (?employee_id=&record_id=&status=a,b&from=&to=).
func (h *Handler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	filter := attendance.ExceptionFilter{OrganizationID: org}
	if v := q.Get("employee_id"); v != "" {
		emp := attendance.EmployeeID(v)
		filter.EmployeeID = &emp
	}
	if v := q.Get("record_id"); v != "" {
		rec := attendance.RecordID(v)
		filter.RecordID = &rec
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			filter.Statuses = append(filter.Statuses, attendance.ExceptionStatus(strings.TrimSpace(s)))
		}
	}
	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	if from != nil {
		t := from.Time
		filter.From = &t
	}
	if to != nil {
		t := to.AddDays(1).Time.Add(-time.Nanosecond)
		filter.To = &t
	}

	exceptions, err := h.Exceptions.List(r.Context(), filter)
	if err != nil {
		writeEngineError(w, "Failed to list exceptions", err)
		return
	}

	dtos := make([]ExceptionDTO, len(exceptions))
	for i, e := range exceptions {
		dtos[i] = toExceptionDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetException returns one exception.
func (h *Handler) GetException(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	e, err := h.Exceptions.Get(r.Context(), org, attendance.ExceptionID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get exception", err)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionDTO(*e))
}

// ResolveException approves, excuses, denies or appeals an exception.
func (h *Handler) ResolveException(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	var req ResolveExceptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	e, err := h.Exceptions.Resolve(r.Context(), org, attendance.ExceptionID(chi.URLParam(r, "id")),
		attendance.ExceptionStatus(req.Status), actor(r), req.Notes)
	if err != nil {
		writeEngineError(w, "Failed to resolve exception", err)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionDTO(*e))
}

// ReopenException moves an appealed exception back to pending.
func (h *Handler) ReopenException(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	var req ReopenExceptionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	e, err := h.Exceptions.Reopen(r.Context(), org, attendance.ExceptionID(chi.URLParam(r, "id")), actor(r), req.Notes)
	if err != nil {
		writeEngineError(w, "Failed to reopen exception", err)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionDTO(*e))
}

// ReverseException removes the points tied to an approved/excused exception.
func (h *Handler) ReverseException(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	var req ReverseExceptionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	var points *attendance.Points
	if req.Points != nil {
		points = &attendance.Points{Value: *req.Points}
	}

	ctx := r.Context()
	result, err := h.Exceptions.ReversePoints(ctx, org, attendance.ExceptionID(chi.URLParam(r, "id")), points, actor(r))
	if err != nil {
		writeEngineError(w, "Failed to reverse points", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerResultDTO(*result, h.today(), h.counterPeriod(ctx, org)))
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns every stored policy.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, 0, len(records))
	for _, rec := range records {
		policy, err := h.PolicyFactory.ParsePolicy(rec.ConfigJSON)
		if err != nil {
			log.Printf("[API] skipping unparsable policy %s: %v", rec.ID, err)
			continue
		}
		dtos = append(dtos, PolicyDTO{
			ID:             rec.ID,
			OrganizationID: rec.OrganizationID,
			Name:           rec.Name,
			Config:         h.PolicyFactory.ToJSON(*policy),
			Version:        rec.Version,
			CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
			UpdatedAt:      rec.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentPolicy returns the policy in force for the organization.
func (h *Handler) GetCurrentPolicy(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}
	policy, err := h.Policies.PolicyFor(r.Context(), org)
	if err != nil {
		writeEngineError(w, "Failed to resolve policy", err)
		return
	}
	writeJSON(w, http.StatusOK, PolicyDTO{
		ID:             policy.ID,
		OrganizationID: string(policy.OrganizationID),
		Name:           policy.Name,
		Config:         h.PolicyFactory.ToJSON(policy),
		Version:        policy.Version,
	})
}

// CreatePolicy validates and stores the organization's policy JSON.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	org, ok := organization(w, r)
	if !ok {
		return
	}

	var pj factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy JSON", err)
		return
	}
	pj.OrganizationID = string(org)
	if pj.ID == "" {
		pj.ID = string(org) + "-policy"
	}

	policy, err := h.PolicyFactory.FromJSON(pj)
	if err != nil {
		writeEngineError(w, "Invalid policy", err)
		return
	}

	config := h.PolicyFactory.ToJSON(*policy)
	raw, err := json.Marshal(config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode policy", err)
		return
	}

	ctx := r.Context()
	rec := sqlite.PolicyRecord{
		ID:             policy.ID,
		OrganizationID: string(org),
		Name:           policy.Name,
		ConfigJSON:     string(raw),
		Version:        1,
	}
	if err := h.Store.SavePolicy(ctx, rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}

	stored, err := h.Store.GetPolicyByOrganization(ctx, string(org))
	if err != nil || stored == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload policy", err)
		return
	}
	log.Printf("[API] stored policy %s v%d for %s", stored.ID, stored.Version, org)

	writeJSON(w, http.StatusCreated, PolicyDTO{
		ID:             stored.ID,
		OrganizationID: stored.OrganizationID,
		Name:           stored.Name,
		Config:         config,
		Version:        stored.Version,
		CreatedAt:      stored.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      stored.UpdatedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerExpiry runs the expiry sweep immediately.
func (h *Handler) TriggerExpiry(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	asOf := h.today()
	if req.AsOf != "" {
		asOf, _ = attendance.ParseDate(req.AsOf)
	}

	report, runID, err := h.RunExpiry(r.Context(), asOf)
	if err != nil {
		writeEngineError(w, "Expiry sweep failed", err)
		return
	}

	dto := ExpiryReportDTO{
		RunID:         runID,
		AsOf:          report.AsOf.String(),
		Employees:     report.Employees,
		Entries:       report.Entries,
		PointsExpired: report.PointsExpired.Float64(),
	}
	for _, f := range report.Failures {
		dto.Failures = append(dto.Failures, ExpiryFailureDTO{EmployeeID: string(f.EmployeeID), Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListExpiryRuns returns recorded sweep runs (?status=&limit=).
func (h *Handler) ListExpiryRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Store.GetExpiryRuns(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list expiry runs", err)
		return
	}

	dtos := make([]ExpiryRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toExpiryRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunExpiry performs the sweep as of asOf and records it as an expiry run.
// Shared by the admin endpoint and the scheduler.
func (h *Handler) RunExpiry(ctx context.Context, asOf attendance.Date) (*attendance.ExpiryReport, string, error) {
	started := h.now().UTC()
	run := sqlite.ExpiryRun{
		ID:            uuid.NewString(),
		AsOf:          asOf,
		Status:        "running",
		PointsExpired: attendance.ZeroPoints(),
		StartedAt:     &started,
		CreatedAt:     started,
	}
	if err := h.Store.SaveExpiryRun(ctx, run); err != nil {
		return nil, "", fmt.Errorf("failed to save run record: %w", err)
	}

	report, err := h.Ledger.ExpirePoints(ctx, asOf)
	completed := h.now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		if saveErr := h.Store.SaveExpiryRun(context.WithoutCancel(ctx), run); saveErr != nil {
			log.Printf("[Expiry] failed to record run %s: %v", run.ID, saveErr)
		}
		return nil, run.ID, err
	}

	run.Status = "completed"
	run.Employees = report.Employees
	run.Entries = report.Entries
	run.PointsExpired = report.PointsExpired
	run.Failures = len(report.Failures)
	for _, f := range report.Failures {
		log.Printf("[Expiry] %s/%s failed: %v", f.OrganizationID, f.EmployeeID, f.Err)
	}
	if err := h.Store.SaveExpiryRun(ctx, run); err != nil {
		return report, run.ID, fmt.Errorf("failed to update run record: %w", err)
	}

	log.Printf("[Expiry] run %s as of %s: %d employees, %d entries, %s points",
		run.ID, asOf, report.Employees, report.Entries, report.PointsExpired)
	return report, run.ID, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// counterPeriod returns the org's counter period, falling back to monthly.
func (h *Handler) counterPeriod(ctx context.Context, org attendance.OrganizationID) attendance.PeriodType {
	policy, err := h.Policies.PolicyFor(ctx, org)
	if err != nil {
		return attendance.PeriodMonth
	}
	return policy.CounterPeriod
}

func organization(w http.ResponseWriter, r *http.Request) (attendance.OrganizationID, bool) {
	org := strings.TrimSpace(r.Header.Get(headerOrganization))
	if org == "" {
		writeEngineError(w, "Missing organization",
			&attendance.ConfigurationError{Setting: headerOrganization, Message: "header is required"})
		return "", false
	}
	return attendance.OrganizationID(org), true
}

func actor(r *http.Request) attendance.Actor {
	a := attendance.Actor{
		ID:   r.Header.Get(headerActorID),
		Name: r.Header.Get(headerActorName),
	}
	if a.ID == "" {
		a.ID = "api"
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	return a
}

func dateRange(r *http.Request) (from, to *attendance.Date, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		d, err := attendance.ParseDate(v)
		if err != nil {
			return nil, nil, fmt.Errorf("from: %w", err)
		}
		from = &d
	}
	if v := q.Get("to"); v != "" {
		d, err := attendance.ParseDate(v)
		if err != nil {
			return nil, nil, fmt.Errorf("to: %w", err)
		}
		to = &d
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy to HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrValidation), errors.Is(err, attendance.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrInvalidTransition),
		errors.Is(err, attendance.ErrConflict),
		errors.Is(err, attendance.ErrDuplicateRecord):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
