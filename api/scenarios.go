/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	attendance data for testing and demos. Each scenario creates a policy,
	employees, and marked days that demonstrate specific features.

AVAILABLE SCENARIOS:

	progressive-discipline: Occurrences climbing through the warning tiers
	point-expiry:           Short point lifetime with points due for expiry
	exception-appeal:       Exceptions in pending, appealed and excused states

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Store the organization's policy via factory
 3. Create employees and open their balances
 4. Mark attendance days relative to today
 5. Optionally report and resolve exceptions

All scenario data lives in the "demo" organization.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "progressive-discipline"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Endpoint handlers the demo data is browsed with
  - factory/policy.go: Policy JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/store/sqlite"
)

// DemoOrganization is the organization scenarios load into.
const DemoOrganization attendance.OrganizationID = "demo"

var scenarioActor = attendance.Actor{ID: "scenario", Name: "Scenario Loader"}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "progressive-discipline",
		Name:        "Progressive Discipline",
		Description: "Late arrivals, an early departure and an absence walk an employee up to a final warning",
		Category:    "discipline",
	},
	{
		ID:          "point-expiry",
		Name:        "Point Expiry",
		Description: "30-day point lifetime with old occurrences waiting for the expiry sweep",
		Category:    "expiry",
	},
	{
		ID:          "exception-appeal",
		Name:        "Exception Appeal",
		Description: "No-call/no-show under appeal, an excused late arrival and a pending missed punch",
		Category:    "exceptions",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "progressive-discipline":
		load = h.loadProgressiveDisciplineScenario
	case "point-expiry":
		load = h.loadPointExpiryScenario
	case "exception-appeal":
		load = h.loadExceptionAppealScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "loaded",
		"scenario":        req.ScenarioID,
		"organization_id": string(DemoOrganization),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadProgressiveDisciplineScenario(ctx context.Context) error {
	if err := h.createPolicyFromJSON(ctx, factory.StandardPolicyJSON(string(DemoOrganization), "Standard attendance policy")); err != nil {
		return err
	}

	if err := h.seedEmployee(ctx, "emp-001", "Alice Johnson", "alice@example.com", 400); err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-002", "Bob Martinez", "bob@example.com", 120); err != nil {
		return err
	}

	// Alice: 1 + 2 + 2 = 5 (verbal), then a full absence = 9 (final).
	days := []struct {
		daysAgo int
		facts   attendance.AttendanceFacts
	}{
		{40, h.punches(40, 10, 0)},
		{26, h.punches(26, 25, 0)},
		{12, h.punches(12, 0, 30)},
		{5, attendance.AttendanceFacts{Absent: true, Notes: "Absent without approved leave"}},
		{4, h.punches(4, 0, 0)},
	}
	for _, d := range days {
		if err := h.markDay(ctx, "emp-001", d.daysAgo, d.facts); err != nil {
			return err
		}
	}

	// Bob: one minor late arrival.
	if err := h.markDay(ctx, "emp-002", 3, h.punches(3, 7, 0)); err != nil {
		return err
	}
	return h.markDay(ctx, "emp-002", 2, h.punches(2, 0, 0))
}

func (h *Handler) loadPointExpiryScenario(ctx context.Context) error {
	lifetime := 30
	pj := factory.PolicyJSON{
		ID:                "demo-short-lifetime",
		OrganizationID:    string(DemoOrganization),
		Name:              "30-day rolling points",
		CounterPeriod:     string(attendance.PeriodQuarter),
		PointLifetimeDays: &lifetime,
	}
	raw, err := json.Marshal(pj)
	if err != nil {
		return err
	}
	if err := h.createPolicyFromJSON(ctx, string(raw)); err != nil {
		return err
	}

	if err := h.seedEmployee(ctx, "emp-003", "Carol Chen", "carol@example.com", 800); err != nil {
		return err
	}

	// The first two adds are already past their expiry date and wait for
	// the sweep; the last one is still live.
	if err := h.markDay(ctx, "emp-003", 45, attendance.AttendanceFacts{Absent: true}); err != nil {
		return err
	}
	if err := h.markDay(ctx, "emp-003", 38, h.punches(38, 20, 0)); err != nil {
		return err
	}
	return h.markDay(ctx, "emp-003", 6, h.punches(6, 5, 0))
}

func (h *Handler) loadExceptionAppealScenario(ctx context.Context) error {
	if err := h.createPolicyFromJSON(ctx, factory.StandardPolicyJSON(string(DemoOrganization), "Standard attendance policy")); err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-004", "Dan Okafor", "dan@example.com", 200); err != nil {
		return err
	}

	ncns, err := h.markDayRecord(ctx, "emp-004", 9, attendance.AttendanceFacts{NoCallNoShow: true})
	if err != nil {
		return err
	}
	late, err := h.markDayRecord(ctx, "emp-004", 7, h.punches(7, 35, 0))
	if err != nil {
		return err
	}
	missed, err := h.markDayRecord(ctx, "emp-004", 2, h.punches(2, 0, 0))
	if err != nil {
		return err
	}

	// No-call/no-show: appealed by the employee, awaiting a decision.
	e, err := h.reportException(ctx, ncns, attendance.ExceptionNoCallNoShow, attendance.SeverityCritical,
		"Did not report for shift or call in")
	if err != nil {
		return err
	}
	if _, err := h.Exceptions.Resolve(ctx, DemoOrganization, e.ID, attendance.StatusAppealed, scenarioActor, "Employee submitted hospital note"); err != nil {
		return err
	}

	// Late arrival: excused and its points reversed.
	e, err = h.reportException(ctx, late, attendance.ExceptionLateArrival, attendance.SeverityModerate,
		"Transit outage")
	if err != nil {
		return err
	}
	if _, err := h.Exceptions.Resolve(ctx, DemoOrganization, e.ID, attendance.StatusExcused, scenarioActor, "Citywide transit outage"); err != nil {
		return err
	}
	if _, err := h.Exceptions.ReversePoints(ctx, DemoOrganization, e.ID, nil, scenarioActor); err != nil {
		return err
	}

	// Missed punch with no points, awaiting review.
	_, err = h.reportException(ctx, missed, attendance.ExceptionMissedPunch, attendance.SeverityMinor,
		"Forgot to clock out for lunch")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createPolicyFromJSON(ctx context.Context, jsonStr string) error {
	policy, err := h.PolicyFactory.ParsePolicy(jsonStr)
	if err != nil {
		return fmt.Errorf("invalid scenario policy: %w", err)
	}
	raw, err := json.Marshal(h.PolicyFactory.ToJSON(*policy))
	if err != nil {
		return err
	}
	return h.Store.SavePolicy(ctx, sqlite.PolicyRecord{
		ID:             policy.ID,
		OrganizationID: string(DemoOrganization),
		Name:           policy.Name,
		ConfigJSON:     string(raw),
	})
}

func (h *Handler) seedEmployee(ctx context.Context, id attendance.EmployeeID, name, email string, tenureDays int) error {
	emp := attendance.Employee{
		ID:             id,
		OrganizationID: DemoOrganization,
		Name:           name,
		Email:          email,
		HireDate:       h.today().AddDays(-tenureDays),
		CreatedAt:      h.now().UTC(),
	}
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		return err
	}
	_, err := h.Ledger.Enroll(ctx, DemoOrganization, id)
	return err
}

func (h *Handler) markDay(ctx context.Context, emp attendance.EmployeeID, daysAgo int, facts attendance.AttendanceFacts) error {
	_, err := h.markDayRecord(ctx, emp, daysAgo, facts)
	return err
}

func (h *Handler) markDayRecord(ctx context.Context, emp attendance.EmployeeID, daysAgo int, facts attendance.AttendanceFacts) (attendance.AttendanceRecord, error) {
	result, err := h.Attendance.MarkAttendance(ctx, attendance.MarkAttendanceInput{
		OrganizationID: DemoOrganization,
		EmployeeID:     emp,
		Date:           h.today().AddDays(-daysAgo),
		Facts:          facts,
		Actor:          scenarioActor,
	})
	if err != nil {
		return attendance.AttendanceRecord{}, fmt.Errorf("mark %s -%dd: %w", emp, daysAgo, err)
	}
	return result.Record, nil
}

func (h *Handler) reportException(ctx context.Context, rec attendance.AttendanceRecord, t attendance.ExceptionType, sev attendance.Severity, desc string) (*attendance.AttendanceException, error) {
	return h.Exceptions.Report(ctx, attendance.ReportExceptionInput{
		OrganizationID: DemoOrganization,
		RecordID:       rec.ID,
		Type:           t,
		Severity:       sev,
		Description:    desc,
		OccurredAt:     rec.Date.Time.Add(9 * time.Hour),
		Reporter:       scenarioActor,
	})
}

// punches builds a 09:00-17:00 shift with the given late and early minutes.
func (h *Handler) punches(daysAgo, lateMinutes, earlyMinutes int) attendance.AttendanceFacts {
	day := h.today().AddDays(-daysAgo).Time
	start := day.Add(9 * time.Hour)
	end := day.Add(17 * time.Hour)
	in := start.Add(time.Duration(lateMinutes) * time.Minute)
	out := end.Add(-time.Duration(earlyMinutes) * time.Minute)
	return attendance.AttendanceFacts{
		ScheduledStart: &start,
		ScheduledEnd:   &end,
		ActualClockIn:  &in,
		ActualClockOut: &out,
		BreakMinutes:   30,
	}
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
