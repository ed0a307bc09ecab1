/*
scheduler.go - Automated point expiry scheduler

PURPOSE:
  Runs the expiry sweep on a cron schedule so points leave balances on
  their expiry date without an operator calling /api/admin/expire.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field spec)
  - SkipIfStillRunning prevents overlapping sweeps
  - Each run is recorded as an expiry run for audit and UI display
  - A failed employee is logged and retried by the next run

CONFIGURATION:
  - Spec: cron expression (default: "15 2 * * *", daily at 02:15)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExpiryScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunExpiry, TriggerExpiry endpoint (manual sweep)
  - attendance/ledger.go: ExpirePoints
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/attendance-engine/attendance"
)

// DefaultExpirySpec runs the sweep daily at 02:15.
const DefaultExpirySpec = "15 2 * * *"

// ExpiryScheduler handles automated point expiry.
type ExpiryScheduler struct {
	Handler *Handler
	Spec    string
	Enabled bool
	Timeout time.Duration

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(handler *Handler) *ExpiryScheduler {
	return &ExpiryScheduler{
		Handler: handler,
		Spec:    DefaultExpirySpec,
		Enabled: true,
		Timeout: 10 * time.Minute,
	}
}

// Start registers the sweep and begins the scheduler.
func (s *ExpiryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	id, err := c.AddFunc(s.Spec, s.RunNow)
	if err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", s.Spec, err)
	}
	c.Start()

	s.cron = c
	s.entryID = id
	log.Printf("[Scheduler] Started with schedule %q, next run at %v", s.Spec, c.Entry(id).Next)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	log.Println("[Scheduler] Stopped")
}

// RunNow sweeps as of today (for testing/admin).
func (s *ExpiryScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	asOf := attendance.DateOf(s.Handler.now())
	log.Printf("[Scheduler] Running expiry sweep as of %s", asOf)

	report, runID, err := s.Handler.RunExpiry(ctx, asOf)
	if err != nil {
		log.Printf("[Scheduler] Expiry run %s failed: %v", runID, err)
		return
	}
	if report.Entries > 0 || len(report.Failures) > 0 {
		log.Printf("[Scheduler] Completed: %d employees, %d entries, %d failed",
			report.Employees, report.Entries, len(report.Failures))
	}
}

// GetNextRunTime returns when the next scheduled sweep will occur, or the
// zero time when the scheduler is not running.
func (s *ExpiryScheduler) GetNextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}
