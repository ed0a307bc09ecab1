/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/employees/*      Employees, balances, history, attendance
  /api/records/*        Attendance records
  /api/exceptions/*     Exception workflow
  /api/policies/*       Policy management
  /api/admin/*          Expiry sweep
  /api/scenarios/*      Demo scenarios (dev only)

  Only /api is routed; the UI is an external client.

SECURITY NOTE:
  No authentication middleware. Tenancy and actor come from request
  headers set by the upstream gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerOrganization, headerActorID, headerActorName},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/history", h.GetHistory)
			r.Get("/{id}/reconcile", h.Reconcile)
			r.Post("/{id}/actions", h.ApplyAction)
			r.Get("/{id}/attendance", h.ListAttendance)
			r.Post("/{id}/attendance", h.MarkAttendance)
		})

		r.Route("/records", func(r chi.Router) {
			r.Get("/{id}", h.GetRecord)
			r.Post("/{id}/approve", h.ApproveRecord)
			r.Post("/{id}/review", h.ReviewRecord)
		})

		r.Route("/exceptions", func(r chi.Router) {
			r.Get("/", h.ListExceptions)
			r.Post("/", h.ReportException)
			r.Get("/{id}", h.GetException)
			r.Post("/{id}/resolve", h.ResolveException)
			r.Post("/{id}/reopen", h.ReopenException)
			r.Post("/{id}/reverse", h.ReverseException)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/current", h.GetCurrentPolicy)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/expire", h.TriggerExpiry)
			r.Get("/expiry-runs", h.ListExpiryRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
