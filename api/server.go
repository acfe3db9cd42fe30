/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin tooling

ROUTE GROUPS:
  /api/uploads           Scan batch ingestion
  /api/users/*           Per-user attendance and point queries
  /api/records/*         Single-record operations and verification
  /api/verification/*    Batch verification
  /api/points/*          Excusal
  /api/admin/*           Amnesty, sweeps, finalization, schedules
  /api/audit             Audit log queries
  /api/reset             Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Upload routes
		r.Post("/uploads", h.ProcessUpload)

		// User routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/attendance", h.ListAttendance)
			r.Get("/points", h.ListPoints)
			r.Get("/points/summary", h.PointSummary)
		})

		// Record routes
		r.Route("/records/{id}", func(r chi.Router) {
			r.Get("/", h.GetRecord)
			r.Post("/partial-approval", h.PartialApprove)
			r.Post("/verification", h.Verify)
		})

		// Batch verification routes
		r.Route("/verification", func(r chi.Router) {
			r.Post("/partial-approvals", h.BatchPartialApprove)
			r.Post("/verifications", h.BatchVerify)
		})

		// Point routes
		r.Route("/points", func(r chi.Router) {
			r.Post("/{id}/excuse", h.ExcusePoint)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/amnesty", h.RunAmnesty)
			r.Post("/sweep", h.TriggerSweep)
			r.Post("/finalize", h.FinalizeDate)
			r.Post("/purge-scans", h.PurgeScans)
			r.Post("/schedules", h.CreateSchedule)
		})

		// Audit routes
		r.Get("/audit", h.QueryAudit)

		// Dev routes
		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Attendance Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Attendance Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><code>POST /api/uploads</code> - Ingest a scan batch</li>
<li><code>GET /api/users/{id}/attendance?from=&amp;to=</code> - Attendance records</li>
<li><code>GET /api/users/{id}/points/summary</code> - Active point total</li>
<li><code>GET /api/audit</code> - Audit log</li>
</ul>
</body>
</html>`))
	})

	return r
}
