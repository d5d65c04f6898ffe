/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers;
  all computation and lifecycle logic lives in the engine packages.

ROUTER: chi
  Lightweight, context-based, RESTful route patterns.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for reporting frontends

ROUTE GROUPS:
  /api/nodes/*        Hierarchy, reports, trends, manual EAC
  /api/budgets/*      Budget lifecycle
  /api/commitments/*  Commitment lifecycle and invoices

SECURITY NOTE:
  No authentication middleware. Authorization policy enforcement is
  owned by the surrounding platform; the actor identity arrives in the
  X-Actor header for audit fields.

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

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Hierarchy, reports, trends
		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", h.UpsertNode)
			r.Get("/{id}/report", h.NineColumnReport)
			r.Get("/{id}/trend", h.Trend)
			r.Post("/{id}/snapshots", h.CaptureSnapshot)
			r.Post("/{id}/eac-override", h.SetManualEac)
		})

		// Budget lifecycle
		r.Route("/budgets", func(r chi.Router) {
			r.Post("/", h.CreateBudget)
			r.Get("/{id}", h.GetBudget)
			r.Post("/{id}/items", h.AddBudgetItem)
			r.Post("/{id}/submit", h.SubmitBudget)
			r.Post("/{id}/approve", h.ApproveBudget)
			r.Post("/{id}/reject", h.RejectBudget)
			r.Post("/{id}/baseline", h.SetBaseline)
			r.Post("/{id}/lock", h.LockBudget)
			r.Post("/{id}/revisions", h.CreateBudgetRevision)
		})

		// Commitment lifecycle
		r.Route("/commitments", func(r chi.Router) {
			r.Post("/", h.CreateCommitment)
			r.Get("/{id}", h.GetCommitment)
			r.Post("/{id}/submit", h.SubmitCommitment)
			r.Post("/{id}/approve", h.ApproveCommitment)
			r.Post("/{id}/reject", h.RejectCommitment)
			r.Post("/{id}/activate", h.ActivateCommitment)
			r.Post("/{id}/revise", h.ReviseCommitment)
			r.Post("/{id}/invoices", h.RecordInvoice)
			r.Post("/{id}/close", h.CloseCommitment)
			r.Post("/{id}/cancel", h.CancelCommitment)
			r.Delete("/{id}", h.DeleteCommitment)
		})
	})

	return r
}
