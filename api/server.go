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
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/ingest*          Payload intake
  /api/runs/*           Sync run inspection
  /api/companies/*      Per-tenant derived data, health, history
  /api/admin/*          Rules, dictionary, lock recovery
  /api/reset            Database reset (dev only)

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
		// Ingestion intake
		r.Post("/ingest", h.Ingest)
		r.Get("/ingest/{id}", h.GetIngestion)

		// Sync run inspection
		r.Route("/runs", func(r chi.Router) {
			r.Get("/{id}", h.GetRun)
			r.Get("/{id}/events", h.GetRunEvents)
		})

		// Per-tenant data
		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
			r.Get("/ingestions", h.ListIngestions)
			r.Get("/summaries", h.ListSummaries)
			r.Get("/summaries/{month}", h.GetSummary)
			r.Get("/currents/{kind}", h.GetCurrents)
			r.Get("/aging/{partyType}", h.GetAging)
			r.Get("/health", h.GetHealth)
			r.Get("/coverage", h.GetCoverage)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.SaveRule)
			r.Delete("/rules/{id}", h.DeleteRule)
			r.Get("/dictionary", h.ListDictionary)
			r.Put("/dictionary", h.ReplaceDictionary)
			r.Post("/locks/release", h.ReleaseLock)
		})

		// Dev only
		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
