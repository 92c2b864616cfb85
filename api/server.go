/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/draws/*       Draw ingestion and lifecycle triggers
  /api/movements/*   Cash movement registration and reversal
  /api/statements/*  Daily statements, ledger views, bulk recompute
  /api/closings/*    Monthly closing balances
  /api/scenarios/*   Demo data loaders (development only)
  /api/health        Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Draw routes
		r.Route("/draws", func(r chi.Router) {
			r.Post("/", h.IngestDraw)
			r.Post("/evaluate", h.EvaluateDraw)
			r.Post("/revert", h.RevertDraw)
		})

		// Movement routes
		r.Route("/movements", func(r chi.Router) {
			r.Post("/", h.RegisterMovement)
			r.Post("/{id}/reverse", h.ReverseMovement)
		})

		// Statement routes
		r.Route("/statements", func(r chi.Router) {
			r.Post("/recompute", h.BulkRecompute)
			r.Get("/{dimension}/{entityId}", h.GetStatement)
			r.Get("/{dimension}/{entityId}/ledger", h.GetLedger)
		})

		// Closing routes
		r.Get("/closings/{dimension}/{entityId}", h.GetClosing)

		// Scenario routes (development/demo)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		r.Get("/health", h.Health)
	})

	return r
}
