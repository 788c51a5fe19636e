/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin console

ROUTE GROUPS:
  /api/councils/*       Council catalog, imports, resets, property/bill listing
  /api/import-runs      Import history
  /api/scenarios/*      Demo data
  /healthz              Liveness

  Mutating routes sit behind Handler.RequireAdmin.

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

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Council routes
		r.Route("/councils", func(r chi.Router) {
			r.Get("/", h.ListCouncils)
			r.With(h.RequireAdmin).Post("/", h.CreateCouncil)
			r.Get("/{id}", h.GetCouncil)

			r.Route("/{id}/periods/{period}", func(r chi.Router) {
				r.Get("/properties", h.ListProperties)
				r.Get("/bills", h.ListBills)
				r.With(h.RequireAdmin).Post("/import", h.ImportExtract)
				r.With(h.RequireAdmin).Delete("/", h.ResetScope)
			})
		})

		r.Get("/import-runs", h.ListImportRuns)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(h.RequireAdmin).Post("/load", h.LoadScenario)
		})
	})

	return r
}
