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
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for frontends and tooling

ROUTE GROUPS:
  /api/transfer, /api/balance, /api/accounts, /api/audit   Ledger
  /api/pending/*                                           Two-phase
  /api/sparks/*                                            Interpreter
  /api/records/*                                           Table emulation
  /api/permissions/*                                       Access control
  /api/scenarios/*                                         Demo data
  /api/stats                                               Operational

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

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		// Ledger routes
		r.Post("/transfer", h.Transfer)
		r.Get("/balance/{account}", h.GetBalance)
		r.Get("/audit", h.GetAudit)
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Get("/{account}/history", h.GetHistory)
		})

		// Two-phase transfer routes
		r.Route("/pending", func(r chi.Router) {
			r.Post("/", h.OpenPending)
			r.Post("/{id}/post", h.PostPending)
			r.Post("/{id}/void", h.VoidPending)
		})

		// Spark routes
		r.Route("/sparks", func(r chi.Router) {
			r.Get("/", h.ListSparks)
			r.Post("/{name}/invoke", h.InvokeSpark)
			r.Put("/{name}", h.PutSpark)
			r.Delete("/{name}", h.DeleteSpark)
		})

		// Record routes (table emulation)
		r.Route("/records/{table}", func(r chi.Router) {
			r.Post("/", h.CreateRecord)
			r.Get("/{id}", h.GetRecord)
			r.Put("/{id}", h.UpdateRecord)
			r.Delete("/{id}", h.DeleteRecord)
			r.Get("/{id}/fields/{field}", h.GetField)
		})

		// Permission routes
		r.Route("/permissions", func(r chi.Router) {
			r.Post("/grant", h.GrantPermission)
			r.Post("/revoke", h.RevokePermission)
			r.Get("/check", h.CheckPermission)
		})

		// Demo scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/{id}/load", h.LoadScenario)
		})

		// Operational routes
		r.Get("/stats", h.GetStats)
	})

	return r
}
