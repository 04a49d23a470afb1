/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Metrics:    Prometheus request counters
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/*              Authenticated user operations
  /api/admin/*        Admin-only operations (role claim)
  /webhooks/payment   Payment processor callback (shape-validated, no token)
  /metrics, /healthz  Operational endpoints

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://smartpicture.ai", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/register", h.Register)
		r.Post("/referral", h.Referral)
		r.Post("/slashStart", h.SlashStart)
		r.Post("/slashHelp", h.SlashHelp)
		r.Post("/consume", h.Consume)

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", h.GetMe)
			r.Get("/transactions", h.GetMyTransactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/rewardPoints", h.RewardPoints)
		})
	})

	// The payment processor authenticates by payload shape and event-id
	// dedupe, not by bearer token.
	r.Post("/webhooks/payment", h.PaymentWebhook)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
