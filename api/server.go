/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique ID per request, echoed in access logs
  2. RealIP:     client address behind a proxy
  3. Logger:     zap access log (warn on 4xx, error on 5xx)
  4. Recoverer:  panic recovery (500 instead of crash)
  5. CORS:       cross-origin requests for the mobile/web clients

ROUTE GROUPS:
  /health                   Liveness and store reachability
  /metrics                  Prometheus scrape endpoint
  /api/users/{user}/*       Per-user ledger, zakat, reports and settings
  /api/admin/*              Sweep and price refresh

SEE ALSO:
  - handlers.go:        handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"

	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured. An empty
// allowedOrigins allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(h.logger()))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
	})

	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/users/{user}", func(r chi.Router) {
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Post("/", h.CreateTransaction)
				r.Post("/{id}/edit", h.EditTransaction)
				r.Post("/{id}/delete", h.DeleteTransaction)
			})

			r.Get("/holdings", h.GetHoldings)
			r.Get("/portfolio", h.GetPortfolio)
			r.Get("/zakat", h.GetZakatOverview)
			r.Get("/reports/dashboard", h.GetDashboard)

			r.Get("/snapshot", h.GetSnapshot)
			r.Post("/heartbeat", h.Heartbeat)
			r.Get("/notifications", h.ListNotifications)
			r.Post("/notifications/{id}/read", h.MarkNotificationRead)

			r.Get("/rates", h.GetRates)
			r.Patch("/settings", h.UpdateSettings)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Post("/rates/refresh", h.TriggerRefresh)
		})
	})

	return r
}
