package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/scrapejobs/internal/api/middleware"
	"github.com/kiranshivaraju/scrapejobs/internal/api/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit // nil disables rate limiting

	LiveHandler    http.HandlerFunc
	HealthHandler  http.HandlerFunc
	SubmitHandler  http.HandlerFunc
	PollHandler    http.HandlerFunc
	ResultHandler  http.HandlerFunc
	DeleteHandler  http.HandlerFunc
	StatusHandler  http.HandlerFunc
	HistoryHandler http.HandlerFunc // nil when no archive is configured
	MetricsHandler http.Handler     // defaults to promhttp.Handler()
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Probes and metrics are never rate limited
	r.Get("/live", orNotImplemented(deps.LiveHandler))
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/reports", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/tasks/{taskID}", orNotImplemented(deps.PollHandler))
		r.Delete("/api/v1/tasks/{taskID}", orNotImplemented(deps.DeleteHandler))
		r.Get("/api/v1/results/{taskID}", orNotImplemented(deps.ResultHandler))
		r.Get("/api/v1/status", orNotImplemented(deps.StatusHandler))

		if deps.HistoryHandler != nil {
			r.Get("/api/v1/history", deps.HistoryHandler)
		}
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
