package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRouter creates and configures the HTTP router. metricsHandler may be
// nil, in which case /metrics is not served.
func SetupRouter(handler *Handler, instrument func(http.Handler) http.Handler, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if instrument != nil {
		r.Use(instrument)
	}

	// Register routes
	handler.RegisterRoutes(r)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}
