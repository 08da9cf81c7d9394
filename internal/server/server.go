// Package server exposes coverage generation and report history over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tracecov/internal/config"
	"tracecov/internal/metrics"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New creates a new server instance. m may be nil to disable instrumentation.
func New(cfg *config.Config, handler *Handler, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var router http.Handler
	if m != nil {
		router = SetupRouter(handler, m.Middleware, m.Handler())
	} else {
		router = SetupRouter(handler, nil, nil)
	}

	// Generation waits on the trace store, so the write timeout leaves room
	// for a full query.
	writeTimeout := cfg.Observability.Jaeger.GetTimeoutDuration() + 30*time.Second

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		srv:    srv,
		logger: logger,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
