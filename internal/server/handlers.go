package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tracecov/internal/db"
	"tracecov/internal/models"
	"tracecov/internal/orchestrator"
)

// maxBodyBytes bounds POST /coverage request bodies.
const maxBodyBytes = 1 << 20

// Generator produces coverage reports.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.Request) (*models.Report, error)
}

// History lists stored runs.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (*db.Run, error)
	RunMethods(ctx context.Context, id string) ([]db.MethodCalls, error)
}

// Pinger checks that the trace store answers.
type Pinger interface {
	Services(ctx context.Context) ([]string, error)
}

// CoverageRequest is the body of POST /coverage. Times use the same formats
// as the CLI; both are optional. An absent time_buffer uses the configured
// default and 0 disables padding.
type CoverageRequest struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	TestRunID  string `json:"test_run_id"`
	TimeBuffer *int   `json:"time_buffer"`
}

// Handler holds the server dependencies
type Handler struct {
	generator Generator
	history   History
	store     Pinger
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a new handler. history and store may be nil.
func NewHandler(generator Generator, history History, store Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		generator: generator,
		history:   history,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/coverage", h.HandleCoverage)
	r.Get("/runs", h.HandleRuns)
	r.Get("/runs/{id}", h.HandleRun)
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)
}

// HandleCoverage generates a report for the requested window and returns it.
func (h *Handler) HandleCoverage(w http.ResponseWriter, r *http.Request) {
	var req CoverageRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			h.logger.Warn("Invalid coverage request", "error", err)
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	var buffer *time.Duration
	if req.TimeBuffer != nil {
		if *req.TimeBuffer < 0 {
			writeError(w, http.StatusBadRequest, "time_buffer must not be negative")
			return
		}
		d := time.Duration(*req.TimeBuffer) * time.Second
		buffer = &d
	}

	start, end, err := orchestrator.ResolveWindow(req.Start, req.End, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.generator.Generate(r.Context(), orchestrator.Request{
		Start:      start,
		End:        end,
		TestRunID:  req.TestRunID,
		TimeBuffer: buffer,
	})
	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Coverage generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "coverage generation failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleRuns lists recent runs, newest first.
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.history.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// HandleRun returns one run and its per-method call counts.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.history.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	methods, err := h.history.RunMethods(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load run methods", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "methods": methods})
}

// HandleHealth returns health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HandleReady reports whether the trace store is reachable.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if _, err := h.store.Services(r.Context()); err != nil {
			h.logger.Warn("Trace store not ready", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
