// Package orchestrator runs one coverage generation: it widens narrow query
// windows, fetches traces, extracts coverage, writes the report and fans it
// out to the optional history store and notification channels.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tracecov/internal/config"
	"tracecov/internal/coverage"
	"tracecov/internal/models"
	"tracecov/internal/report"
)

// MinWindow is the narrowest query window sent to the trace store unpadded.
const MinWindow = 60 * time.Second

// ErrNoReport is returned when not even the empty fallback report could be
// written.
var ErrNoReport = errors.New("no coverage report produced")

// ValidationError reports an invalid time range.
type ValidationError struct {
	Start time.Time
	End   time.Time
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("start time %s must be before end time %s",
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

// TraceSource fetches the traces of a test run. Failures degrade to an
// empty result inside the source.
type TraceSource interface {
	QueryAll(ctx context.Context, start, end time.Time, limitPerScope int) []models.Trace
}

// HistoryStore records written reports.
type HistoryStore interface {
	InsertRun(ctx context.Context, r *models.Report, outputPath string) (string, error)
}

// Notifier announces written reports.
type Notifier interface {
	SendReport(ctx context.Context, r *models.Report) error
}

// RunRecorder observes finished runs. A nil report marks a degraded or
// failed run.
type RunRecorder interface {
	RecordRun(r *models.Report, duration time.Duration)
}

// Request describes one generation.
type Request struct {
	Start        time.Time
	End          time.Time
	OutputPath   string
	MarkdownPath string
	TestRunID    string
	// TimeBuffer pads windows narrower than MinWindow on both sides. Nil
	// uses the configured default; zero disables padding.
	TimeBuffer *time.Duration
}

// Orchestrator coordinates trace retrieval, extraction and report output.
// It keeps no per-run state and is safe for concurrent use.
type Orchestrator struct {
	source    TraceSource
	extractor *coverage.Extractor
	builder   *report.Builder

	history   HistoryStore
	notifiers []Notifier
	recorder  RunRecorder
	logger    *slog.Logger

	limit         int
	defaultOutput string
	defaultBuffer time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistory records every written report in h.
func WithHistory(h HistoryStore) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithNotifier adds a channel that is told about every written report.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifiers = append(o.notifiers, n) }
}

// WithRecorder sets the run metrics recorder.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. Query limit, default output path and default
// time buffer come from cfg.
func New(cfg *config.Config, source TraceSource, extractor *coverage.Extractor, builder *report.Builder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:        source,
		extractor:     extractor,
		builder:       builder,
		limit:         cfg.Observability.Jaeger.Limit,
		defaultOutput: cfg.Coverage.Output,
		defaultBuffer: cfg.Coverage.GetTimeBufferDuration(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// QueryWindow returns the window sent to the trace store. Windows narrower
// than MinWindow are padded by buffer on both sides so spans exported late
// are still found.
func QueryWindow(start, end time.Time, buffer time.Duration) (time.Time, time.Time) {
	if end.Sub(start) < MinWindow && buffer > 0 {
		return start.Add(-buffer), end.Add(buffer)
	}
	return start, end
}

// Generate produces and writes the coverage report for req. The report's time
// range is always the requested one, even when the query window was padded.
// Query or extraction failures yield an empty report instead of an error;
// only an invalid range, cancellation or an unwritable fallback report fail.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*models.Report, error) {
	if !req.Start.Before(req.End) {
		return nil, &ValidationError{Start: req.Start, End: req.End}
	}

	began := time.Now()
	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = o.defaultOutput
	}
	buffer := o.defaultBuffer
	if req.TimeBuffer != nil {
		buffer = *req.TimeBuffer
	}

	queryStart, queryEnd := QueryWindow(req.Start, req.End, buffer)
	if !queryStart.Equal(req.Start) {
		o.logger.Info("Short test window, widening trace query",
			"window", req.End.Sub(req.Start),
			"buffer", buffer,
			"queryStart", queryStart.UTC().Format(time.RFC3339),
			"queryEnd", queryEnd.UTC().Format(time.RFC3339),
		)
	}

	cov, err := o.collect(ctx, queryStart, queryEnd)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	degraded := err != nil
	if degraded {
		o.logger.Error("Coverage extraction failed, writing empty report", "error", err)
		cov = models.Coverage{}
	}

	r, err := o.write(cov, req, outputPath)
	if err != nil && !degraded {
		o.logger.Error("Failed to write coverage report, writing empty report", "error", err)
		degraded = true
		r, err = o.write(models.Coverage{}, req, outputPath)
	}
	if err != nil {
		o.logger.Error("Failed to write fallback report", "error", err)
		o.recordRun(nil, began)
		return nil, fmt.Errorf("%w: %w", ErrNoReport, err)
	}

	o.logger.Info("Coverage report written",
		"path", outputPath,
		"testRunID", r.TestRunID,
		"services", r.Summary.TotalServices,
		"methods", r.Summary.TotalMethods,
		"degraded", degraded,
	)

	if req.MarkdownPath != "" {
		if err := writeMarkdown(req.MarkdownPath, r); err != nil {
			o.logger.Warn("Failed to write Markdown summary", "path", req.MarkdownPath, "error", err)
		}
	}
	o.publish(ctx, r, outputPath)

	if degraded {
		o.recordRun(nil, began)
	} else {
		o.recordRun(r, began)
	}
	return r, nil
}

// collect queries and folds traces. A panic during extraction is returned
// as an error.
func (o *Orchestrator) collect(ctx context.Context, start, end time.Time) (cov models.Coverage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("coverage extraction panicked: %v", p)
		}
	}()

	traces := o.source.QueryAll(ctx, start, end, o.limit)
	if len(traces) == 0 {
		o.logger.Warn("No traces found in time window")
	}
	return o.extractor.Extract(traces), nil
}

func (o *Orchestrator) write(cov models.Coverage, req Request, path string) (*models.Report, error) {
	r := o.builder.Build(cov, req.Start, req.End, req.TestRunID)
	if err := report.Write(path, r); err != nil {
		return nil, err
	}
	return r, nil
}

func writeMarkdown(path string, r *models.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(report.RenderMarkdown(r)), 0o644)
}

// publish hands a written report to history and notifiers. Failures are
// logged only.
func (o *Orchestrator) publish(ctx context.Context, r *models.Report, outputPath string) {
	if o.history != nil {
		id, err := o.history.InsertRun(ctx, r, outputPath)
		if err != nil {
			o.logger.Warn("Failed to record report history", "error", err)
		} else {
			o.logger.Debug("Recorded report history", "runID", id)
		}
	}

	for _, n := range o.notifiers {
		if err := n.SendReport(ctx, r); err != nil {
			o.logger.Warn("Failed to send report notification", "error", err)
		}
	}
}

func (o *Orchestrator) recordRun(r *models.Report, began time.Time) {
	if o.recorder != nil {
		o.recorder.RecordRun(r, time.Since(began))
	}
}
