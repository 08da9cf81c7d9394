// Package metrics exposes Prometheus instrumentation for coverage runs and
// the HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracecov/internal/coverage"
	"tracecov/internal/models"
)

const namespace = "tracecov"

// Run results.
const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultFailed  = "failed"
)

// Metrics holds all Prometheus collectors. Each instance owns its registry
// so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Extraction metrics
	TracesTotal   prometheus.Counter
	SpansPerTrace prometheus.Histogram
	SpansTotal    *prometheus.CounterVec

	// Last report
	ReportServices        prometheus.Gauge
	ReportMethods         prometheus.Gauge
	ReportMethodCoverage  prometheus.Gauge
	ReportServiceCoverage prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a metrics collector backed by a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Coverage report runs by result",
			},
			[]string{"result"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a coverage report run in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		TracesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traces_processed_total",
				Help:      "Traces folded into coverage",
			},
		),
		SpansPerTrace: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trace_spans",
				Help:      "Number of spans per processed trace",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		SpansTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_total",
				Help:      "Spans examined by classification outcome",
			},
			[]string{"outcome"},
		),

		ReportServices: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "report_services",
				Help:      "Services in the most recent report",
			},
		),
		ReportMethods: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "report_methods",
				Help:      "Methods in the most recent report",
			},
		),
		ReportMethodCoverage: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "report_method_coverage_percent",
				Help:      "Method coverage percentage of the most recent report",
			},
		),
		ReportServiceCoverage: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "report_service_coverage_percent",
				Help:      "Service coverage percentage of the most recent report",
			},
		),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTrace implements coverage.Recorder.
func (m *Metrics) ObserveTrace(spanCount int) {
	m.TracesTotal.Inc()
	m.SpansPerTrace.Observe(float64(spanCount))
}

// ObserveSpan implements coverage.Recorder.
func (m *Metrics) ObserveSpan(outcome coverage.Outcome) {
	m.SpansTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordRun records a finished run. A nil report counts as failed.
func (m *Metrics) RecordRun(report *models.Report, duration time.Duration) {
	m.RunDuration.Observe(duration.Seconds())

	switch {
	case report == nil:
		m.RunsTotal.WithLabelValues(ResultFailed).Inc()
		return
	case report.Summary.TotalServices == 0:
		m.RunsTotal.WithLabelValues(ResultEmpty).Inc()
	default:
		m.RunsTotal.WithLabelValues(ResultSuccess).Inc()
	}

	s := report.Summary
	m.ReportServices.Set(float64(s.TotalServices))
	m.ReportMethods.Set(float64(s.TotalMethods))
	m.ReportMethodCoverage.Set(s.MethodCoveragePercentage)
	m.ReportServiceCoverage.Set(s.ServiceCoveragePercentage)
}

// Middleware records request counts and durations labelled by chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
