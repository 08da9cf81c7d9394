package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecov/internal/coverage"
	"tracecov/internal/models"
)

func TestNewIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()

	a.ObserveTrace(3)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TracesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TracesTotal))
}

func TestRecorder(t *testing.T) {
	m := New()
	var rec coverage.Recorder = m

	rec.ObserveTrace(4)
	rec.ObserveSpan(coverage.OutcomeCounted)
	rec.ObserveSpan(coverage.OutcomeCounted)
	rec.ObserveSpan(coverage.OutcomeInfrastructureOperation)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SpansTotal.WithLabelValues("counted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpansTotal.WithLabelValues("infrastructure_operation")))
}

func TestRecordRun(t *testing.T) {
	m := New()

	m.RecordRun(nil, time.Second)
	m.RecordRun(&models.Report{}, time.Second)
	m.RecordRun(&models.Report{Summary: models.Summary{
		TotalServices:             3,
		CoveredServices:           3,
		ServiceCoveragePercentage: 100,
		TotalMethods:              7,
		CoveredMethods:            7,
		MethodCoveragePercentage:  100,
	}}, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ResultEmpty)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReportServices))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ReportMethods))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.ReportMethodCoverage))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/runs/abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/runs/{id}", "404")))

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tracecov_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
