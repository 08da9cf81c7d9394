package coverage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecov/internal/config"
	"tracecov/internal/models"
)

type countingRecorder struct {
	traces   int
	spans    int
	outcomes map[Outcome]int
}

func (r *countingRecorder) ObserveTrace(spanCount int) {
	r.traces++
	r.spans += spanCount
}

func (r *countingRecorder) ObserveSpan(outcome Outcome) {
	if r.outcomes == nil {
		r.outcomes = make(map[Outcome]int)
	}
	r.outcomes[outcome]++
}

func newTestExtractor(recorder Recorder) *Extractor {
	return NewExtractor(
		NewResolver(testNamespace, testHarness),
		NewFilter(testNamespace, config.DefaultBusinessFragments, nil),
		recorder,
		nil,
	)
}

// harnessTrace builds a trace whose spans are all recorded by the harness.
func harnessTrace(id string, operations ...string) models.Trace {
	trace := models.Trace{
		TraceID:   id,
		Processes: map[string]models.Process{"p1": {ServiceName: testHarness}},
	}
	for i, op := range operations {
		trace.Spans = append(trace.Spans, models.Span{
			TraceID:       id,
			SpanID:        fmt.Sprintf("%s-%d", id, i),
			OperationName: op,
			ProcessID:     "p1",
		})
	}
	return trace
}

func TestExtractEndToEnd(t *testing.T) {
	traces := []models.Trace{
		harnessTrace("t1", "/ns.PaymentService/Charge"),
		{
			TraceID: "t2",
			Spans: []models.Span{{
				SpanID:        "infra",
				OperationName: "/api/traces",
				Process:       &models.Process{ServiceName: "jaeger-all-in-one"},
			}},
		},
	}

	e := NewExtractor(
		NewResolver("ns", testHarness),
		NewFilter("ns", config.DefaultBusinessFragments, nil),
		nil, nil,
	)
	coverage := e.Extract(traces)

	require.Len(t, coverage, 1)
	require.Contains(t, coverage, "paymentservice")
	svc := coverage["paymentservice"]
	assert.True(t, svc.Covered)
	assert.Equal(t, 100.0, svc.CoveragePercentage)
	assert.Equal(t, map[string]*models.MethodCoverage{
		"/ns.PaymentService/Charge": {Covered: true, CallCount: 1},
	}, svc.Methods)
}

func TestExtractEmpty(t *testing.T) {
	e := newTestExtractor(nil)

	coverage := e.Extract(nil)
	assert.NotNil(t, coverage)
	assert.Empty(t, coverage)

	coverage = e.Extract([]models.Trace{})
	assert.Empty(t, coverage)
}

func TestExtractAttributesHarnessSpansToCallee(t *testing.T) {
	coverage := newTestExtractor(nil).Extract([]models.Trace{
		harnessTrace("t1", "/hipstershop.CartService/AddItem"),
	})

	assert.Contains(t, coverage, "cartservice")
	assert.NotContains(t, coverage, testHarness)
}

func TestExtractNeverCountsHealthChecks(t *testing.T) {
	names := []string{testHarness, "cartservice", "unknown_service", "frontend"}
	var traces []models.Trace
	for i, name := range names {
		traces = append(traces, models.Trace{
			TraceID: fmt.Sprintf("t%d", i),
			Spans: []models.Span{{
				OperationName: "/grpc.health.v1.Health/Check",
				Process:       &models.Process{ServiceName: name},
			}},
		})
	}

	coverage := newTestExtractor(nil).Extract(traces)
	for _, svc := range coverage {
		assert.NotContains(t, svc.Methods, "/grpc.health.v1.Health/Check")
	}
	assert.Empty(t, coverage)
}

func TestExtractCountsRepeatedCalls(t *testing.T) {
	trace := harnessTrace("t1",
		"/hipstershop.CartService/AddItem",
		"/hipstershop.CartService/AddItem",
		"/hipstershop.CartService/GetCart",
	)

	// The same trace folded twice is counted twice; there is no dedup.
	coverage := newTestExtractor(nil).Extract([]models.Trace{trace, trace})

	require.Contains(t, coverage, "cartservice")
	methods := coverage["cartservice"].Methods
	assert.Equal(t, 4, methods["/hipstershop.CartService/AddItem"].CallCount)
	assert.Equal(t, 2, methods["/hipstershop.CartService/GetCart"].CallCount)
}

func TestExtractOrderIndependent(t *testing.T) {
	a := harnessTrace("a", "/hipstershop.CartService/AddItem", "/hipstershop.CurrencyService/Convert")
	b := harnessTrace("b", "/hipstershop.CartService/AddItem", "/hipstershop.ShippingService/GetQuote")

	e := newTestExtractor(nil)
	assert.Equal(t, e.Extract([]models.Trace{a, b}), e.Extract([]models.Trace{b, a}))
}

func TestExtractCallCountMonotonic(t *testing.T) {
	e := newTestExtractor(nil)
	traces := []models.Trace{
		harnessTrace("1", "/hipstershop.CartService/AddItem"),
		harnessTrace("2", "/hipstershop.CartService/AddItem", "/hipstershop.AdService/GetAds"),
		harnessTrace("3", "/grpc.health.v1.Health/Check"),
		harnessTrace("4", "/hipstershop.CartService/AddItem"),
	}

	previous := map[string]int{}
	for n := 1; n <= len(traces); n++ {
		coverage := e.Extract(traces[:n])
		for name, svc := range coverage {
			for method, m := range svc.Methods {
				key := name + " " + method
				assert.GreaterOrEqual(t, m.CallCount, previous[key], key)
				assert.GreaterOrEqual(t, m.CallCount, 1)
				previous[key] = m.CallCount
			}
		}
	}
	assert.Equal(t, 3, previous["cartservice /hipstershop.CartService/AddItem"])
}

func TestExtractSkipsMalformed(t *testing.T) {
	recorder := &countingRecorder{}
	traces := []models.Trace{
		{TraceID: "no-spans", MissingSpans: true},
		{
			TraceID: "mixed",
			Spans: []models.Span{
				{SpanID: "orphan", OperationName: "/hipstershop.CartService/AddItem"},
				{SpanID: "no-op", Process: &models.Process{ServiceName: "cartservice"}},
				{SpanID: "redis", OperationName: "HGET", Process: &models.Process{ServiceName: "redis"}},
				{SpanID: "ok", OperationName: "/hipstershop.EmailService/SendOrderConfirmation", Process: &models.Process{ServiceName: testHarness}},
			},
		},
	}

	coverage := newTestExtractor(recorder).Extract(traces)

	require.Len(t, coverage, 1)
	assert.Contains(t, coverage, "emailservice")
	assert.Equal(t, 1, recorder.traces)
	assert.Equal(t, 4, recorder.spans)
	assert.Equal(t, 1, recorder.outcomes[OutcomeUnattributable])
	assert.Equal(t, 1, recorder.outcomes[OutcomeNoOperation])
	assert.Equal(t, 1, recorder.outcomes[OutcomeNotBusinessLogic])
	assert.Equal(t, 1, recorder.outcomes[OutcomeCounted])
}

func TestExtractKeepsBackendServerSpans(t *testing.T) {
	trace := models.Trace{
		TraceID: "t1",
		Processes: map[string]models.Process{
			"p1": {ServiceName: testHarness},
			"p2": {ServiceName: "checkoutservice"},
		},
		Spans: []models.Span{
			{SpanID: "client", OperationName: "/hipstershop.CheckoutService/PlaceOrder", ProcessID: "p1"},
			{SpanID: "server", OperationName: "/hipstershop.CheckoutService/PlaceOrder", ProcessID: "p2"},
			{SpanID: "downstream", OperationName: "/hipstershop.PaymentService/Charge", ProcessID: "p2"},
		},
	}

	coverage := newTestExtractor(nil).Extract([]models.Trace{trace})

	require.Contains(t, coverage, "checkoutservice")
	assert.Equal(t, 2, coverage["checkoutservice"].Methods["/hipstershop.CheckoutService/PlaceOrder"].CallCount)
	// Client spans recorded by a backend keep the caller's identity.
	assert.Equal(t, 1, coverage["checkoutservice"].Methods["/hipstershop.PaymentService/Charge"].CallCount)
	assert.NotContains(t, coverage, "paymentservice")
}

func TestClassify(t *testing.T) {
	e := newTestExtractor(nil)

	attr, outcome := e.Classify(&models.Span{
		OperationName: "/hipstershop.RecommendationService/ListRecommendations",
		Process:       &models.Process{ServiceName: testHarness},
	}, nil)
	assert.Equal(t, OutcomeCounted, outcome)
	assert.Equal(t, "recommendationservice", attr.Service)
	assert.True(t, attr.Overridden)

	_, outcome = e.Classify(&models.Span{
		OperationName: "collect",
		Process:       &models.Process{ServiceName: "otel-collector"},
	}, nil)
	assert.Equal(t, OutcomeInfrastructureService, outcome)
}

func TestClassifyInfrastructureReporterBeatsServiceTag(t *testing.T) {
	e := newTestExtractor(nil)

	attr, outcome := e.Classify(&models.Span{
		OperationName: "/hipstershop.CartService/GetCart",
		Process:       &models.Process{ServiceName: "jaeger-all-in-one"},
		Tags:          []models.KeyValue{tag("service.name", "cartservice")},
	}, nil)
	assert.Equal(t, OutcomeInfrastructureService, outcome)
	assert.Equal(t, "jaeger-all-in-one", attr.Reporter)
	assert.Equal(t, "cartservice", attr.Service)

	cov := e.Extract([]models.Trace{{
		TraceID: "t1",
		Spans: []models.Span{{
			SpanID:        "s1",
			OperationName: "/hipstershop.CartService/GetCart",
			Process:       &models.Process{ServiceName: "jaeger-all-in-one"},
			Tags:          []models.KeyValue{tag("service.name", "cartservice")},
		}},
	}})
	assert.Empty(t, cov)
}
