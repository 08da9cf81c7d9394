package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecov/internal/models"
)

const (
	testNamespace = "hipstershop"
	testHarness   = "test-framework"
)

func tag(key string, value any) models.KeyValue {
	return models.KeyValue{Key: key, Type: "string", Value: value}
}

func flatTag(key, value string) models.KeyValue {
	return models.KeyValue{Key: key, Type: "string", Value: value, Flattened: true}
}

func TestResolveFallbackChain(t *testing.T) {
	trace := &models.Trace{
		Processes: map[string]models.Process{
			"p1": {ServiceName: "cartservice"},
		},
	}

	tests := []struct {
		name           string
		span           models.Span
		expectedName   string
		expectedSource string
	}{
		{
			name:           "embedded process",
			span:           models.Span{OperationName: "GET /", Process: &models.Process{ServiceName: "frontend"}, ProcessID: "p1"},
			expectedName:   "frontend",
			expectedSource: "process",
		},
		{
			name:           "process ID lookup",
			span:           models.Span{OperationName: "GET /", ProcessID: "p1"},
			expectedName:   "cartservice",
			expectedSource: "processID",
		},
		{
			name:           "unknown process ID falls through to tags",
			span:           models.Span{OperationName: "GET /", ProcessID: "p9", Tags: []models.KeyValue{tag("service.name", "adservice")}},
			expectedName:   "adservice",
			expectedSource: "tag",
		},
		{
			name:           "flattened tag",
			span:           models.Span{OperationName: "GET /", Tags: []models.KeyValue{flatTag("service.name", "emailservice")}},
			expectedName:   "emailservice",
			expectedSource: "tag",
		},
	}

	r := NewResolver(testNamespace, testHarness)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr, ok := r.Resolve(&tt.span, trace)
			require.True(t, ok)
			assert.Equal(t, tt.expectedName, attr.Service)
			assert.Equal(t, tt.expectedSource, attr.Source)
			assert.False(t, attr.Overridden)
		})
	}
}

func TestResolveUnattributable(t *testing.T) {
	r := NewResolver(testNamespace, testHarness)
	span := &models.Span{SpanID: "orphan", OperationName: "/hipstershop.CartService/AddItem"}

	_, ok := r.Resolve(span, &models.Trace{})
	assert.False(t, ok)

	_, ok = r.Resolve(span, nil)
	assert.False(t, ok)
}

func TestResolveStructuredTagOverridesProcess(t *testing.T) {
	r := NewResolver(testNamespace, testHarness)
	span := &models.Span{
		OperationName: "charge",
		Process:       &models.Process{ServiceName: "worker"},
		Tags:          []models.KeyValue{tag("service.name", "paymentservice")},
	}

	attr, ok := r.Resolve(span, nil)
	require.True(t, ok)
	assert.Equal(t, "paymentservice", attr.Service)
	assert.Equal(t, "tag", attr.Source)
	assert.Equal(t, "worker", attr.Reporter)
}

func TestResolveHarnessOverride(t *testing.T) {
	r := NewResolver(testNamespace, testHarness)

	tests := []struct {
		name      string
		recorded  string
		operation string
		expected  string
		override  bool
	}{
		{"leading slash", testHarness, "/hipstershop.CartService/AddItem", "cartservice", true},
		{"no leading slash", testHarness, "hipstershop.ProductCatalogService/GetProduct", "productcatalogservice", true},
		{"unknown service", "unknown_service:python", "/hipstershop.PaymentService/Charge", "paymentservice", true},
		{"backend server span kept", "checkoutservice", "/hipstershop.PaymentService/Charge", "checkoutservice", false},
		{"other namespace", testHarness, "/grpc.health.v1.Health/Check", testHarness, false},
		{"namespace only", testHarness, "/hipstershop./Oops", testHarness, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span := &models.Span{OperationName: tt.operation, Process: &models.Process{ServiceName: tt.recorded}}
			attr, ok := r.Resolve(span, nil)
			require.True(t, ok)
			assert.Equal(t, tt.expected, attr.Service)
			assert.Equal(t, tt.recorded, attr.Recorded)
			assert.Equal(t, tt.override, attr.Overridden)
			assert.Equal(t, tt.operation, attr.Operation)
		})
	}
}

func TestResolveUnknownServiceUsesProcessTags(t *testing.T) {
	r := NewResolver(testNamespace, testHarness)

	t.Run("deployment tag", func(t *testing.T) {
		trace := &models.Trace{Processes: map[string]models.Process{
			"p1": {ServiceName: "unknown_service:go", Tags: []models.KeyValue{
				tag("hostname", "node-1"),
				tag("k8s.deployment.name", "shippingservice"),
			}},
		}}
		span := &models.Span{OperationName: "quote", ProcessID: "p1"}

		attr, ok := r.Resolve(span, trace)
		require.True(t, ok)
		assert.Equal(t, "shippingservice", attr.Service)
		assert.Equal(t, "processTag", attr.Source)
	})

	t.Run("generic service tag", func(t *testing.T) {
		span := &models.Span{OperationName: "convert", Process: &models.Process{
			ServiceName: "unknown_service",
			Tags:        []models.KeyValue{tag("app.service", "currencyservice")},
		}}

		attr, ok := r.Resolve(span, nil)
		require.True(t, ok)
		assert.Equal(t, "currencyservice", attr.Service)
	})

	t.Run("unknown tag values ignored", func(t *testing.T) {
		span := &models.Span{OperationName: "convert", Process: &models.Process{
			ServiceName: "unknown_service",
			Tags:        []models.KeyValue{tag("deployment.name", "unknown")},
		}}

		attr, ok := r.Resolve(span, nil)
		require.True(t, ok)
		assert.Equal(t, "unknown_service", attr.Service)
	})
}

func TestParseRPCMethod(t *testing.T) {
	svc, method, ok := ParseRPCMethod("/hipstershop.CartService/AddItem", testNamespace)
	require.True(t, ok)
	assert.Equal(t, "CartService", svc)
	assert.Equal(t, "AddItem", method)

	svc, method, ok = ParseRPCMethod("hipstershop.AdService", testNamespace)
	require.True(t, ok)
	assert.Equal(t, "AdService", svc)
	assert.Equal(t, "", method)

	_, _, ok = ParseRPCMethod("/grpc.health.v1.Health/Check", testNamespace)
	assert.False(t, ok)

	_, _, ok = ParseRPCMethod("/hipstershop.CartService/AddItem", "")
	assert.False(t, ok)
}
