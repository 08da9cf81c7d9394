package coverage

import "strings"

// infrastructureServices are the tracing pipeline's own self-instrumentation.
var infrastructureServices = map[string]struct{}{
	"jaeger-all-in-one":      {},
	"jaeger":                 {},
	"opentelemetrycollector": {},
	"otel-collector":         {},
}

// infrastructureOperations are health checks, trace exports and the trace
// store's own query API.
var infrastructureOperations = map[string]struct{}{
	"/grpc.health.v1.Health/Check": {},
	"grpc.health.v1.Health/Check":  {},

	"opentelemetry.proto.collector.trace.v1.TraceService/Export": {},

	"/api/traces":   {},
	"/api/services": {},
}

// Filter decides which attributed spans count towards coverage.
type Filter struct {
	namespace string
	fragments []string
	allowlist map[string]struct{}
}

// NewFilter builds a filter. A span is business logic when its operation is
// an RPC under namespace, or its service matches the allowlist exactly, or,
// when no allowlist is given, contains one of fragments.
func NewFilter(namespace string, fragments, allowlist []string) *Filter {
	f := &Filter{namespace: namespace}
	for _, frag := range fragments {
		if frag = strings.ToLower(strings.TrimSpace(frag)); frag != "" {
			f.fragments = append(f.fragments, frag)
		}
	}
	if len(allowlist) > 0 {
		f.allowlist = make(map[string]struct{}, len(allowlist))
		for _, name := range allowlist {
			f.allowlist[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
		}
	}
	return f
}

// InfrastructureService reports whether service belongs to the tracing pipeline.
func (f *Filter) InfrastructureService(service string) bool {
	_, ok := infrastructureServices[strings.ToLower(service)]
	return ok
}

// InfrastructureOperation reports whether operation is health or telemetry noise.
func (f *Filter) InfrastructureOperation(operation string) bool {
	_, ok := infrastructureOperations[operation]
	return ok
}

// BusinessLogic reports whether a span belongs to the application under test.
func (f *Filter) BusinessLogic(service, operation string) bool {
	if HasRPCPrefix(operation, f.namespace) {
		return true
	}

	name := strings.ToLower(service)
	if f.allowlist != nil {
		_, ok := f.allowlist[name]
		return ok
	}
	for _, frag := range f.fragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}
