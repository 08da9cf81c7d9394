// Package coverage reconstructs service and RPC method coverage from the
// spans recorded during a test run.
package coverage

import (
	"strings"

	"tracecov/internal/models"
)

// ServiceNameTag is the span tag carrying an explicit service name.
const ServiceNameTag = "service.name"

// unknownServicePrefix is what OpenTelemetry SDKs report when no service name
// was configured.
const unknownServicePrefix = "unknown"

// processIdentityTags are process tags that can stand in for an
// unknown_service name, in order of preference.
var processIdentityTags = []string{"deployment.name", "service.namespace", "k8s.deployment.name"}

// Attribution is the resolved origin of a span.
type Attribution struct {
	Service   string
	Operation string
	// Recorded is the service name before the RPC path override.
	Recorded string
	// Reporter is the name the fallback chain found, before the structured
	// service.name tag or process tags replaced it.
	Reporter string
	// Source names the rule that produced Recorded.
	Source string
	// Overridden is true when the service was taken from the RPC path.
	Overridden bool
}

// serviceSource is one step of the service name fallback chain.
type serviceSource struct {
	name    string
	resolve func(span *models.Span, trace *models.Trace) string
}

// sources is tried in order; the first non-empty result wins.
var sources = []serviceSource{
	{name: "process", resolve: fromEmbeddedProcess},
	{name: "processID", resolve: fromProcessID},
	{name: "tag", resolve: fromServiceTag},
}

func fromEmbeddedProcess(span *models.Span, _ *models.Trace) string {
	if span.Process == nil {
		return ""
	}
	return span.Process.ServiceName
}

func fromProcessID(span *models.Span, trace *models.Trace) string {
	if span.ProcessID == "" || trace == nil {
		return ""
	}
	return trace.Processes[span.ProcessID].ServiceName
}

func fromServiceTag(span *models.Span, _ *models.Trace) string {
	name, _ := span.Tag(ServiceNameTag)
	return name
}

// processOf returns the process record of span, embedded or by ID.
func processOf(span *models.Span, trace *models.Trace) *models.Process {
	if span.Process != nil {
		return span.Process
	}
	if trace == nil || span.ProcessID == "" {
		return nil
	}
	if p, ok := trace.Processes[span.ProcessID]; ok {
		return &p
	}
	return nil
}

// Resolver attributes spans to the service that did the work.
type Resolver struct {
	namespace string
	harness   string
}

// NewResolver creates a resolver for RPC paths under namespace. harness is
// the identity the test harness records its own client spans under.
func NewResolver(namespace, harness string) *Resolver {
	return &Resolver{namespace: namespace, harness: harness}
}

// Resolve maps a span to its service and operation. It returns false when no
// service name can be found anywhere on the span or its process.
func (r *Resolver) Resolve(span *models.Span, trace *models.Trace) (Attribution, bool) {
	attr := Attribution{Operation: span.OperationName}

	for _, src := range sources {
		if name := src.resolve(span, trace); name != "" {
			attr.Recorded, attr.Source = name, src.name
			break
		}
	}
	if attr.Recorded == "" {
		return attr, false
	}
	attr.Reporter = attr.Recorded

	// An explicit structured service.name tag beats the process identity.
	if attr.Source != "tag" {
		if name := structuredServiceTag(span); name != "" {
			attr.Recorded, attr.Source = name, "tag"
		}
	}

	if strings.HasPrefix(attr.Recorded, unknownServicePrefix+"_service") {
		if name := fromProcessTags(processOf(span, trace)); name != "" {
			attr.Recorded, attr.Source = name, "processTag"
		}
	}

	attr.Service = attr.Recorded
	if rpcService, _, ok := ParseRPCMethod(span.OperationName, r.namespace); ok && r.callerRecorded(attr.Recorded) {
		attr.Service = strings.ToLower(rpcService)
		attr.Overridden = true
	}

	return attr, true
}

// callerRecorded reports whether name is an identity that client libraries
// attach to outgoing calls rather than the callee.
func (r *Resolver) callerRecorded(name string) bool {
	return name == r.harness || strings.HasPrefix(name, unknownServicePrefix)
}

func structuredServiceTag(span *models.Span) string {
	for _, tag := range span.Tags {
		if tag.Key == ServiceNameTag && !tag.Flattened {
			return tag.String()
		}
	}
	return ""
}

// fromProcessTags looks for an identifying process tag when the SDK reported
// unknown_service.
func fromProcessTags(p *models.Process) string {
	if p == nil {
		return ""
	}
	for _, key := range processIdentityTags {
		for _, tag := range p.Tags {
			if tag.Key == key {
				if v := tag.String(); v != "" && !strings.HasPrefix(v, unknownServicePrefix) {
					return v
				}
			}
		}
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag.Key), "service") {
			if v := tag.String(); v != "" && !strings.HasPrefix(v, unknownServicePrefix) {
				return v
			}
		}
	}
	return ""
}

// ParseRPCMethod splits a gRPC full method name of the form
// "/<namespace>.<Service>/<Method>" (leading slash optional) into its
// service and method. ok is false when the operation is not under namespace.
func ParseRPCMethod(operation, namespace string) (service, method string, ok bool) {
	if !HasRPCPrefix(operation, namespace) {
		return "", "", false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(operation, "/"), namespace+".")
	service, method, _ = strings.Cut(rest, "/")
	if service == "" {
		return "", "", false
	}
	return service, method, true
}

// HasRPCPrefix reports whether operation is a gRPC method under namespace.
func HasRPCPrefix(operation, namespace string) bool {
	if namespace == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimPrefix(operation, "/"), namespace+".")
}
