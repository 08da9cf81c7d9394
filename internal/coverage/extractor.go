package coverage

import (
	"log/slog"

	"tracecov/internal/models"
)

// Outcome is what happened to a single span during extraction.
type Outcome string

const (
	OutcomeCounted                 Outcome = "counted"
	OutcomeUnattributable          Outcome = "unattributable"
	OutcomeInfrastructureService   Outcome = "infrastructure_service"
	OutcomeInfrastructureOperation Outcome = "infrastructure_operation"
	OutcomeNoOperation             Outcome = "no_operation"
	OutcomeNotBusinessLogic        Outcome = "not_business_logic"
)

// Recorder receives extraction statistics.
type Recorder interface {
	ObserveTrace(spanCount int)
	ObserveSpan(outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTrace(int)    {}
func (nopRecorder) ObserveSpan(Outcome) {}

// Extractor folds traces into a coverage mapping. It keeps no state between
// calls; every Extract builds a fresh mapping.
type Extractor struct {
	resolver *Resolver
	filter   *Filter
	recorder Recorder
	logger   *slog.Logger
}

// NewExtractor creates an extractor. recorder and logger may be nil.
func NewExtractor(resolver *Resolver, filter *Filter, recorder Recorder, logger *slog.Logger) *Extractor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		resolver: resolver,
		filter:   filter,
		recorder: recorder,
		logger:   logger,
	}
}

// Classify resolves one span and decides whether it counts towards coverage.
func (e *Extractor) Classify(span *models.Span, trace *models.Trace) (Attribution, Outcome) {
	attr, ok := e.resolver.Resolve(span, trace)
	if !ok {
		return attr, OutcomeUnattributable
	}
	// A span reported by the tracing pipeline is dropped even when a tag
	// names another service.
	if e.filter.InfrastructureService(attr.Reporter) || e.filter.InfrastructureService(attr.Service) {
		return attr, OutcomeInfrastructureService
	}
	if span.OperationName == "" {
		return attr, OutcomeNoOperation
	}
	if e.filter.InfrastructureOperation(span.OperationName) {
		return attr, OutcomeInfrastructureOperation
	}
	if !e.filter.BusinessLogic(attr.Service, span.OperationName) {
		return attr, OutcomeNotBusinessLogic
	}
	return attr, OutcomeCounted
}

// Extract folds every eligible span of traces into a service → method
// mapping. Spans are not deduplicated: the same span seen twice is counted
// twice. Malformed traces and spans are skipped and logged.
func (e *Extractor) Extract(traces []models.Trace) models.Coverage {
	coverage := models.Coverage{}

	e.logger.Info("Processing traces for coverage extraction", "traces", len(traces))
	if len(traces) == 0 {
		e.logger.Warn("No traces provided for coverage extraction")
		return coverage
	}

	for i := range traces {
		trace := &traces[i]
		if trace.MissingSpans {
			e.logger.Warn("Trace missing spans, skipping", "index", i, "traceID", trace.TraceID)
			continue
		}
		e.recorder.ObserveTrace(len(trace.Spans))

		for j := range trace.Spans {
			span := &trace.Spans[j]
			attr, outcome := e.Classify(span, trace)
			e.recorder.ObserveSpan(outcome)

			switch outcome {
			case OutcomeCounted:
			case OutcomeUnattributable:
				e.logger.Warn("Span has no service name", "traceID", trace.TraceID, "spanID", span.SpanID)
				continue
			case OutcomeNoOperation:
				e.logger.Warn("Span has no operation name", "traceID", trace.TraceID, "spanID", span.SpanID, "service", attr.Service)
				continue
			default:
				e.logger.Debug("Skipping span", "reason", string(outcome), "service", attr.Service, "operation", span.OperationName)
				continue
			}

			if attr.Overridden {
				e.logger.Debug("Attributed span from RPC path", "recorded", attr.Recorded, "service", attr.Service, "operation", attr.Operation)
			}

			newService, newMethod := coverage.Record(attr.Service, attr.Operation)
			if newService {
				e.logger.Info("Added new service to coverage", "service", attr.Service)
			}
			if newMethod {
				e.logger.Info("Added new method to service", "service", attr.Service, "method", attr.Operation)
			}
		}
	}

	// Without an inventory of available methods, a service is reported as
	// fully covered as soon as any of its methods was observed.
	for _, svc := range coverage {
		if len(svc.Methods) > 0 {
			svc.CoveragePercentage = 100.0
		}
	}

	e.logger.Info("Extracted coverage", "services", len(coverage), "methods", coverage.MethodCount())
	return coverage
}
