package models

import (
	"encoding/json"
	"time"
)

// MethodCoverage tracks how often a single RPC method was observed.
type MethodCoverage struct {
	Covered   bool `json:"covered"`
	CallCount int  `json:"call_count"`
}

// ServiceCoverage holds the observed methods of one backend service.
type ServiceCoverage struct {
	Covered            bool                       `json:"covered"`
	Methods            map[string]*MethodCoverage `json:"methods"`
	CoveragePercentage float64                    `json:"coverage_percentage"`
}

// Coverage maps a resolved service name to its coverage.
type Coverage map[string]*ServiceCoverage

// Record counts one observation of method on service, creating the
// service and method entries on first sight. It reports whether the service
// and the method were new.
func (c Coverage) Record(service, method string) (newService, newMethod bool) {
	svc, ok := c[service]
	if !ok {
		svc = &ServiceCoverage{Covered: true, Methods: make(map[string]*MethodCoverage)}
		c[service] = svc
		newService = true
	}

	m, ok := svc.Methods[method]
	if !ok {
		m = &MethodCoverage{Covered: true}
		svc.Methods[method] = m
		newMethod = true
	}
	m.CallCount++

	return newService, newMethod
}

// MethodCount returns the number of distinct methods across all services.
func (c Coverage) MethodCount() int {
	n := 0
	for _, svc := range c {
		n += len(svc.Methods)
	}
	return n
}

// Timestamp is a time.Time that always serialises in UTC with a literal Z.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalised to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// MarshalJSON formats the timestamp as RFC 3339 in UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON parses an RFC 3339 timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

// TimeRange is the window a report covers.
type TimeRange struct {
	Start Timestamp `json:"start"`
	End   Timestamp `json:"end"`
}

// Summary aggregates service and method coverage.
type Summary struct {
	TotalServices             int     `json:"total_services"`
	CoveredServices           int     `json:"covered_services"`
	ServiceCoveragePercentage float64 `json:"service_coverage_percentage"`
	TotalMethods              int     `json:"total_methods"`
	CoveredMethods            int     `json:"covered_methods"`
	MethodCoveragePercentage  float64 `json:"method_coverage_percentage"`
}

// Report is the persisted coverage report for one test run.
type Report struct {
	Timestamp Timestamp `json:"timestamp"`
	TestRunID string    `json:"test_run_id"`
	TimeRange TimeRange `json:"time_range"`
	Services  Coverage  `json:"services"`
	Summary   Summary   `json:"summary"`
}

// Inventory is a ground-truth list of known methods per service.
type Inventory map[string][]string
