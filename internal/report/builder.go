// Package report turns a coverage mapping into a scored, timestamped report
// and persists it.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"tracecov/internal/models"
)

// RunIDPrefix prefixes generated test run identifiers.
const RunIDPrefix = "test-run-"

// Builder computes report summaries. With an inventory of known methods the
// percentages are real ratios; without one every observed service and method
// is reported as covered.
type Builder struct {
	inventory models.Inventory
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithInventory supplies the ground truth of methods each service exposes.
func WithInventory(inv models.Inventory) Option {
	return func(b *Builder) {
		if len(inv) > 0 {
			b.inventory = inv
		}
	}
}

// WithClock overrides the time source used for timestamps and run IDs.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a report builder.
func NewBuilder(logger *slog.Logger, opts ...Option) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HasInventory reports whether percentages are computed against an inventory.
func (b *Builder) HasInventory() bool {
	return b.inventory != nil
}

// Build assembles the report for coverage observed in [start, end]. An empty
// testRunID is replaced by one derived from the current epoch second.
func (b *Builder) Build(coverage models.Coverage, start, end time.Time, testRunID string) *models.Report {
	now := b.now()
	if testRunID == "" {
		testRunID = fmt.Sprintf("%s%d", RunIDPrefix, now.Unix())
	}

	services := cloneCoverage(coverage)
	if b.inventory != nil {
		mergeInventory(services, b.inventory)
	}

	r := &models.Report{
		Timestamp: models.NewTimestamp(now),
		TestRunID: testRunID,
		TimeRange: models.TimeRange{
			Start: models.NewTimestamp(start),
			End:   models.NewTimestamp(end),
		},
		Services: services,
		Summary:  Summarize(services),
	}

	b.logger.Info("Built coverage report",
		"testRunID", testRunID,
		"services", r.Summary.TotalServices,
		"methods", r.Summary.TotalMethods,
		"inventory", b.inventory != nil,
	)
	return r
}

// Summarize computes the service and method totals of coverage.
func Summarize(coverage models.Coverage) models.Summary {
	var s models.Summary

	s.TotalServices = len(coverage)
	for _, svc := range coverage {
		if svc.Covered {
			s.CoveredServices++
		}
		for _, m := range svc.Methods {
			s.TotalMethods++
			if m.Covered {
				s.CoveredMethods++
			}
		}
	}

	s.ServiceCoveragePercentage = percentage(s.CoveredServices, s.TotalServices)
	s.MethodCoveragePercentage = percentage(s.CoveredMethods, s.TotalMethods)
	return s
}

func percentage(covered, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return round2(float64(covered) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func cloneCoverage(coverage models.Coverage) models.Coverage {
	out := make(models.Coverage, len(coverage))
	for name, svc := range coverage {
		methods := make(map[string]*models.MethodCoverage, len(svc.Methods))
		for method, m := range svc.Methods {
			copied := *m
			methods[method] = &copied
		}
		out[name] = &models.ServiceCoverage{
			Covered:            svc.Covered,
			Methods:            methods,
			CoveragePercentage: svc.CoveragePercentage,
		}
	}
	return out
}

// mergeInventory adds the never-observed services and methods of inv as
// uncovered entries and rescores each service against its known methods.
func mergeInventory(services models.Coverage, inv models.Inventory) {
	for name, methods := range inv {
		svc, ok := services[name]
		if !ok {
			svc = &models.ServiceCoverage{Methods: make(map[string]*models.MethodCoverage)}
			services[name] = svc
		}
		for _, method := range methods {
			if _, seen := svc.Methods[method]; !seen {
				svc.Methods[method] = &models.MethodCoverage{}
			}
		}
	}

	for _, svc := range services {
		covered := 0
		for _, m := range svc.Methods {
			if m.Covered {
				covered++
			}
		}
		svc.CoveragePercentage = percentage(covered, len(svc.Methods))
	}
}

// Write stores report as indented JSON at path. Missing parent directories
// are created and the file is replaced atomically via a temporary file in the
// same directory.
func Write(path string, report *models.Report) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".coverage-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary report file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*models.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &r, nil
}
