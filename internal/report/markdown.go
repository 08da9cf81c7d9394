package report

import (
	"fmt"
	"sort"
	"time"

	"tracecov/internal/models"
)

// RenderMarkdown formats a report as a human-readable Markdown summary with
// one section per service.
func RenderMarkdown(r *models.Report) string {
	md := fmt.Sprintf("# Coverage Report: %s\n", r.TestRunID)
	md += fmt.Sprintf("**Generated:** %s\n", r.Timestamp.Format(time.RFC3339))
	md += fmt.Sprintf("**Window:** %s to %s\n\n",
		r.TimeRange.Start.Format(time.RFC3339),
		r.TimeRange.End.Format(time.RFC3339),
	)

	s := r.Summary
	md += "## Summary\n"
	md += fmt.Sprintf("- Services: %d/%d (%.2f%%)\n", s.CoveredServices, s.TotalServices, s.ServiceCoveragePercentage)
	md += fmt.Sprintf("- Methods: %d/%d (%.2f%%)\n\n", s.CoveredMethods, s.TotalMethods, s.MethodCoveragePercentage)

	md += "## Services\n"
	if len(r.Services) == 0 {
		md += "No business-logic spans were observed in this window.\n"
		return md
	}

	for _, name := range sortedKeys(r.Services) {
		svc := r.Services[name]
		md += fmt.Sprintf("### %s (%.2f%%)\n", name, svc.CoveragePercentage)
		md += "| Method | Covered | Calls |\n"
		md += "|---|---|---|\n"
		for _, method := range sortedKeys(svc.Methods) {
			m := svc.Methods[method]
			mark := "no"
			if m.Covered {
				mark = "yes"
			}
			md += fmt.Sprintf("| `%s` | %s | %d |\n", method, mark, m.CallCount)
		}
		md += "\n"
	}

	return md
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
