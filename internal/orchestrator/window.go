package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// DefaultWindow is the lookback used when no start time is given.
const DefaultWindow = time.Hour

// naiveLayouts are accepted for timestamps without a zone; they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses an ISO 8601 timestamp. A trailing Z or numeric offset is
// honoured; a timestamp without zone is taken as UTC. The result is in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format %q: use ISO 8601, e.g. 2024-01-15T10:30:00Z", s)
}

// ResolveWindow turns optional start and end strings into a time range.
// A missing end defaults to now and a missing start to DefaultWindow before
// the end.
func ResolveWindow(start, end string, now time.Time) (time.Time, time.Time, error) {
	endTime := now.UTC()
	if end != "" {
		t, err := ParseTime(end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end time: %w", err)
		}
		endTime = t
	}

	startTime := endTime.Add(-DefaultWindow)
	if start != "" {
		t, err := ParseTime(start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start time: %w", err)
		}
		startTime = t
	}

	if !startTime.Before(endTime) {
		return time.Time{}, time.Time{}, &ValidationError{Start: startTime, End: endTime}
	}
	return startTime, endTime, nil
}
