package jaeger

import (
	"net/url"
	"strconv"
	"time"
)

// EpochMicros converts t to microseconds since the Unix epoch, the unit the
// Jaeger query API expects. The conversion is done in UTC.
func EpochMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

// BuildTracesQuery constructs the query parameters for /api/traces.
func BuildTracesQuery(service string, start, end time.Time, limit int) url.Values {
	return url.Values{
		"service": []string{service},
		"start":   []string{strconv.FormatInt(EpochMicros(start), 10)},
		"end":     []string{strconv.FormatInt(EpochMicros(end), 10)},
		"limit":   []string{strconv.Itoa(limit)},
	}
}
