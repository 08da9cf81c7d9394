// Package models defines the shared core data structures used throughout tracecov.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Trace is a Jaeger trace as returned by the query API.
type Trace struct {
	TraceID   string             `json:"traceID"`
	Spans     []Span             `json:"spans"`
	Processes map[string]Process `json:"processes,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`

	// MissingSpans is set when the payload carried no "spans" key at all,
	// as opposed to an empty list.
	MissingSpans bool `json:"-"`
}

// UnmarshalJSON records whether the spans key was present.
func (t *Trace) UnmarshalJSON(data []byte) error {
	type alias Trace
	var raw struct {
		alias
		Spans *[]Span `json:"spans"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = Trace(raw.alias)
	if raw.Spans == nil {
		t.Spans = nil
		t.MissingSpans = true
		return nil
	}
	t.Spans = *raw.Spans
	t.MissingSpans = false
	return nil
}

// Process identifies the process that recorded a span.
type Process struct {
	ServiceName string     `json:"serviceName"`
	Tags        []KeyValue `json:"tags,omitempty"`
}

// Span represents a single timed operation within a larger trace.
type Span struct {
	TraceID       string     `json:"traceID"`
	SpanID        string     `json:"spanID"`
	OperationName string     `json:"operationName"`
	StartTime     int64      `json:"startTime"` // epoch microseconds
	Duration      int64      `json:"duration"`  // microseconds
	Tags          []KeyValue `json:"tags,omitempty"`
	ProcessID     string     `json:"processID,omitempty"`
	Process       *Process   `json:"process,omitempty"`
}

// Tag returns the value of the first tag with the given key.
func (s *Span) Tag(key string) (string, bool) {
	return lookupTag(s.Tags, key)
}

// KeyValue is a span or process tag. Jaeger emits structured
// {"key","type","value"} objects, some exporters emit flattened "key=value"
// strings; both decode into the same shape.
type KeyValue struct {
	Key   string `json:"key"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`

	// Flattened is true when the tag was decoded from a "key=value" string.
	Flattened bool `json:"-"`
}

// UnmarshalJSON accepts both the object and the flattened string form. A
// flattened value is everything after the first "=", so values may contain "=".
func (kv *KeyValue) UnmarshalJSON(data []byte) error {
	var flat string
	if err := json.Unmarshal(data, &flat); err == nil {
		key, value, _ := strings.Cut(flat, "=")
		*kv = KeyValue{Key: key, Type: "string", Value: value, Flattened: true}
		return nil
	}

	type alias KeyValue
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding tag: %w", err)
	}
	*kv = KeyValue(obj)
	return nil
}

// String returns the tag value formatted as text.
func (kv KeyValue) String() string {
	switch v := kv.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func lookupTag(tags []KeyValue, key string) (string, bool) {
	for _, tag := range tags {
		if tag.Key == key {
			return tag.String(), true
		}
	}
	return "", false
}
