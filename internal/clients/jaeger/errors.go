package jaeger

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrServiceRequired is returned when a trace query has no service scope.
	// Jaeger rejects unscoped queries.
	ErrServiceRequired = errors.New("jaeger: service parameter is required")
	// ErrTraceIDRequired is returned when a trace lookup has no ID.
	ErrTraceIDRequired = errors.New("jaeger: trace ID is required")
	// ErrInvalidRange is returned when start is not before end.
	ErrInvalidRange = errors.New("jaeger: start must be before end")
	// ErrConnection is returned when Jaeger cannot be reached.
	ErrConnection = errors.New("jaeger: connection failed")
	// ErrTimeout is returned when a request exceeded its deadline.
	ErrTimeout = errors.New("jaeger: request timed out")
	// ErrMalformedResponse is returned when the response body cannot be decoded.
	ErrMalformedResponse = errors.New("jaeger: malformed response")
)

// HTTPError is returned for non-200 responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("jaeger: unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("jaeger: unexpected status code %d: %s", e.StatusCode, e.Body)
}

// classifyTransportError maps a client.Do failure onto ErrTimeout or ErrConnection.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
