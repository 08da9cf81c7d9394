// Package jaeger provides a client for the Jaeger query API used to fetch the
// traces recorded during a test run.
package jaeger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tracecov/internal/models"
)

// DefaultHarnessService is the service name the test harness reports its own
// client spans under.
const DefaultHarnessService = "test-framework"

// Client implements HTTP interaction with the Jaeger query API. It holds no
// per-query state and is safe for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *retryablehttp.Client
	logger         *slog.Logger
	harnessService string
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the number of retries for transient failures and the wait
// bounds between attempts.
func WithRetry(max int, minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = max
		c.httpClient.RetryWaitMin = minWait
		c.httpClient.RetryWaitMax = maxWait
	}
}

// WithHarnessService overrides the scope QueryAll reads from.
func WithHarnessService(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.harnessService = name
		}
	}
}

// NewClient creates a new Jaeger client
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = logger.With("component", "jaeger-http")
	// Hand the final response back so status codes can be classified here.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     rc,
		logger:         logger,
		harnessService: DefaultHarnessService,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the Jaeger base URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HarnessService returns the scope QueryAll reads traces from.
func (c *Client) HarnessService() string {
	return c.harnessService
}

// tracesResponse is the envelope of /api/traces and /api/traces/{id}.
type tracesResponse struct {
	Data   *[]models.Trace `json:"data"`
	Errors []struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"errors"`
}

// servicesResponse is the envelope of /api/services.
type servicesResponse struct {
	Data []string `json:"data"`
}

// doRequest performs a GET against the Jaeger HTTP API and decodes the JSON body into out.
func (c *Client) doRequest(ctx context.Context, apiPath string, params url.Values, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	u.Path = strings.TrimRight(u.Path, "/") + apiPath
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Querying Jaeger", "url", u.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

// Query fetches traces recorded under service within [start, end]. The
// service is mandatory: Jaeger rejects unscoped searches and no default is
// substituted.
func (c *Client) Query(ctx context.Context, service string, start, end time.Time, limit int) ([]models.Trace, error) {
	if service == "" {
		return nil, ErrServiceRequired
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrInvalidRange, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}

	var resp tracesResponse
	if err := c.doRequest(ctx, "/api/traces", BuildTracesQuery(service, start, end, limit), &resp); err != nil {
		c.logger.Error("Failed to fetch traces", "service", service, "error", err)
		return nil, err
	}

	for _, e := range resp.Errors {
		c.logger.Warn("Jaeger reported query error", "service", service, "code", e.Code, "msg", e.Msg)
	}

	if resp.Data == nil {
		c.logger.Warn("Jaeger response missing data field", "service", service)
		return []models.Trace{}, nil
	}

	traces := *resp.Data
	c.logger.Debug("Retrieved traces", "service", service, "count", len(traces))
	return traces, nil
}

// QueryAll fetches the traces of a test run. Backend services are not
// queried by name: the harness records its gRPC client spans under its own
// identity and the callee is recovered during attribution. Any failure
// degrades to an empty result.
func (c *Client) QueryAll(ctx context.Context, start, end time.Time, limitPerScope int) []models.Trace {
	c.logger.Info("Querying traces from harness service", "service", c.harnessService)

	traces, err := c.Query(ctx, c.harnessService, start, end, limitPerScope)
	if err != nil {
		c.logger.Warn("Failed to query harness traces", "service", c.harnessService, "error", err)
		return []models.Trace{}
	}

	c.logger.Info("Retrieved harness traces", "service", c.harnessService, "count", len(traces))
	return traces
}

// Services lists the service names known to Jaeger. A null data field means
// nothing has been recorded yet and yields an empty list.
func (c *Client) Services(ctx context.Context) ([]string, error) {
	var resp servicesResponse
	if err := c.doRequest(ctx, "/api/services", nil, &resp); err != nil {
		c.logger.Error("Failed to fetch services", "error", err)
		return nil, err
	}
	if resp.Data == nil {
		return []string{}, nil
	}
	return resp.Data, nil
}

// GetTraceByID fetches a single complete trace by its ID
func (c *Client) GetTraceByID(ctx context.Context, traceID string) (*models.Trace, error) {
	if traceID == "" {
		return nil, ErrTraceIDRequired
	}

	var resp tracesResponse
	if err := c.doRequest(ctx, "/api/traces/"+url.PathEscape(traceID), nil, &resp); err != nil {
		c.logger.Error("Failed to fetch trace by ID", "traceID", traceID, "error", err)
		return nil, err
	}

	if resp.Data == nil || len(*resp.Data) == 0 {
		return nil, &HTTPError{StatusCode: http.StatusNotFound, Body: "trace " + traceID + " not found"}
	}

	trace := (*resp.Data)[0]
	return &trace, nil
}
