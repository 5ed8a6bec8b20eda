// Package http wraps the standard client with the retry, circuit breaker,
// and telemetry layers every REST venue adapter needs.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tradebot/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxRetries     = 3
	backoffInitial = 100 * time.Millisecond
	backoffMax     = 2 * time.Second
	breakerDelay   = 10 * time.Second
)

// APIError carries a non-2xx response through the error chain so callers can
// inspect the venue's status code and raw body.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer mutates an outgoing request with venue authentication
type Signer interface {
	SignRequest(req *http.Request) error
}

// Client is a REST client with a retry policy wrapping a circuit breaker.
// Retries cover transport errors, 5xx, and 429; the breaker opens after 5
// failures in a window of 10 and probes again after breakerDelay.
type Client struct {
	httpClient *http.Client
	baseURL    string
	signer     Signer
	exec       failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	requests    metric.Int64Counter
	failures    metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient builds a client for baseURL. A nil signer sends unauthenticated
// requests.
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	retriable := func(resp *http.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(retriable).
		WithBackoff(backoffInitial, backoffMax).
		WithMaxRetries(maxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(breakerDelay).
		Build()

	meter := telemetry.GetMeter("http-client")
	requests, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	failures, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		signer:      signer,
		exec:        failsafe.With[*http.Response](retry, breaker),
		tracer:      telemetry.GetTracer("http-client"),
		requests:    requests,
		failures:    failures,
		latencyHist: latencyHist,
	}
}

// Get sends a GET request with params encoded into the query string
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.queryRequest(ctx, http.MethodGet, path, params)
}

// Put sends a PUT request with params encoded into the query string
func (c *Client) Put(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.queryRequest(ctx, http.MethodPut, path, params)
}

// Delete sends a DELETE request with params encoded into the query string
func (c *Client) Delete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.queryRequest(ctx, http.MethodDelete, path, params)
}

// Post sends a POST request. A non-nil body is marshaled as JSON.
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *Client) queryRequest(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := c.exec.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.httpClient.Do(req)
	})

	routeAttrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	)
	c.requests.Add(ctx, 1, routeAttrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), routeAttrs)

	if err != nil {
		span.RecordError(err)
		c.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.String("error", "pipeline_failed"),
		))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
