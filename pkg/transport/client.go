// Package transport implements the HTTP core shared by all Tiation SDK
// services: authentication, retries with backoff, client-side rate
// limiting, a circuit breaker, and structured API errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/logging"
	"github.com/tiation/sdk-go/pkg/telemetry"
)

const (
	defaultBaseURL = "https://api.tiation.com"
	defaultTimeout = 30 * time.Second
	apiVersion     = "v1"
	userAgent      = "tiation-sdk-go"
)

// RetryConfig configures the retry mechanism.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// withRetryDefaults fills unset retry fields individually. A fully zero
// config means the caller wants the defaults; a partially set one keeps
// what the caller chose, so MaxRetries of zero disables retries.
func withRetryDefaults(r RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if r == (RetryConfig{}) {
		return def
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.InitialInterval <= 0 {
		r.InitialInterval = def.InitialInterval
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = def.MaxInterval
	}
	if r.Multiplier < 1 {
		r.Multiplier = def.Multiplier
	}
	return r
}

// DefaultTransport returns an http.Transport with tuned connection pool settings.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Options configures a transport Client.
type Options struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	Retry       RetryConfig
	// RatePerSecond/RateBurst configure the proactive client-side limiter.
	// Zero disables it.
	RatePerSecond float64
	RateBurst     int
	// CircuitBreaker is optional; zero values get defaults.
	CircuitBreaker CircuitBreakerConfig
	Logger         *logging.Logger
	// HTTPClient overrides the built client entirely (used in tests).
	HTTPClient *http.Client
}

// Client is the HTTP core used by every service client.
// It is safe for concurrent use.
type Client struct {
	baseURL        string
	creds          Credentials
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *CircuitBreaker
	retry          RetryConfig
	logger         *logging.Logger
}

// New creates a transport client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	opts.Retry = withRetryDefaults(opts.Retry)
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   opts.Timeout,
			Transport: NewLoggingTransport(DefaultTransport(), opts.Logger),
		}
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		creds:          opts.Credentials,
		httpClient:     httpClient,
		rateLimiter:    limiter,
		circuitBreaker: NewCircuitBreaker(opts.CircuitBreaker),
		retry:          opts.Retry,
		logger:         opts.Logger,
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CircuitBreakerState returns the current circuit breaker state.
func (c *Client) CircuitBreakerState() string {
	return c.circuitBreaker.State()
}

// Request describes one API call.
type Request struct {
	// Service and Operation label metrics and spans (e.g. "analytics", "track").
	Service   string
	Operation string

	Method string
	// Path is relative to the versioned API root, e.g. "workflows/wf_123".
	Path  string
	Query url.Values
	// Body is JSON-encoded when non-nil.
	Body any
	// Out receives the decoded JSON response when non-nil.
	Out any
	// Idempotent marks the request safe to retry. GET/PUT/DELETE are
	// idempotent by construction; mutating requests become idempotent
	// when an Idempotency-Key is attached (see WithIdempotencyKey).
	Idempotent bool
	// IdempotencyKey is sent as the Idempotency-Key header when set.
	IdempotencyKey string
}

// WithIdempotencyKey attaches a fresh idempotency key, making the request
// safe to retry.
func (r Request) WithIdempotencyKey() Request {
	r.IdempotencyKey = uuid.NewString()
	r.Idempotent = true
	return r
}

// Do executes the request with rate limiting, circuit breaking, and
// retries for idempotent requests.
func (c *Client) Do(ctx context.Context, req Request) error {
	ctx, span := telemetry.StartSpan(ctx, fmt.Sprintf("tiation.%s.%s", req.Service, req.Operation),
		trace.WithAttributes(
			telemetry.AttrService.String(req.Service),
			telemetry.AttrOperation.String(req.Operation),
		))
	defer span.End()

	start := time.Now()
	err := c.do(ctx, req)
	telemetry.RequestDuration.WithLabelValues(req.Service, req.Operation).Observe(time.Since(start).Seconds())
	telemetry.RequestsTotal.WithLabelValues(req.Service, req.Operation, statusLabel(err)).Inc()

	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, req Request) error {
	if err := c.circuitBreaker.Allow(); err != nil {
		return err
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return sdkerrors.Wrap(err, sdkerrors.ErrCodeInvalidInput, "marshaling request body")
		}
	}

	err := c.doAttempts(ctx, req, body)

	// Feed the breaker one outcome per logical request, not per attempt,
	// so a retried request cannot trip it on its own. A caller-cancelled
	// context says nothing about service health.
	if err == nil || ctx.Err() == nil {
		c.circuitBreaker.RecordResult(err)
	}
	return err
}

func (c *Client) doAttempts(ctx context.Context, req Request, body []byte) error {
	maxAttempts := 1
	if req.Idempotent || isIdempotentMethod(req.Method) {
		maxAttempts = c.retry.MaxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			telemetry.RetriesTotal.WithLabelValues(req.Service).Inc()
			delay := c.backoff(attempt-1, lastErr)
			c.logger.Debug(logging.CategoryTransport, "retrying", "",
				map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds(), "path": req.Path})
			select {
			case <-ctx.Done():
				return ctxError(ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = c.attempt(ctx, req, body)
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}

	return sdkerrors.Wrap(lastErr, sdkerrors.ErrCodeNetwork,
		fmt.Sprintf("max retries (%d) exceeded", c.retry.MaxRetries)).WithRetryable(true)
}

// attempt performs a single request/response cycle.
func (c *Client) attempt(ctx context.Context, req Request, body []byte) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return ctxError(err)
		}
	}

	u := c.baseURL + "/" + apiVersion + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, reader)
	if err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeInvalidInput, "creating request")
	}

	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if c.creds != nil {
		if err := c.creds.Apply(httpReq); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctxError(ctx.Err())
		}
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeNetwork, "request failed").WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp)
		if apiErr.IsRateLimit() {
			telemetry.RateLimitHits.Inc()
		}
		return apiErr
	}

	if req.Out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(req.Out); err != nil {
			return sdkerrors.Wrap(err, sdkerrors.ErrCodeServer, "decoding response")
		}
	}

	return nil
}

// backoff computes the delay before the next retry, honoring Retry-After
// from rate-limit responses and applying exponential backoff with jitter
// otherwise.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	if apiErr, ok := lastErr.(*APIError); ok && apiErr.RetryAfter > 0 {
		if apiErr.RetryAfter > c.retry.MaxInterval {
			return c.retry.MaxInterval
		}
		return apiErr.RetryAfter
	}

	delay := float64(c.retry.InitialInterval)
	for i := 0; i < attempt; i++ {
		delay *= c.retry.Multiplier
	}
	if delay > float64(c.retry.MaxInterval) {
		delay = float64(c.retry.MaxInterval)
	}

	// Jitter avoids thundering herds when many clients retry together.
	jitter := rand.Float64() * delay * 0.5
	return time.Duration(delay*0.75 + jitter)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, service, operation, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{
		Service: service, Operation: operation,
		Method: http.MethodGet, Path: path, Query: query, Out: out,
		Idempotent: true,
	})
}

// Post performs a POST request with a fresh idempotency key.
func (c *Client) Post(ctx context.Context, service, operation, path string, body, out any) error {
	return c.Do(ctx, Request{
		Service: service, Operation: operation,
		Method: http.MethodPost, Path: path, Body: body, Out: out,
	}.WithIdempotencyKey())
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, service, operation, path string, body, out any) error {
	return c.Do(ctx, Request{
		Service: service, Operation: operation,
		Method: http.MethodPut, Path: path, Body: body, Out: out,
		Idempotent: true,
	})
}

// Patch performs a PATCH request with a fresh idempotency key.
func (c *Client) Patch(ctx context.Context, service, operation, path string, body, out any) error {
	return c.Do(ctx, Request{
		Service: service, Operation: operation,
		Method: http.MethodPatch, Path: path, Body: body, Out: out,
	}.WithIdempotencyKey())
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, service, operation, path string) error {
	return c.Do(ctx, Request{
		Service: service, Operation: operation,
		Method: http.MethodDelete, Path: path,
		Idempotent: true,
	})
}

// isIdempotentMethod checks if an HTTP method is safe to retry without an
// idempotency key.
func isIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// isRetryableError checks if an error warrants another attempt.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	return sdkerrors.IsRetryable(err)
}

// ctxError maps context errors onto the SDK taxonomy.
func ctxError(err error) error {
	if err == context.DeadlineExceeded {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeTimeout, "request deadline exceeded")
	}
	return sdkerrors.Wrap(err, sdkerrors.ErrCodeNetwork, "request cancelled")
}

// statusLabel renders an error as a metrics label value.
func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if apiErr, ok := err.(*APIError); ok {
		return strconv.Itoa(apiErr.StatusCode)
	}
	return string(sdkerrors.GetCode(err))
}
