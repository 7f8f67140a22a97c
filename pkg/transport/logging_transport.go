package transport

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tiation/sdk-go/pkg/logging"
)

// LoggingTransport is an http.RoundTripper that records requests and
// responses through the SDK logger, with credentials redacted.
type LoggingTransport struct {
	base   http.RoundTripper
	logger *logging.Logger
}

// NewLoggingTransport wraps base with request/response logging. When the
// logger is disabled the transport is pass-through.
func NewLoggingTransport(base http.RoundTripper, logger *logging.Logger) *LoggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingTransport{base: base, logger: logger}
}

// RoundTrip implements http.RoundTripper
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	if !t.logger.Enabled() {
		return t.base.RoundTrip(req)
	}

	details := map[string]any{
		"method":  req.Method,
		"url":     req.URL.String(),
		"headers": sanitizeHeaders(req.Header),
	}

	if req.Body != nil && req.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(req.Body)
		if err == nil {
			details["request_body"] = truncateBody(string(bodyBytes))
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	details["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		details["error"] = err.Error()
		_ = t.logger.Error(logging.CategoryTransport, "request_failed", "", details)
		return nil, err
	}

	details["status"] = resp.StatusCode
	if resp.Body != nil {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			details["response_body"] = truncateBody(string(bodyBytes))
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	_ = t.logger.Debug(logging.CategoryTransport, "request_complete", "", details)
	return resp, nil
}

// sanitizeHeaders converts headers to a map, masking sensitive values
func sanitizeHeaders(headers http.Header) map[string]string {
	result := make(map[string]string)
	for key, values := range headers {
		lowerKey := strings.ToLower(key)
		if lowerKey == "authorization" || lowerKey == "x-api-key" || lowerKey == "x-tiation-signature" {
			result[key] = "[REDACTED]"
		} else {
			result[key] = strings.Join(values, ", ")
		}
	}
	return result
}

// truncateBody limits body size for logging
func truncateBody(body string) string {
	const maxLen = 4096
	if len(body) > maxLen {
		return body[:maxLen] + "...[truncated]"
	}
	return body
}
