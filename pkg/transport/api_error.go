package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// APIError represents a structured error returned by the Tiation API.
// Rate-limit responses carry RetryAfter; check IsRateLimit before backing
// off on it.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Retryable  bool
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tiation: %s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("tiation: %s (HTTP %d)", e.Message, e.StatusCode)
}

// IsRateLimit reports whether this error is a 429 rate limit response.
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether this error is a 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// errorResponse mirrors the platform's JSON error envelope.
type errorResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

// parseAPIError builds an APIError from a non-2xx response. The body is
// consumed but the response is not closed.
func parseAPIError(resp *http.Response) *APIError {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Retryable:  retryable,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		// Include a raw body excerpt for debugging non-JSON errors.
		raw := string(body)
		if len(raw) > 500 {
			raw = raw[:500] + "..."
		}
		message := resp.Status
		if raw != "" {
			message = fmt.Sprintf("%s (raw: %s)", resp.Status, raw)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    message,
			Retryable:  retryable,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		RequestID:  envelope.Error.RequestID,
		Retryable:  retryable,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter parses the Retry-After header, in seconds or HTTP-date form.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}

	return 0
}
