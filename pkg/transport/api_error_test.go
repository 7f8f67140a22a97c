package transport

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func fakeResponse(status int, headers map[string]string, body string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestParseAPIErrorEnvelope(t *testing.T) {
	resp := fakeResponse(http.StatusUnprocessableEntity, nil,
		`{"error":{"code":"validation_failed","message":"name is required","request_id":"req_42"}}`)

	apiErr := parseAPIError(resp)
	if apiErr.Code != "validation_failed" {
		t.Errorf("Code = %q", apiErr.Code)
	}
	if apiErr.Message != "name is required" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.RequestID != "req_42" {
		t.Errorf("RequestID = %q", apiErr.RequestID)
	}
	if apiErr.Retryable {
		t.Error("422 must not be retryable")
	}
}

func TestParseAPIErrorNonJSONBody(t *testing.T) {
	resp := fakeResponse(http.StatusBadGateway, nil, "<html>upstream error</html>")

	apiErr := parseAPIError(resp)
	if !apiErr.Retryable {
		t.Error("502 should be retryable")
	}
	if !strings.Contains(apiErr.Message, "upstream error") {
		t.Errorf("Message = %q, want raw body excerpt", apiErr.Message)
	}
}

func TestParseRetryAfterForms(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "12", 12 * time.Second},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.header); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	got := parseRetryAfter(future)
	if got < 80*time.Second || got > 90*time.Second {
		t.Errorf("parseRetryAfter(date) = %v, want ~90s", got)
	}
}

func TestAPIErrorString(t *testing.T) {
	err := &APIError{StatusCode: 429, Code: "rate_limited", Message: "too many requests"}
	s := err.Error()
	if !strings.Contains(s, "rate_limited") || !strings.Contains(s, "429") {
		t.Errorf("Error() = %q, want code and status included", s)
	}
}
