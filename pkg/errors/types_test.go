package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	err := New(ErrCodeNotFound, "workflow not found")

	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeNotFound)
	}
	if err.Retryable {
		t.Error("new errors should not be retryable by default")
	}
	if !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("Error() = %q, want it to contain the code", err.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if got := Wrap(nil, ErrCodeNetwork, "request failed"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestWrapPreservesChain(t *testing.T) {
	underlying := stderrors.New("connection refused")
	err := Wrap(underlying, ErrCodeNetwork, "publishing event")

	if !stderrors.Is(err, underlying) {
		t.Error("wrapped error should match errors.Is on the underlying error")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q, want underlying message included", err.Error())
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(ErrCodeRateLimited, "too many requests").WithRetryable(true)
	outer := fmt.Errorf("track event: %w", inner)

	if !IsCode(outer, ErrCodeRateLimited) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(outer, ErrCodeTimeout) {
		t.Error("IsCode matched the wrong code")
	}
	if !IsRetryable(outer) {
		t.Error("IsRetryable should see through fmt.Errorf wrapping")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"sdk_error", New(ErrCodeValidation, "bad input"), ErrCodeValidation},
		{"foreign_error", stderrors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithContextInErrorString(t *testing.T) {
	err := New(ErrCodeSubscription, "subscribe failed").WithContext("channel", "analytics.events")

	if !strings.Contains(err.Error(), "channel: analytics.events") {
		t.Errorf("Error() = %q, want context rendered", err.Error())
	}
}
