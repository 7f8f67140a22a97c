// Package errors defines the structured error taxonomy shared by every
// Tiation SDK service. Errors carry a stable code, optional context, and a
// retryability hint so callers can branch without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Authentication errors
	ErrCodeAuthMissing ErrorCode = "AUTH_MISSING"
	ErrCodeAuthFailed  ErrorCode = "AUTH_FAILED"

	// Transport errors
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeNetwork     ErrorCode = "NETWORK"
	ErrCodeServer      ErrorCode = "SERVER"
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// Resource errors
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeConflict   ErrorCode = "CONFLICT"
	ErrCodeValidation ErrorCode = "VALIDATION"

	// Realtime errors
	ErrCodeSubscription ErrorCode = "SUBSCRIPTION"
	ErrCodeConnClosed   ErrorCode = "CONNECTION_CLOSED"

	// Analytics spool errors
	ErrCodeSpoolRead  ErrorCode = "SPOOL_READ"
	ErrCodeSpoolWrite ErrorCode = "SPOOL_WRITE"

	// Webhook errors
	ErrCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	ErrCodeTimestampStale   ErrorCode = "TIMESTAMP_STALE"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured Tiation SDK error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Newf creates a new structured error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with SDK error context.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds a context key-value pair to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error (or anything it wraps) carries a specific code
func IsCode(err error, code ErrorCode) bool {
	var sdkErr *Error
	if !stderrors.As(err, &sdkErr) {
		return false
	}
	return sdkErr.Code == code
}

// GetCode extracts the error code from an error chain.
// Returns ErrCodeInternal for errors that did not originate in the SDK.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var sdkErr *Error
	if !stderrors.As(err, &sdkErr) {
		return ErrCodeInternal
	}
	return sdkErr.Code
}

// IsRetryable checks if an error chain contains a retryable SDK error
func IsRetryable(err error) bool {
	var sdkErr *Error
	if !stderrors.As(err, &sdkErr) {
		return false
	}
	return sdkErr.Retryable
}
