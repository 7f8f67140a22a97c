package transport

import (
	"sync"
	"time"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/telemetry"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed allows requests to pass through
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen allows a test request to check if the API recovered
	CircuitHalfOpen
	// CircuitOpen blocks all requests
	CircuitOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit
	MaxFailures uint32
	// ResetTimeout is the duration to wait before transitioning from open to half-open
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

// CircuitBreaker guards the API against hammering a failing endpoint
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state           CircuitState
	failureCount    uint32
	lastFailureTime time.Time

	mu sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = DefaultCircuitBreakerConfig().MaxFailures
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = DefaultCircuitBreakerConfig().ResetTimeout
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state.String()
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(CircuitClosed)
	cb.failureCount = 0
	cb.lastFailureTime = time.Time{}
}

// Allow reports whether a request may proceed, transitioning open -> half-open
// after the reset timeout. Returns a CIRCUIT_OPEN error when blocked.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailureTime) >= cb.config.ResetTimeout {
			cb.setState(CircuitHalfOpen)
			cb.failureCount = 0
		} else {
			return sdkerrors.Newf(sdkerrors.ErrCodeCircuitOpen,
				"circuit breaker is open (last failure %v ago)", time.Since(cb.lastFailureTime).Round(time.Millisecond)).
				WithRetryable(true)
		}
	}
	return nil
}

// RecordResult feeds the outcome of a request back into the breaker.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case CircuitHalfOpen:
			cb.setState(CircuitOpen)
		case CircuitClosed:
			if cb.failureCount >= cb.config.MaxFailures {
				cb.setState(CircuitOpen)
			}
		}
		return
	}

	switch cb.state {
	case CircuitHalfOpen:
		cb.setState(CircuitClosed)
		cb.failureCount = 0
		cb.lastFailureTime = time.Time{}
	case CircuitClosed:
		cb.failureCount = 0
	}
}

// Call wraps a function call with circuit breaker logic
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.RecordResult(err)
	return err
}

// setState updates the state and the exported gauge. Must hold the lock.
func (cb *CircuitBreaker) setState(state CircuitState) {
	cb.state = state
	telemetry.CircuitBreakerState.Set(float64(state))
}

// FailureCount returns the current failure count
func (cb *CircuitBreaker) FailureCount() uint32 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failureCount
}
