// Package logging provides structured JSONL event logging for the SDK.
// By default the SDK is silent; callers enable logging explicitly or via
// TIATION_DEBUG=1, which logs to stderr.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the SDK subsystem generating the log
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryAnalytics Category = "analytics"
	CategoryRealtime  Category = "realtime"
	CategoryWebhook   Category = "webhook"
	CategoryConfig    Category = "config"
	CategoryBatch     Category = "batch"
	CategorySpool     Category = "spool"
)

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger writes structured events as JSON lines to a writer
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
}

// New creates a logger writing to the given writer.
// A nil writer produces a logger that discards everything.
func New(out io.Writer) *Logger {
	return &Logger{out: out, minLevel: LevelInfo}
}

// NewFromEnv returns a stderr debug logger when TIATION_DEBUG is set,
// otherwise a disabled logger.
func NewFromEnv() *Logger {
	if os.Getenv("TIATION_DEBUG") != "" {
		l := New(os.Stderr)
		l.SetMinLevel(LevelDebug)
		return l
	}
	return New(nil)
}

// Nop returns a logger that discards all events.
func Nop() *Logger {
	return New(nil)
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Enabled reports whether the logger has a destination.
func (l *Logger) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out != nil
}

// Log writes an event if it meets the minimum level
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil || !l.shouldLog(event.Level) {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.out.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// shouldLog checks if event should be logged based on level
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelDebug, Category: category, EventType: eventType, Message: message, Details: details})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelInfo, Category: category, EventType: eventType, Message: message, Details: details})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelWarn, Category: category, EventType: eventType, Message: message, Details: details})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelError, Category: category, EventType: eventType, Message: message, Details: details})
}
