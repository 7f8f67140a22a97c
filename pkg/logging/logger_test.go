package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	if err := l.Info(CategoryTransport, "request_complete", "GET /v1/workflows", map[string]any{"status": 200}); err != nil {
		t.Fatalf("Info failed: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	var event Event
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if event.Category != CategoryTransport {
		t.Errorf("Category = %q, want %q", event.Category, CategoryTransport)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should be set automatically")
	}
}

func TestLoggerMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	// Default min level is info; debug should be dropped.
	if err := l.Debug(CategoryRealtime, "frame", "ping", nil); err != nil {
		t.Fatalf("Debug failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("debug event written despite info min level: %q", buf.String())
	}

	l.SetMinLevel(LevelDebug)
	if err := l.Debug(CategoryRealtime, "frame", "ping", nil); err != nil {
		t.Fatalf("Debug failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("debug event dropped after lowering min level")
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	l := Nop()
	if l.Enabled() {
		t.Error("nop logger should report disabled")
	}
	if err := l.Error(CategoryWebhook, "verify_failed", "bad signature", nil); err != nil {
		t.Fatalf("nop logger returned error: %v", err)
	}

	var nilLogger *Logger
	if err := nilLogger.Info(CategoryConfig, "loaded", "", nil); err != nil {
		t.Fatalf("nil logger returned error: %v", err)
	}
}
