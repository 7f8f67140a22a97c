package tiation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tiation/sdk-go/pkg/analytics"
	"github.com/tiation/sdk-go/pkg/config"
	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/realtime"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.APIKey = "tk_test"
	cfg.BaseURL = baseURL
	return cfg
}

func TestNewRequiresAPIKey(t *testing.T) {
	cfg := config.Default()
	_, err := New(cfg)
	if !sdkerrors.IsCode(err, sdkerrors.ErrCodeAuthMissing) {
		t.Errorf("err = %v, want AUTH_MISSING", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "tk_test"
	cfg.BaseURL = "://not-a-url"
	_, err := New(cfg)
	if !sdkerrors.IsCode(err, sdkerrors.ErrCodeConfigInvalid) {
		t.Errorf("err = %v, want CONFIG_INVALID", err)
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "tk_env")
	t.Setenv(config.EnvBaseURL, "https://api.example.com")
	t.Setenv(config.EnvTimeout, "45")

	client, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	defer client.Close()

	cfg := client.Config()
	if cfg.APIKey != "tk_env" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Timeout.Seconds() != 45 {
		t.Errorf("Timeout = %v, want 45s", cfg.Timeout)
	}
}

func TestServicesShareTransport(t *testing.T) {
	var authed int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tk_test" {
			authed++
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Analytics().Track(ctx, analytics.Event{Name: "signup"}); err != nil {
		t.Errorf("Track failed: %v", err)
	}
	if _, err := client.CMS().ListCollections(ctx, ListOptions{}); err != nil {
		t.Errorf("ListCollections failed: %v", err)
	}
	if _, err := client.Webhooks().ListEndpoints(ctx, ListOptions{}); err != nil {
		t.Errorf("ListEndpoints failed: %v", err)
	}
	if authed != 3 {
		t.Errorf("authenticated requests = %d, want 3", authed)
	}
}

func TestEventBusRequiresURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	_, err = client.EventBus()
	if !sdkerrors.IsCode(err, sdkerrors.ErrCodeConfigInvalid) {
		t.Errorf("err = %v, want CONFIG_INVALID", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	// Realtime subscriptions are refused after Close.
	_, err = client.Subscribe(context.Background(), "entries", func(e realtime.Event) {})
	if !sdkerrors.IsCode(err, sdkerrors.ErrCodeConnClosed) {
		t.Errorf("err = %v, want CONN_CLOSED", err)
	}
}
