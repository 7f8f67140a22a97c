package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/transport"
)

func newTestService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := transport.New(transport.Options{
		BaseURL:     server.URL,
		Credentials: transport.APIKeyCredentials{Key: "tk_test"},
		Retry: transport.RetryConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
		},
	})
	return New(client)
}

func TestCreateEndpointValidation(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	}))

	_, err := svc.CreateEndpoint(context.Background(), CreateEndpointRequest{Events: []string{"*"}})
	if !sdkerrors.IsCode(err, sdkerrors.ErrCodeInvalidInput) {
		t.Errorf("missing URL: err = %v, want INVALID_INPUT", err)
	}

	_, err = svc.CreateEndpoint(context.Background(), CreateEndpointRequest{URL: "https://example.com/hook"})
	if !sdkerrors.IsCode(err, sdkerrors.ErrCodeInvalidInput) {
		t.Errorf("missing events: err = %v, want INVALID_INPUT", err)
	}
}

func TestCreateEndpointReturnsSecret(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CreateEndpointRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Endpoint{
			ID:     "we_1",
			URL:    req.URL,
			Events: req.Events,
			Active: true,
			Secret: "whsec_abc",
		})
	}))

	ep, err := svc.CreateEndpoint(context.Background(), CreateEndpointRequest{
		URL:    "https://example.com/hook",
		Events: []string{"entry.published", "run.completed"},
	})
	if err != nil {
		t.Fatalf("CreateEndpoint failed: %v", err)
	}
	if ep.Secret == "" {
		t.Error("create response should carry the signing secret")
	}
	if !ep.Active {
		t.Error("new endpoint should be active")
	}
}

func TestRotateSecret(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/webhooks/endpoints/we_1/rotate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"we_1","secret":"whsec_new"}`))
	}))

	ep, err := svc.RotateSecret(context.Background(), "we_1")
	if err != nil {
		t.Fatalf("RotateSecret failed: %v", err)
	}
	if ep.Secret != "whsec_new" {
		t.Errorf("secret = %q, want whsec_new", ep.Secret)
	}
}

func TestUpdateEndpointSendsOnlySetFields(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["url"]; ok {
			t.Error("url should be omitted from a partial update")
		}
		if _, ok := raw["active"]; !ok {
			t.Error("active should be present")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"we_1","active":false}`))
	}))

	inactive := false
	ep, err := svc.UpdateEndpoint(context.Background(), "we_1", UpdateEndpointRequest{Active: &inactive})
	if err != nil {
		t.Fatalf("UpdateEndpoint failed: %v", err)
	}
	if ep.Active {
		t.Error("endpoint should be inactive")
	}
}

func TestListDeliveriesAndRedeliver(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/webhooks/endpoints/we_1/deliveries":
			_, _ = w.Write([]byte(`{"deliveries":[{"id":"dlv_1","endpoint_id":"we_1","status":"failed","attempts":3}]}`))
		case "/v1/webhooks/deliveries/dlv_1/redeliver":
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	page, err := svc.ListDeliveries(context.Background(), "we_1", transport.ListOptions{})
	if err != nil {
		t.Fatalf("ListDeliveries failed: %v", err)
	}
	if len(page.Deliveries) != 1 || page.Deliveries[0].Status != DeliveryFailed {
		t.Fatalf("page = %+v", page)
	}

	if err := svc.Redeliver(context.Background(), page.Deliveries[0].ID); err != nil {
		t.Fatalf("Redeliver failed: %v", err)
	}
}
