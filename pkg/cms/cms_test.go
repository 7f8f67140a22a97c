package cms

import (
	"context"
	"encoding/json"
	"errors"
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

func TestCreateCollectionValidation(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	}))

	tests := []struct {
		name string
		req  CreateCollectionRequest
	}{
		{"missing slug", CreateCollectionRequest{Name: "Posts", Fields: []Field{{Name: "title", Type: FieldText}}}},
		{"no fields", CreateCollectionRequest{Slug: "posts", Name: "Posts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCollection(context.Background(), tt.req)
			if !sdkerrors.IsCode(err, sdkerrors.ErrCodeInvalidInput) {
				t.Errorf("err = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestEntryLifecycle(t *testing.T) {
	entry := Entry{
		ID:         "ent_1",
		Collection: "posts",
		Status:     EntryDraft,
		Fields:     map[string]any{"title": "Hello"},
		Version:    1,
	}
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/cms/collections/posts/entries":
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			entry.Fields = body.Fields
			_ = json.NewEncoder(w).Encode(entry)
		case r.Method == http.MethodPut && r.URL.Path == "/v1/cms/collections/posts/entries/ent_1":
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			entry.Fields = body.Fields
			entry.Version++
			entry.Status = EntryDraft
			_ = json.NewEncoder(w).Encode(entry)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/cms/collections/posts/entries/ent_1/publish":
			entry.Status = EntryPublished
			now := time.Now().UTC()
			entry.PublishedAt = &now
			_ = json.NewEncoder(w).Encode(entry)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/cms/collections/posts/entries/ent_1/unpublish":
			entry.Status = EntryDraft
			entry.PublishedAt = nil
			_ = json.NewEncoder(w).Encode(entry)
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/cms/collections/posts/entries/ent_1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ctx := context.Background()

	created, err := svc.CreateEntry(ctx, "posts", map[string]any{"title": "Hello"})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	if created.Status != EntryDraft {
		t.Errorf("new entry status = %q, want draft", created.Status)
	}

	updated, err := svc.UpdateEntry(ctx, "posts", "ent_1", map[string]any{"title": "Hello again"})
	if err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if updated.Fields["title"] != "Hello again" {
		t.Errorf("fields = %v", updated.Fields)
	}

	published, err := svc.Publish(ctx, "posts", "ent_1")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if published.Status != EntryPublished || published.PublishedAt == nil {
		t.Errorf("published entry = %+v", published)
	}

	unpublished, err := svc.Unpublish(ctx, "posts", "ent_1")
	if err != nil {
		t.Fatalf("Unpublish failed: %v", err)
	}
	if unpublished.Status != EntryDraft {
		t.Errorf("status after unpublish = %q, want draft", unpublished.Status)
	}

	if err := svc.DeleteEntry(ctx, "posts", "ent_1"); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
}

func TestListEntriesFilters(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("status"); got != "published" {
			t.Errorf("status = %q, want published", got)
		}
		if got := q.Get("fields.author"); got != "ana" {
			t.Errorf("fields.author = %q, want ana", got)
		}
		if got := q.Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[{"id":"ent_1","collection":"posts","status":"published"}],"next_cursor":"c2"}`))
	}))

	page, err := svc.ListEntries(context.Background(), "posts", ListEntriesOptions{
		ListOptions: transport.ListOptions{Limit: 10},
		Status:      EntryPublished,
		Filters:     map[string]string{"author": "ana"},
	})
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(page.Entries) != 1 || !page.HasMore() {
		t.Errorf("page = %+v", page)
	}
}

func TestGetEntryNotFound(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"no such entry"}}`))
	}))

	_, err := svc.GetEntry(context.Background(), "posts", "missing")
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *transport.APIError", err)
	}
	if !apiErr.IsNotFound() {
		t.Errorf("IsNotFound = false for %+v", apiErr)
	}
}

func TestEscapesPathSegments(t *testing.T) {
	var gotPath string
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"weird/slug"}`))
	}))

	if _, err := svc.GetCollection(context.Background(), "weird/slug"); err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if gotPath != "/v1/cms/collections/weird%2Fslug" {
		t.Errorf("path = %q", gotPath)
	}
}
