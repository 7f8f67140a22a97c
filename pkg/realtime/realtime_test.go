package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c := NewClient(Options{
		URL:              wsURL(server),
		APIKey:           "tk_test",
		PingInterval:     50 * time.Millisecond,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// sendEvent writes an event frame for the channel.
func sendEvent(t *testing.T, conn *websocket.Conn, channel, id string) {
	t.Helper()
	event, _ := json.Marshal(Event{ID: id, Channel: channel, Type: "test", Timestamp: time.Now().UTC()})
	if err := conn.WriteJSON(frame{Type: frameEvent, Channel: channel, Event: event}); err != nil {
		t.Errorf("writing event frame: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tk_test" {
			t.Errorf("Authorization = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Action == actionSubscribe {
				_ = conn.WriteJSON(frame{Type: frameSubscribed, Channel: f.Channel})
				sendEvent(t, conn, f.Channel, "evt_1")
			}
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	received := make(chan Event, 1)
	sub, err := client.Subscribe(context.Background(), "entries", func(e Event) {
		received <- e
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	event := waitFor(t, received, 2*time.Second)
	if event.ID != "evt_1" || event.Channel != "entries" {
		t.Errorf("event = %+v", event)
	}
}

func TestWildcardChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Action == actionSubscribe {
				sendEvent(t, conn, "runs.run_1", "evt_run")
			}
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	received := make(chan Event, 1)
	sub, err := client.Subscribe(context.Background(), "runs.*", func(e Event) {
		received <- e
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	event := waitFor(t, received, 2*time.Second)
	if event.Channel != "runs.run_1" {
		t.Errorf("event = %+v", event)
	}
}

func TestReconnectResubscribes(t *testing.T) {
	var connCount atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connCount.Add(1)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Action != actionSubscribe {
				continue
			}
			if n == 1 {
				// Drop the first connection right after the subscribe
				// lands, forcing a reconnect.
				return
			}
			sendEvent(t, conn, f.Channel, "evt_after_reconnect")
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	received := make(chan Event, 1)
	sub, err := client.Subscribe(context.Background(), "entries", func(e Event) {
		received <- e
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	event := waitFor(t, received, 5*time.Second)
	if event.ID != "evt_after_reconnect" {
		t.Errorf("event = %+v", event)
	}
	if got := connCount.Load(); got < 2 {
		t.Errorf("connections = %d, want at least 2", got)
	}
}

func TestSubscriptionOutlivesCallerContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					event, _ := json.Marshal(Event{ID: "evt_tick", Channel: "entries", Type: "test"})
					if conn.WriteJSON(frame{Type: frameEvent, Channel: "entries", Event: event}) != nil {
						return
					}
				}
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Event, 64)
	sub, err := client.Subscribe(ctx, "entries", func(e Event) {
		received <- e
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	waitFor(t, received, 2*time.Second)

	// Cancelling the context used for Subscribe must not stop delivery;
	// the subscription lives until Unsubscribe or Close.
	cancel()
	for len(received) > 0 {
		<-received
	}
	event := waitFor(t, received, 2*time.Second)
	if event.ID != "evt_tick" {
		t.Errorf("event = %+v", event)
	}
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	var connCount atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connCount.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Connect(context.Background()); err != nil {
				t.Errorf("Connect failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := connCount.Load(); got != 1 {
		t.Errorf("connections = %d, want exactly 1", got)
	}
}

func TestUnsubscribeSendsFrame(t *testing.T) {
	unsubscribed := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Action == actionUnsubscribe {
				unsubscribed <- f.Channel
			}
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sub, err := client.Subscribe(context.Background(), "entries", func(Event) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	// Unsubscribing twice is a no-op.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe failed: %v", err)
	}

	select {
	case ch := <-unsubscribed:
		if ch != "entries" {
			t.Errorf("unsubscribed channel = %q", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the unsubscribe frame")
	}
}

func TestSubscribeBeforeConnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Action == actionSubscribe {
				sendEvent(t, conn, f.Channel, "evt_pre")
			}
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)

	received := make(chan Event, 1)
	sub, err := client.Subscribe(context.Background(), "entries", func(e Event) {
		received <- e
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	event := waitFor(t, received, 2*time.Second)
	if event.ID != "evt_pre" {
		t.Errorf("event = %+v", event)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := NewClient(Options{URL: "ws://127.0.0.1:0"})
	defer client.Close()

	if _, err := client.Subscribe(context.Background(), "", func(Event) {}); err == nil {
		t.Error("empty channel should be rejected")
	}
	if _, err := client.Subscribe(context.Background(), "entries", nil); err == nil {
		t.Error("nil handler should be rejected")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if client.Connected() {
		t.Error("client should not report connected after Close")
	}
}
