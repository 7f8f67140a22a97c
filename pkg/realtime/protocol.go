package realtime

import (
	"encoding/json"
	"time"
)

// Client-to-server actions.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// Server-to-client frame types.
const (
	frameEvent        = "event"
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
	frameError        = "error"
)

// frame is the JSON envelope exchanged on the socket.
type frame struct {
	// Action is set on client-to-server frames.
	Action string `json:"action,omitempty"`
	// Type is set on server-to-client frames.
	Type    string          `json:"type,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Event is one message delivered on a subscribed channel.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler processes one delivered event. Handlers run on their own
// goroutines and must not block indefinitely.
type Handler func(event Event)
