// Package realtime delivers platform events over a WebSocket connection
// with channel subscriptions that survive reconnects.
package realtime

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiation/sdk-go/pkg/bus"
	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/logging"
	"github.com/tiation/sdk-go/pkg/telemetry"
)

const defaultURL = "wss://realtime.tiation.com/v1/events"

const (
	defaultPingInterval     = 30 * time.Second
	defaultPongWait         = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 30 * time.Second
)

// subjectPrefix routes delivered events onto the internal fan-out bus.
const subjectPrefix = "tiation.events."

// Options configure a realtime Client.
type Options struct {
	// URL of the events endpoint. Defaults to the hosted platform.
	URL    string
	APIKey string
	Logger *logging.Logger
	// Dialer overrides the WebSocket dialer (used in tests).
	Dialer *websocket.Dialer

	PingInterval time.Duration
	WriteTimeout time.Duration

	// ReconnectInitial/ReconnectMax bound the redial backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// MaxReconnects caps consecutive failed redials before the client
	// gives up. Zero or negative means retry forever.
	MaxReconnects int
}

func (o *Options) setDefaults() {
	if o.URL == "" {
		o.URL = defaultURL
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = defaultReconnectInitial
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = defaultReconnectMax
	}
}

// Client is a realtime event consumer. It maintains one WebSocket
// connection, fans events out to channel subscriptions, and transparently
// reconnects and resubscribes when the connection drops.
type Client struct {
	opts   Options
	logger *logging.Logger
	bus    *bus.MemoryBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	conn      *websocket.Conn
	channels  map[string]int
	connected bool
	dialing   bool
	closed    bool

	writeMu sync.Mutex
}

// NewClient creates a realtime client. Call Connect to establish the
// connection; subscriptions made beforehand attach once connected.
func NewClient(opts Options) *Client {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:     opts,
		logger:   opts.Logger,
		bus:      bus.NewMemoryBus(),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]int),
	}
}

// Connect dials the events endpoint and starts the read loop. The first
// dial failure is returned directly; later drops reconnect in the
// background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return sdkerrors.New(sdkerrors.ErrCodeConnClosed, "client is closed")
	}
	// The dialing flag keeps concurrent Connect calls from racing past
	// the connected check and establishing two connections.
	if c.connected || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
		return err
	}
	c.attach(conn)

	c.mu.Lock()
	c.dialing = false
	c.mu.Unlock()

	c.wg.Add(1)
	go c.supervise(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeAuthFailed, "realtime handshake rejected")
			}
		}
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeNetwork, "dialing events endpoint").WithRetryable(true)
	}
	return conn, nil
}

// attach installs the connection and replays subscribe frames for every
// active channel.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		if err := c.writeFrame(frame{Action: actionSubscribe, Channel: ch}); err != nil {
			c.logger.Warn(logging.CategoryRealtime, "resubscribe_failed", "",
				map[string]any{"channel": ch, "cause": err.Error()})
		}
	}
}

// supervise runs the connection until the client closes, redialing with
// exponential backoff whenever the connection drops.
func (c *Client) supervise(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.runConn(conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()

		if closed || c.ctx.Err() != nil {
			return
		}

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

// redial attempts to reestablish the connection, backing off between
// attempts. Returns false when the client closed or gave up.
func (c *Client) redial() (*websocket.Conn, bool) {
	backoff := c.opts.ReconnectInitial
	attempts := 0

	for {
		attempts++
		if c.opts.MaxReconnects > 0 && attempts > c.opts.MaxReconnects {
			c.logger.Error(logging.CategoryRealtime, "reconnect_exhausted", "",
				map[string]any{"attempts": attempts - 1})
			return nil, false
		}

		delay := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-c.ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Warn(logging.CategoryRealtime, "reconnect_failed", "",
				map[string]any{"attempt": attempts, "cause": err.Error()})
			backoff *= 2
			if backoff > c.opts.ReconnectMax {
				backoff = c.opts.ReconnectMax
			}
			continue
		}

		telemetry.RealtimeReconnects.Inc()
		c.logger.Info(logging.CategoryRealtime, "reconnected", "",
			map[string]any{"attempt": attempts})
		c.attach(conn)
		return conn, true
	}
}

// runConn reads frames from one connection until it fails. A pinger
// goroutine keeps the connection alive.
func (c *Client) runConn(conn *websocket.Conn) {
	pongWait := c.opts.PingInterval + defaultPongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingerDone := make(chan struct{})
	defer close(pingerDone)
	go c.pinger(conn, pingerDone)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn(logging.CategoryRealtime, "connection_lost", "",
					map[string]any{"cause": err.Error()})
			}
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) pinger(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(f frame) {
	switch f.Type {
	case frameEvent:
		var event Event
		if err := json.Unmarshal(f.Event, &event); err != nil {
			c.logger.Warn(logging.CategoryRealtime, "malformed_event", "",
				map[string]any{"cause": err.Error()})
			return
		}
		if event.Channel == "" {
			event.Channel = f.Channel
		}
		telemetry.RealtimeEventsReceived.WithLabelValues(event.Channel).Inc()
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		_ = c.bus.Publish(c.ctx, subjectPrefix+event.Channel, payload)

	case frameSubscribed, frameUnsubscribed:
		c.logger.Debug(logging.CategoryRealtime, "subscription_ack", "",
			map[string]any{"type": f.Type, "channel": f.Channel})

	case frameError:
		c.logger.Error(logging.CategoryRealtime, "server_error", "",
			map[string]any{"channel": f.Channel, "error": f.Error})
	}
}

// writeFrame sends one frame on the current connection.
func (c *Client) writeFrame(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return sdkerrors.New(sdkerrors.ErrCodeConnClosed, "not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteJSON(f)
}

// Subscription is an active channel subscription.
type Subscription struct {
	client  *Client
	channel string
	busSub  bus.Subscription

	once sync.Once
}

// Channel returns the subscribed channel pattern.
func (s *Subscription) Channel() string { return s.channel }

// Unsubscribe detaches the handler. When no other subscriptions remain
// on the channel, the server subscription is dropped too.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.busSub.Unsubscribe()
		telemetry.ActiveSubscriptions.Dec()
		s.client.releaseChannel(s.channel)
	})
	return err
}

// Subscribe attaches a handler to a channel. Channels support the same
// wildcards as bus subjects: "runs.*" matches one token, "runs.>" the
// whole tail. Subscribing before Connect is allowed.
//
// The context only bounds the Subscribe call itself. The subscription
// delivers events until Unsubscribe or Close, regardless of what happens
// to ctx afterwards.
func (c *Client) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	if channel == "" {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "channel is required")
	}
	if h == nil {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "handler is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSubscription, "subscribing to "+channel)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, sdkerrors.New(sdkerrors.ErrCodeConnClosed, "client is closed")
	}
	c.mu.Unlock()

	// Deliveries ride on the client lifetime, not the caller's ctx.
	busSub, err := c.bus.Subscribe(c.ctx, subjectPrefix+channel, func(msg *bus.Message) []byte {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return nil
		}
		h(event)
		return nil
	})
	if err != nil {
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSubscription, "subscribing to "+channel)
	}

	c.mu.Lock()
	c.channels[channel]++
	first := c.channels[channel] == 1
	connected := c.connected
	c.mu.Unlock()

	telemetry.ActiveSubscriptions.Inc()

	if first && connected {
		if err := c.writeFrame(frame{Action: actionSubscribe, Channel: channel}); err != nil {
			// The pending subscription replays on the next attach.
			c.logger.Warn(logging.CategoryRealtime, "subscribe_deferred", "",
				map[string]any{"channel": channel, "cause": err.Error()})
		}
	}

	return &Subscription{client: c, channel: channel, busSub: busSub}, nil
}

// releaseChannel drops the server-side subscription once the last local
// handler detaches.
func (c *Client) releaseChannel(channel string) {
	c.mu.Lock()
	c.channels[channel]--
	last := c.channels[channel] <= 0
	if last {
		delete(c.channels, channel)
	}
	connected := c.connected
	c.mu.Unlock()

	if last && connected {
		_ = c.writeFrame(frame{Action: actionUnsubscribe, Channel: channel})
	}
}

// Connected reports whether the socket is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down the connection and all subscriptions. The client
// cannot be reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	c.wg.Wait()
	return c.bus.Close()
}
