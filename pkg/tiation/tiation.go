// Package tiation is the entry point of the Tiation Go SDK. A Client
// bundles the service clients for analytics, automation, content, and
// webhooks on top of one shared HTTP transport, plus a realtime
// subscription surface.
package tiation

import (
	"context"
	"sync"

	"github.com/tiation/sdk-go/pkg/analytics"
	"github.com/tiation/sdk-go/pkg/automation"
	"github.com/tiation/sdk-go/pkg/batch"
	"github.com/tiation/sdk-go/pkg/bus"
	"github.com/tiation/sdk-go/pkg/cms"
	"github.com/tiation/sdk-go/pkg/config"
	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/logging"
	"github.com/tiation/sdk-go/pkg/realtime"
	"github.com/tiation/sdk-go/pkg/transport"
	"github.com/tiation/sdk-go/pkg/webhooks"
)

// ListOptions and PageInfo are re-exported so callers paginate without
// importing the transport package.
type (
	ListOptions = transport.ListOptions
	PageInfo    = transport.PageInfo
)

// Client is the Tiation platform client. Construct it once and share it;
// all services and the underlying transport are safe for concurrent use.
type Client struct {
	cfg       *config.Config
	logger    *logging.Logger
	transport *transport.Client

	analytics  *analytics.Service
	automation *automation.Service
	cms        *cms.Service
	webhooks   *webhooks.Service
	batch      *batch.Service

	mu       sync.Mutex
	realtime *realtime.Client
	eventBus bus.MessageBus
	closed   bool
}

// New creates a Client from the given configuration. The API key must be
// present; everything else falls back to defaults.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	logger := logging.NewFromEnv()
	if cfg.Debug {
		logger.SetMinLevel(logging.LevelDebug)
	}

	tc := transport.New(transport.Options{
		BaseURL:     cfg.BaseURL,
		Credentials: transport.APIKeyCredentials{Key: cfg.APIKey},
		Timeout:     cfg.Timeout,
		Retry: transport.RetryConfig{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
		},
		RatePerSecond: cfg.RateLimit.RequestsPerSecond,
		RateBurst:     cfg.RateLimit.Burst,
		CircuitBreaker: transport.CircuitBreakerConfig{
			MaxFailures:  cfg.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
		},
		Logger: logger,
	})

	analyticsSvc, err := analytics.New(tc, analytics.Options{
		SpoolPath:     cfg.Spool.Path,
		SpoolMax:      cfg.Spool.MaxEvents,
		FlushInterval: cfg.Spool.FlushInterval,
		BatchSize:     cfg.Spool.BatchSize,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		transport:  tc,
		analytics:  analyticsSvc,
		automation: automation.New(tc),
		cms:        cms.New(tc),
		webhooks:   webhooks.New(tc),
		batch:      batch.New(tc),
	}, nil
}

// NewFromEnv creates a Client from tiation.yaml in the working directory
// (when present) and TIATION_* environment variables.
func NewFromEnv() (*Client, error) {
	cfg, err := config.Load("tiation.yaml")
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Config returns the client's effective configuration.
func (c *Client) Config() *config.Config { return c.cfg }

// Analytics returns the analytics service client.
func (c *Client) Analytics() *analytics.Service { return c.analytics }

// Automation returns the automation service client.
func (c *Client) Automation() *automation.Service { return c.automation }

// CMS returns the content service client.
func (c *Client) CMS() *cms.Service { return c.cms }

// Webhooks returns the webhook management client.
func (c *Client) Webhooks() *webhooks.Service { return c.webhooks }

// Batch returns the batch execution client.
func (c *Client) Batch() *batch.Service { return c.batch }

// Realtime returns the realtime client, dialing the events endpoint on
// first use.
func (c *Client) Realtime(ctx context.Context) (*realtime.Client, error) {
	return c.realtimeClient(ctx)
}

// Subscribe attaches a handler to a realtime channel, dialing the
// events endpoint on first use. The subscription survives reconnects
// until unsubscribed or the client closes.
func (c *Client) Subscribe(ctx context.Context, channel string, h realtime.Handler) (*realtime.Subscription, error) {
	rt, err := c.realtimeClient(ctx)
	if err != nil {
		return nil, err
	}
	return rt.Subscribe(ctx, channel, h)
}

func (c *Client) realtimeClient(ctx context.Context) (*realtime.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, sdkerrors.New(sdkerrors.ErrCodeConnClosed, "client is closed")
	}
	if c.realtime != nil {
		return c.realtime, nil
	}

	rt := realtime.NewClient(realtime.Options{
		URL:          c.cfg.Realtime.URL,
		APIKey:       c.cfg.APIKey,
		Logger:       c.logger,
		PingInterval: c.cfg.Realtime.PingInterval,
		ReconnectMax: c.cfg.Realtime.ReconnectMaxWait,
	})
	if err := rt.Connect(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	c.realtime = rt
	return rt, nil
}

// EventBus connects to the NATS firehose of a self-hosted deployment.
// Requires bus.url (or TIATION_NATS_URL) in the configuration. The bus
// is dialed once and shared.
func (c *Client) EventBus() (bus.MessageBus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, sdkerrors.New(sdkerrors.ErrCodeConnClosed, "client is closed")
	}
	if c.eventBus != nil {
		return c.eventBus, nil
	}
	if c.cfg.Bus.URL == "" {
		return nil, sdkerrors.New(sdkerrors.ErrCodeConfigInvalid,
			"no event bus URL configured; set bus.url or "+config.EnvNATSURL)
	}

	nb, err := bus.NewNATSBus(bus.Config{
		URL:     c.cfg.Bus.URL,
		Name:    c.cfg.Bus.Name,
		Timeout: c.cfg.Bus.Timeout,
	})
	if err != nil {
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeNetwork, "connecting to event bus")
	}
	c.eventBus = nb
	return nb, nil
}

// Close releases the client's background resources: the analytics spool
// flusher, the realtime connection, and the event bus. In-flight HTTP
// requests are not interrupted.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rt := c.realtime
	eb := c.eventBus
	c.mu.Unlock()

	var firstErr error
	if rt != nil {
		if err := rt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if eb != nil {
		if err := eb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.analytics.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
