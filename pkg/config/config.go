// Package config loads and validates Tiation SDK configuration from
// defaults, an optional YAML file, and TIATION_* environment variables,
// in that order of precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
)

const (
	DefaultBaseURL        = "https://api.tiation.com"
	DefaultRealtimeURL    = "wss://realtime.tiation.com/v1/events"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRatePerSecond  = 10
	DefaultRateBurst      = 20
	DefaultPingInterval   = 30 * time.Second
	DefaultSpoolMaxEvents = 10000
	DefaultSpoolFlushTick = 5 * time.Second
	DefaultSpoolBatchSize = 100

	// EnvAPIKey and friends are the environment variables honored by Load.
	EnvAPIKey      = "TIATION_API_KEY"
	EnvBaseURL     = "TIATION_BASE_URL"
	EnvTimeout     = "TIATION_TIMEOUT"
	EnvRealtimeURL = "TIATION_WS_URL"
	EnvNATSURL     = "TIATION_NATS_URL"
	EnvDebug       = "TIATION_DEBUG"
)

// Config represents the complete SDK configuration
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Realtime       RealtimeConfig       `yaml:"realtime"`
	Bus            BusConfig            `yaml:"bus"`
	Spool          SpoolConfig          `yaml:"spool"`
	Debug          bool                 `yaml:"debug"`
}

// RetryConfig controls transport-level retries
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// RateLimitConfig controls the proactive client-side rate limiter
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CircuitBreakerConfig controls the transport circuit breaker
type CircuitBreakerConfig struct {
	MaxFailures  uint32        `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// RealtimeConfig controls the WebSocket subscription client
type RealtimeConfig struct {
	URL              string        `yaml:"url"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReconnectMaxWait time.Duration `yaml:"reconnect_max_wait"`
}

// BusConfig configures the optional NATS event bus for self-hosted
// deployments that expose the platform firehose directly.
type BusConfig struct {
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// SpoolConfig controls the offline analytics event buffer
type SpoolConfig struct {
	Path          string        `yaml:"path"`
	MaxEvents     int           `yaml:"max_events"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// Default returns a Config populated with defaults. The API key is left
// empty; it must come from the config file, the environment, or the caller.
func Default() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
		Retry: RetryConfig{
			MaxRetries:      DefaultMaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: DefaultRatePerSecond,
			Burst:             DefaultRateBurst,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Realtime: RealtimeConfig{
			URL:              DefaultRealtimeURL,
			PingInterval:     DefaultPingInterval,
			HandshakeTimeout: 10 * time.Second,
			ReconnectMaxWait: time.Minute,
		},
		Bus: BusConfig{
			Name:    "tiation-sdk",
			Timeout: 30 * time.Second,
		},
		Spool: SpoolConfig{
			MaxEvents:     DefaultSpoolMaxEvents,
			FlushInterval: DefaultSpoolFlushTick,
			BatchSize:     DefaultSpoolBatchSize,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or missing), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadAndMerge(cfg, path); err != nil {
			if !os.IsNotExist(err) {
				return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeConfigLoad, "loading config file").
					WithContext("path", path)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays TIATION_* environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			// Bare integers are treated as seconds, matching the README.
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(EnvRealtimeURL); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		cfg.Debug = v != "0" && v != "false"
	}
}

// Validate checks the config for values the SDK cannot work with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return sdkerrors.New(sdkerrors.ErrCodeConfigInvalid, "base URL is empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return sdkerrors.Newf(sdkerrors.ErrCodeConfigInvalid, "base URL %q is not a valid URL", c.BaseURL)
	}
	if c.Timeout < 0 {
		return sdkerrors.New(sdkerrors.ErrCodeConfigInvalid, "timeout is negative")
	}
	if c.Retry.MaxRetries < 0 {
		return sdkerrors.New(sdkerrors.ErrCodeConfigInvalid, "retry.max_retries is negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return sdkerrors.Newf(sdkerrors.ErrCodeConfigInvalid, "retry.multiplier %v must be >= 1", c.Retry.Multiplier)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return sdkerrors.New(sdkerrors.ErrCodeConfigInvalid, "rate_limit.requests_per_second is negative")
	}
	if c.Spool.BatchSize < 0 || c.Spool.MaxEvents < 0 {
		return sdkerrors.New(sdkerrors.ErrCodeConfigInvalid, "spool sizes must be non-negative")
	}
	return nil
}

// RequireAPIKey returns an error when no API key is configured.
func (c *Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return sdkerrors.New(sdkerrors.ErrCodeAuthMissing,
			fmt.Sprintf("no API key configured; set %s or api_key in tiation.yaml", EnvAPIKey))
	}
	return nil
}
