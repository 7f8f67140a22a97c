package config

import (
	"os"

	"gopkg.in/yaml.v3"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
)

// loadAndMerge loads a YAML file and merges set fields into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeConfigParse, "parsing YAML")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeConfigParse, "parsing YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base, field by field. Zero values are
// skipped except for booleans that are explicitly present in the raw map.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.Timeout != 0 {
		base.Timeout = override.Timeout
	}

	if override.Retry.MaxRetries != 0 || intFieldSet(raw, "retry", "max_retries") {
		base.Retry.MaxRetries = override.Retry.MaxRetries
	}
	if override.Retry.InitialInterval != 0 {
		base.Retry.InitialInterval = override.Retry.InitialInterval
	}
	if override.Retry.MaxInterval != 0 {
		base.Retry.MaxInterval = override.Retry.MaxInterval
	}
	if override.Retry.Multiplier != 0 {
		base.Retry.Multiplier = override.Retry.Multiplier
	}

	if override.RateLimit.RequestsPerSecond != 0 {
		base.RateLimit.RequestsPerSecond = override.RateLimit.RequestsPerSecond
	}
	if override.RateLimit.Burst != 0 {
		base.RateLimit.Burst = override.RateLimit.Burst
	}

	if override.CircuitBreaker.MaxFailures != 0 {
		base.CircuitBreaker.MaxFailures = override.CircuitBreaker.MaxFailures
	}
	if override.CircuitBreaker.ResetTimeout != 0 {
		base.CircuitBreaker.ResetTimeout = override.CircuitBreaker.ResetTimeout
	}

	if override.Realtime.URL != "" {
		base.Realtime.URL = override.Realtime.URL
	}
	if override.Realtime.PingInterval != 0 {
		base.Realtime.PingInterval = override.Realtime.PingInterval
	}
	if override.Realtime.HandshakeTimeout != 0 {
		base.Realtime.HandshakeTimeout = override.Realtime.HandshakeTimeout
	}
	if override.Realtime.ReconnectMaxWait != 0 {
		base.Realtime.ReconnectMaxWait = override.Realtime.ReconnectMaxWait
	}

	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Name != "" {
		base.Bus.Name = override.Bus.Name
	}
	if override.Bus.Timeout != 0 {
		base.Bus.Timeout = override.Bus.Timeout
	}

	if override.Spool.Path != "" {
		base.Spool.Path = override.Spool.Path
	}
	if override.Spool.MaxEvents != 0 {
		base.Spool.MaxEvents = override.Spool.MaxEvents
	}
	if override.Spool.FlushInterval != 0 {
		base.Spool.FlushInterval = override.Spool.FlushInterval
	}
	if override.Spool.BatchSize != 0 {
		base.Spool.BatchSize = override.Spool.BatchSize
	}

	if boolFieldSet(raw, "debug") {
		base.Debug = override.Debug
	}
}

// boolFieldSet reports whether a (possibly nested) boolean key was present
// in the raw YAML document, so explicit "false" still overrides.
func boolFieldSet(raw map[string]any, keys ...string) bool {
	value, ok := rawField(raw, keys...)
	if !ok {
		return false
	}
	_, isBool := value.(bool)
	return isBool
}

// intFieldSet reports whether a (possibly nested) integer key was present
// in the raw YAML document, so explicit "0" still overrides.
func intFieldSet(raw map[string]any, keys ...string) bool {
	value, ok := rawField(raw, keys...)
	if !ok {
		return false
	}
	_, isInt := value.(int)
	return isInt
}

func rawField(raw map[string]any, keys ...string) (any, bool) {
	current := raw
	for i, key := range keys {
		value, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}
