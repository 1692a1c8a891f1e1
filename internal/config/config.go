package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTPAddr    string            `json:"httpAddr" yaml:"httpAddr"`
	Upstream    UpstreamConfig    `json:"upstream" yaml:"upstream"`
	Store       StoreConfig       `json:"store" yaml:"store"`
	Reconnect   ReconnectConfig   `json:"reconnect" yaml:"reconnect"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Tracker     TrackerConfig     `json:"tracker" yaml:"tracker"`
	Session     SessionConfig     `json:"session" yaml:"session"`
}

// UpstreamConfig describes the MCP server the relay sits in front of.
type UpstreamConfig struct {
	// URL is the base URL of the upstream MCP endpoint, e.g. http://127.0.0.1:9000/mcp.
	URL string `json:"url" yaml:"url"`
	// ConnectTimeoutMs bounds a single connect/handshake attempt.
	ConnectTimeoutMs int `json:"connectTimeoutMs" yaml:"connectTimeoutMs"`
	// MaxStreams bounds concurrent upstream streaming connections.
	MaxStreams int `json:"maxStreams" yaml:"maxStreams"`
	// AcquireTimeoutMs bounds waiting for a free upstream stream slot.
	AcquireTimeoutMs int `json:"acquireTimeoutMs" yaml:"acquireTimeoutMs"`
}

// StoreConfig selects and tunes the session store backend.
type StoreConfig struct {
	// Backend is "pebble" (default, embedded) or "redis" (shared).
	Backend string      `json:"backend" yaml:"backend"`
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig configures the redis session store backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// TTLSeconds expires session keys after inactivity; 0 keeps them forever.
	TTLSeconds int `json:"ttlSeconds" yaml:"ttlSeconds"`
}

// ReconnectConfig tunes the streaming reconnection policy.
type ReconnectConfig struct {
	BaseDelayMs  int     `json:"baseDelayMs" yaml:"baseDelayMs"`
	MaxDelayMs   int     `json:"maxDelayMs" yaml:"maxDelayMs"`
	JitterFactor float64 `json:"jitterFactor" yaml:"jitterFactor"`
	MaxAttempts  int     `json:"maxAttempts" yaml:"maxAttempts"`
}

// PersistenceConfig tunes the background persistence worker.
type PersistenceConfig struct {
	// ChannelCapacity bounds the inbound request channel.
	ChannelCapacity int `json:"channelCapacity" yaml:"channelCapacity"`
	// MaxBatchSize bounds how many requests one flush drains.
	MaxBatchSize int `json:"maxBatchSize" yaml:"maxBatchSize"`
	// FlushIntervalMs is the worker tick for due retries.
	FlushIntervalMs int `json:"flushIntervalMs" yaml:"flushIntervalMs"`
	// MaxAttempts bounds retries per request before it is dropped with a signal.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
	// EnqueueTimeoutMs bounds how long producers wait on a full channel.
	EnqueueTimeoutMs int `json:"enqueueTimeoutMs" yaml:"enqueueTimeoutMs"`
}

// TrackerConfig tunes the per-stream duplicate tracker.
type TrackerConfig struct {
	// SeenCapacity is the bounded duplicate-suppression window per stream.
	SeenCapacity int `json:"seenCapacity" yaml:"seenCapacity"`
}

// SessionConfig tunes session lifecycle handling.
type SessionConfig struct {
	// IdleTimeoutMs marks sessions idle after this much inactivity.
	IdleTimeoutMs int `json:"idleTimeoutMs" yaml:"idleTimeoutMs"`
	// ReapIntervalMs is how often idle sessions are swept.
	ReapIntervalMs int `json:"reapIntervalMs" yaml:"reapIntervalMs"`
	// ActivityIntervalMs coalesces activity writes per session.
	ActivityIntervalMs int `json:"activityIntervalMs" yaml:"activityIntervalMs"`
	// CaptureRetentionMs trims captured frames older than this on each reap
	// sweep; 0 keeps frames until the session is deleted.
	CaptureRetentionMs int `json:"captureRetentionMs" yaml:"captureRetentionMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Upstream: UpstreamConfig{
			ConnectTimeoutMs: 10_000,
			MaxStreams:       64,
			AcquireTimeoutMs: 5_000,
		},
		Store: StoreConfig{
			Backend: "pebble",
			Redis:   RedisConfig{Addr: "127.0.0.1:6379", TTLSeconds: 7 * 24 * 3600},
		},
		Reconnect: ReconnectConfig{
			BaseDelayMs:  1_000,
			MaxDelayMs:   60_000,
			JitterFactor: 0.25,
			MaxAttempts:  10,
		},
		Persistence: PersistenceConfig{
			ChannelCapacity:  2048,
			MaxBatchSize:     64,
			FlushIntervalMs:  100,
			MaxAttempts:      10,
			EnqueueTimeoutMs: 100,
		},
		Tracker: TrackerConfig{SeenCapacity: 1000},
		Session: SessionConfig{
			IdleTimeoutMs:      5 * 60 * 1000,
			ReapIntervalMs:     30_000,
			ActivityIntervalMs: 1_000,
			CaptureRetentionMs: 60 * 60 * 1000,
		},
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c Config) Validate() error {
	if c.Upstream.URL != "" {
		if _, err := url.Parse(c.Upstream.URL); err != nil {
			return fmt.Errorf("upstream.url: %w", err)
		}
	}
	switch c.Store.Backend {
	case "pebble", "redis":
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Reconnect.JitterFactor < 0 || c.Reconnect.JitterFactor > 1 {
		return errors.New("reconnect.jitterFactor: must be in [0,1]")
	}
	if c.Persistence.ChannelCapacity <= 0 {
		return errors.New("persistence.channelCapacity: must be positive")
	}
	if c.Persistence.MaxBatchSize <= 0 {
		return errors.New("persistence.maxBatchSize: must be positive")
	}
	if c.Tracker.SeenCapacity <= 0 {
		return errors.New("tracker.seenCapacity: must be positive")
	}
	return nil
}

// Load reads configuration from a JSON or YAML file (by extension). If path is
// empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
