package config

import (
	"os"
	"strconv"
)

// FromEnv overlays MCPTAP_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("MCPTAP_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("MCPTAP_UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	overlayInt("MCPTAP_UPSTREAM_CONNECT_TIMEOUT_MS", &cfg.Upstream.ConnectTimeoutMs)
	overlayInt("MCPTAP_UPSTREAM_MAX_STREAMS", &cfg.Upstream.MaxStreams)
	overlayInt("MCPTAP_UPSTREAM_ACQUIRE_TIMEOUT_MS", &cfg.Upstream.AcquireTimeoutMs)

	if v := os.Getenv("MCPTAP_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("MCPTAP_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("MCPTAP_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	overlayInt("MCPTAP_REDIS_DB", &cfg.Store.Redis.DB)
	overlayInt("MCPTAP_REDIS_TTL_SECONDS", &cfg.Store.Redis.TTLSeconds)

	overlayInt("MCPTAP_RECONNECT_BASE_DELAY_MS", &cfg.Reconnect.BaseDelayMs)
	overlayInt("MCPTAP_RECONNECT_MAX_DELAY_MS", &cfg.Reconnect.MaxDelayMs)
	overlayInt("MCPTAP_RECONNECT_MAX_ATTEMPTS", &cfg.Reconnect.MaxAttempts)
	if v := os.Getenv("MCPTAP_RECONNECT_JITTER_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reconnect.JitterFactor = f
		}
	}

	overlayInt("MCPTAP_PERSIST_CHANNEL_CAPACITY", &cfg.Persistence.ChannelCapacity)
	overlayInt("MCPTAP_PERSIST_MAX_BATCH_SIZE", &cfg.Persistence.MaxBatchSize)
	overlayInt("MCPTAP_PERSIST_FLUSH_INTERVAL_MS", &cfg.Persistence.FlushIntervalMs)
	overlayInt("MCPTAP_PERSIST_MAX_ATTEMPTS", &cfg.Persistence.MaxAttempts)
	overlayInt("MCPTAP_PERSIST_ENQUEUE_TIMEOUT_MS", &cfg.Persistence.EnqueueTimeoutMs)

	overlayInt("MCPTAP_TRACKER_SEEN_CAPACITY", &cfg.Tracker.SeenCapacity)

	overlayInt("MCPTAP_SESSION_IDLE_TIMEOUT_MS", &cfg.Session.IdleTimeoutMs)
	overlayInt("MCPTAP_SESSION_REAP_INTERVAL_MS", &cfg.Session.ReapIntervalMs)
	overlayInt("MCPTAP_SESSION_ACTIVITY_INTERVAL_MS", &cfg.Session.ActivityIntervalMs)
	overlayInt("MCPTAP_SESSION_CAPTURE_RETENTION_MS", &cfg.Session.CaptureRetentionMs)
}

func overlayInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
