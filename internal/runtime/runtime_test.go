package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/mcptap/internal/config"
	"github.com/rzbill/mcptap/internal/session"
	pebblestore "github.com/rzbill/mcptap/internal/storage/pebble"
	"github.com/rzbill/mcptap/internal/taplog"
	"github.com/rzbill/mcptap/pkg/log"
)

func openTestRuntime(t *testing.T, mutate func(*cfgpkg.Config)) *Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Upstream.URL = "http://127.0.0.1:0/mcp"
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := Open(context.Background(), Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfg,
		Logger:  log.NewLogger(log.WithOutput(log.NullOutput{})),
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntimeOpenAndHealth(t *testing.T) {
	rt := openTestRuntime(t, nil)
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestRuntimeRejectsUnknownBackend(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Store.Backend = "etcd"
	_, err := Open(context.Background(), Options{DataDir: t.TempDir(), Config: cfg})
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestRuntimeWorkerFlushesToStore(t *testing.T) {
	rt := openTestRuntime(t, func(c *cfgpkg.Config) {
		c.Persistence.FlushIntervalMs = 5
	})
	ctx := context.Background()

	if err := rt.Worker().EnqueueEventID(ctx, "s1", "ev-7"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if id, ok, _ := rt.Store().GetLastEventID(ctx, "s1"); ok && id == "ev-7" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRuntimeReapsIdleSessions(t *testing.T) {
	rt := openTestRuntime(t, func(c *cfgpkg.Config) {
		c.Session.IdleTimeoutMs = 20
		c.Session.ReapIntervalMs = 10
	})
	ctx := context.Background()

	if err := rt.Store().Create(ctx, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := rt.Store().Touch(ctx, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := rt.Store().Get(ctx, "stale")
		if errors.Is(err, session.ErrNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("idle session never reaped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRuntimeOpenStreamCarriesConfig(t *testing.T) {
	rt := openTestRuntime(t, func(c *cfgpkg.Config) {
		c.Reconnect.MaxAttempts = 3
	})
	st := rt.OpenStream("s1")
	defer st.Close()
	if st.LastEventID() != "" {
		t.Fatalf("fresh stream should have no cursor")
	}
}

func TestRuntimeTapLifecycle(t *testing.T) {
	rt := openTestRuntime(t, nil)
	ctx := context.Background()

	tap, err := rt.OpenTap("s1")
	if err != nil {
		t.Fatalf("open tap: %v", err)
	}
	if tap == nil {
		t.Fatalf("pebble backend must support capture")
	}
	if _, err := tap.Append(ctx, "1", []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}

	again, err := rt.OpenTap("s1")
	if err != nil {
		t.Fatalf("reopen tap: %v", err)
	}
	if again != tap {
		t.Fatalf("expected the cached log handle")
	}

	if err := rt.DropTap(ctx, "s1"); err != nil {
		t.Fatalf("drop tap: %v", err)
	}
	fresh, err := rt.OpenTap("s1")
	if err != nil {
		t.Fatalf("tap after drop: %v", err)
	}
	if fresh.LastSeq() != 0 {
		t.Fatalf("capture log survived drop, lastSeq=%d", fresh.LastSeq())
	}
}

func TestRuntimeTrimsCapturesPastRetention(t *testing.T) {
	rt := openTestRuntime(t, func(c *cfgpkg.Config) {
		c.Session.CaptureRetentionMs = 1
		c.Session.ReapIntervalMs = 60_000 // sweep driven manually below
	})
	ctx := context.Background()

	tap, err := rt.OpenTap("s1")
	if err != nil {
		t.Fatalf("open tap: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := tap.Append(ctx, "", []byte("x")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	rt.trimCaptures()

	frames, _, err := tap.Read(taplog.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("retention sweep left %d frames", len(frames))
	}

	// Fresh frames within the window survive the sweep.
	if _, err := tap.Append(ctx, "", []byte("y")); err != nil {
		t.Fatalf("append: %v", err)
	}
	rt.config.Session.CaptureRetentionMs = 60_000
	rt.trimCaptures()
	frames, _, err = tap.Read(taplog.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("fresh frame trimmed, got %d frames", len(frames))
	}
}
