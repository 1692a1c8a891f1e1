package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/mcptap/internal/config"
	pebblestore "github.com/rzbill/mcptap/internal/storage/pebble"
)

func TestGetenvDefault(t *testing.T) {
	t.Setenv("MCPTAP_TEST_VAR", "from-env")
	if got := getenvDefault("MCPTAP_TEST_VAR", "fallback"); got != "from-env" {
		t.Fatalf("got %q", got)
	}
	_ = os.Unsetenv("MCPTAP_TEST_VAR_UNSET")
	if got := getenvDefault("MCPTAP_TEST_VAR_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
}

func TestStoreBackendLabel(t *testing.T) {
	cfg := cfgpkg.Default()
	if storeBackend(cfg) != "pebble" {
		t.Fatalf("default backend label %q", storeBackend(cfg))
	}
	cfg.Store.Backend = "redis"
	if storeBackend(cfg) != "redis" {
		t.Fatalf("redis backend label %q", storeBackend(cfg))
	}
}

// TestRunShutsDownOnCancel boots the full relay on ephemeral ports and
// verifies a context cancellation unwinds it cleanly.
func TestRunShutsDownOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping relay boot in short mode")
	}
	cfg := cfgpkg.Default()
	cfg.Upstream.URL = "http://127.0.0.1:0/mcp"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Run(ctx, Options{
		DataDir:  filepath.Join(t.TempDir(), "relay"),
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}
