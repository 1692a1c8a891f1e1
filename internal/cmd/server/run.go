package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	cfgpkg "github.com/rzbill/mcptap/internal/config"
	"github.com/rzbill/mcptap/internal/metrics"
	"github.com/rzbill/mcptap/internal/runtime"
	httpserver "github.com/rzbill/mcptap/internal/server/http"
	pebblestore "github.com/rzbill/mcptap/internal/storage/pebble"
	logpkg "github.com/rzbill/mcptap/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type Options struct {
	DataDir  string
	HTTPAddr string
	Fsync    pebblestore.FsyncMode
	Config   cfgpkg.Config
}

// Run starts the relay and blocks until ctx is cancelled or a signal
// arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	procLogger := buildLogger()
	logpkg.RedirectStdLog(procLogger)
	metrics.Register()

	rt, err := runtime.Open(sctx, runtime.Options{
		DataDir: storeDir,
		Fsync:   opts.Fsync,
		Config:  opts.Config,
		Logger:  procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	httpAddr := opts.HTTPAddr
	if httpAddr == "" {
		httpAddr = opts.Config.HTTPAddr
	}
	procLogger.Info("starting mcptap relay",
		logpkg.Str("http", httpAddr),
		logpkg.Str("upstream", opts.Config.Upstream.URL),
		logpkg.Str("store", storeBackend(opts.Config)),
		logpkg.Str("data_dir", storeDir),
	)

	hsrv := httpserver.New(rt)
	errCh := make(chan error, 1)
	go func() { errCh <- hsrv.ListenAndServe(sctx, httpAddr) }()

	select {
	case <-sctx.Done():
		hsrv.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func storeBackend(cfg cfgpkg.Config) string {
	if cfg.Store.Backend == "" {
		return "pebble"
	}
	return cfg.Store.Backend
}

// buildLogger assembles the process logger from MCPTAP_LOG_LEVEL and
// MCPTAP_LOG_FORMAT; defaults are info/text.
func buildLogger() logpkg.Logger {
	lvl := logpkg.InfoLevel
	if l, err := logpkg.ParseLevel(getenvDefault("MCPTAP_LOG_LEVEL", "info")); err == nil {
		lvl = l
	}
	var formatter logpkg.Formatter = &logpkg.TextFormatter{}
	if getenvDefault("MCPTAP_LOG_FORMAT", "text") == "json" {
		formatter = &logpkg.JSONFormatter{}
	}
	return logpkg.NewLogger(
		logpkg.WithLevel(lvl),
		logpkg.WithFormatter(formatter),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
}
