package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cfgpkg "github.com/rzbill/mcptap/internal/config"
	"github.com/rzbill/mcptap/internal/metrics"
	"github.com/rzbill/mcptap/internal/persist"
	"github.com/rzbill/mcptap/internal/session"
	"github.com/rzbill/mcptap/internal/sse"
	pebblestore "github.com/rzbill/mcptap/internal/storage/pebble"
	"github.com/rzbill/mcptap/internal/stream"
	"github.com/rzbill/mcptap/internal/taplog"
	"github.com/rzbill/mcptap/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  log.Logger
}

// Runtime wires storage, the persistence worker, and the health monitor for
// a single relay instance. Every stream and every HTTP handler funnels
// session-state writes through the one worker the Runtime owns.
type Runtime struct {
	config cfgpkg.Config
	log    log.Logger

	db      *pebblestore.DB
	store   session.Store
	worker  *persist.Worker
	monitor *persist.HealthMonitor

	tapMu sync.Mutex
	taps  map[string]*taplog.Log

	reapStop chan struct{}
	reapDone chan struct{}
}

// Open initializes the store backend, starts the persistence worker, and
// begins sweeping idle sessions.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	cfg := opts.Config

	rt := &Runtime{
		config:   cfg,
		log:      logger,
		taps:     make(map[string]*taplog.Log),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}

	switch cfg.Store.Backend {
	case "", "pebble":
		db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync})
		if err != nil {
			return nil, err
		}
		rt.db = db
		rt.store = session.NewPebbleStore(db)
	case "redis":
		store, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			TTL:      time.Duration(cfg.Store.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		rt.store = store
	default:
		return nil, fmt.Errorf("runtime: unknown store backend %q", cfg.Store.Backend)
	}

	rt.worker = persist.NewWorker(rt.store, logger, persist.Options{
		ChannelCapacity: cfg.Persistence.ChannelCapacity,
		MaxBatchSize:    cfg.Persistence.MaxBatchSize,
		FlushInterval:   time.Duration(cfg.Persistence.FlushIntervalMs) * time.Millisecond,
		MaxAttempts:     cfg.Persistence.MaxAttempts,
		EnqueueTimeout:  time.Duration(cfg.Persistence.EnqueueTimeoutMs) * time.Millisecond,
	})
	rt.monitor = persist.NewHealthMonitor(rt.worker, rt.store,
		time.Duration(cfg.Session.ActivityIntervalMs)*time.Millisecond,
		time.Duration(cfg.Session.IdleTimeoutMs)*time.Millisecond)

	go rt.reapLoop(time.Duration(cfg.Session.ReapIntervalMs) * time.Millisecond)
	return rt, nil
}

// OpenStream builds a resumable stream for one session against the
// configured upstream. The caller owns the stream and must Close it.
func (r *Runtime) OpenStream(sessionID string) *stream.Stream {
	connector := sse.Connector(r.config.Upstream.URL, sse.ClientOptions{
		ConnectTimeout: time.Duration(r.config.Upstream.ConnectTimeoutMs) * time.Millisecond,
	})
	tracker := stream.NewTracker(sessionID, r.config.Tracker.SeenCapacity, r.worker)
	return stream.NewStream(sessionID, connector, stream.StreamOptions{
		Policy:   r.reconnectPolicy(),
		Tracker:  tracker,
		Activity: r.monitor,
		Cursor:   r.store,
		Logger:   r.log,
	})
}

// OpenTap returns the capture log for a session, creating it on first use.
// Capture requires local storage; on the redis backend this returns nil and
// callers skip recording.
func (r *Runtime) OpenTap(sessionID string) (*taplog.Log, error) {
	if r.db == nil {
		return nil, nil
	}
	r.tapMu.Lock()
	defer r.tapMu.Unlock()
	if l, ok := r.taps[sessionID]; ok {
		return l, nil
	}
	l, err := taplog.OpenLog(r.db, sessionID)
	if err != nil {
		return nil, err
	}
	r.taps[sessionID] = l
	return l, nil
}

// DropTap purges a session's capture log and forgets the handle.
func (r *Runtime) DropTap(ctx context.Context, sessionID string) error {
	if r.db == nil {
		return nil
	}
	r.tapMu.Lock()
	l, ok := r.taps[sessionID]
	delete(r.taps, sessionID)
	r.tapMu.Unlock()
	if !ok {
		var err error
		if l, err = taplog.OpenLog(r.db, sessionID); err != nil {
			return err
		}
	}
	return l.Purge(ctx)
}

func (r *Runtime) reconnectPolicy() stream.Policy {
	rc := r.config.Reconnect
	p := stream.DefaultPolicy()
	if rc.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(rc.BaseDelayMs) * time.Millisecond
	}
	if rc.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(rc.MaxDelayMs) * time.Millisecond
	}
	if rc.JitterFactor > 0 {
		p.JitterFactor = rc.JitterFactor
	}
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = uint32(rc.MaxAttempts)
	}
	return p
}

// reapLoop deletes sessions whose persisted activity has gone stale.
func (r *Runtime) reapLoop(interval time.Duration) {
	defer close(r.reapDone)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.reapStop:
			return
		case <-ticker.C:
			r.reapIdle()
			r.trimCaptures()
		}
	}
}

// trimCaptures ages out captured frames past the retention window so a
// long-lived session's capture log stays bounded.
func (r *Runtime) trimCaptures() {
	retention := time.Duration(r.config.Session.CaptureRetentionMs) * time.Millisecond
	if retention <= 0 || r.db == nil {
		return
	}
	r.tapMu.Lock()
	taps := make([]*taplog.Log, 0, len(r.taps))
	for _, l := range r.taps {
		taps = append(taps, l)
	}
	r.tapMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-retention)
	for _, l := range taps {
		n, err := l.TrimOlderThan(ctx, cutoff, 1024, 0)
		if err != nil {
			r.log.Warn("capture trim failed", log.Str("session_id", l.SessionID()), log.Err(err))
			continue
		}
		if n > 0 {
			r.log.Debug("capture trimmed", log.Str("session_id", l.SessionID()), log.Int("frames", n))
		}
	}
}

func (r *Runtime) reapIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ids, err := r.monitor.IdleSessions(ctx)
	if err != nil {
		r.log.Warn("idle sweep failed", log.Err(err))
		return
	}
	for _, id := range ids {
		if err := r.store.Delete(ctx, id); err != nil {
			r.log.Warn("idle session delete failed", log.Str("session_id", id), log.Err(err))
			continue
		}
		r.monitor.Forget(id)
		if err := r.DropTap(ctx, id); err != nil {
			r.log.Warn("capture log purge failed", log.Str("session_id", id), log.Err(err))
		}
		metrics.SessionsReaped.Inc()
		r.log.Info("idle session reaped", log.Str("session_id", id))
	}
}

// Store exposes the session store.
func (r *Runtime) Store() session.Store { return r.store }

// Worker exposes the persistence worker.
func (r *Runtime) Worker() *persist.Worker { return r.worker }

// Health exposes the session health monitor.
func (r *Runtime) Health() *persist.HealthMonitor { return r.monitor }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the runtime's root logger.
func (r *Runtime) Logger() log.Logger { return r.log }

// CheckHealth verifies the store is reachable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return errors.New("runtime: store not open")
	}
	_, err := r.store.List(ctx)
	return err
}

// Close stops the reaper, drains the worker, and closes the store. Pending
// updates get flushed before the database goes away.
func (r *Runtime) Close() error {
	close(r.reapStop)
	<-r.reapDone
	if r.worker != nil {
		_ = r.worker.Close()
	}
	var err error
	if r.store != nil {
		err = r.store.Close()
	}
	if r.db != nil {
		if cerr := r.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
