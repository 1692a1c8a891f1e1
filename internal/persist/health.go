package persist

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/mcptap/internal/session"
)

// HealthMonitor tracks per-session liveness. Touch calls are cheap and may
// arrive on every relayed message; the monitor coalesces them to at most one
// persisted update per session per interval, funnelled through the shared
// Worker so the store sees batched writes only.
type HealthMonitor struct {
	worker *Worker
	store  session.Store

	interval    time.Duration
	idleTimeout time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewHealthMonitor wires the monitor to the process-wide worker and store.
// interval is the minimum spacing between persisted updates for one session;
// idleTimeout is how long without activity marks a session idle.
func NewHealthMonitor(worker *Worker, store session.Store, interval, idleTimeout time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &HealthMonitor{
		worker:      worker,
		store:       store,
		interval:    interval,
		idleTimeout: idleTimeout,
		lastSent:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Touch records activity for a session. At most one update per interval
// reaches the worker; the rest return immediately. Backpressure from the
// worker is reported but the in-memory mark still advances, so a full
// channel degrades freshness rather than flooding the queue.
func (m *HealthMonitor) Touch(ctx context.Context, sessionID string) error {
	now := m.now()

	m.mu.Lock()
	if last, ok := m.lastSent[sessionID]; ok && now.Sub(last) < m.interval {
		m.mu.Unlock()
		return nil
	}
	m.lastSent[sessionID] = now
	m.mu.Unlock()

	return m.worker.EnqueueActivity(ctx, sessionID, now)
}

// Forget drops the coalescing mark for a closed session.
func (m *HealthMonitor) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.lastSent, sessionID)
	m.mu.Unlock()
}

// IsIdle consults the persisted timestamp, not the in-memory mark, so the
// answer is consistent across restarts and across instances sharing a store.
// A session with no persisted activity yet is not idle.
func (m *HealthMonitor) IsIdle(ctx context.Context, sessionID string) (bool, error) {
	ts, ok, err := m.store.GetLastActivity(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return m.now().Sub(ts) >= m.idleTimeout, nil
}

// IdleSessions lists the ids of every session whose persisted activity is
// older than the idle timeout. Sessions that never recorded activity are
// judged by creation time instead.
func (m *HealthMonitor) IdleSessions(ctx context.Context) ([]string, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-m.idleTimeout)
	var idle []string
	for _, s := range all {
		ref := s.LastActivity
		if ref.IsZero() {
			ref = s.CreatedAt
		}
		if ref.Before(cutoff) {
			idle = append(idle, s.ID)
		}
	}
	return idle, nil
}
