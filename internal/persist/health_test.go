package persist

import (
	"context"
	"testing"
	"time"
)

func TestHealthMonitorCoalescesTouches(t *testing.T) {
	store := newFakeStore()
	w := NewWorker(store, testLogger(), Options{
		ChannelCapacity: 64,
		FlushInterval:   2 * time.Millisecond,
	})
	m := NewHealthMonitor(w, store, time.Second, time.Minute)

	base := time.UnixMilli(1700000000000)
	now := base
	m.now = func() time.Time { return now }

	ctx := context.Background()
	// A burst of touches inside one interval persists a single update.
	for i := 0; i < 50; i++ {
		now = base.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := m.Touch(ctx, "s1"); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}
	// Crossing the interval boundary allows the next update through.
	now = base.Add(1100 * time.Millisecond)
	if err := m.Touch(ctx, "s1"); err != nil {
		t.Fatalf("touch after interval: %v", err)
	}
	_ = w.Close()

	store.mu.Lock()
	var sent int
	for _, b := range store.touchCalls {
		sent += len(b)
	}
	store.mu.Unlock()
	if sent > 2 {
		t.Fatalf("expected at most 2 persisted updates, got %d", sent)
	}
	ts, ok, _ := store.GetLastActivity(ctx, "s1")
	if !ok || !ts.Equal(base.Add(1100*time.Millisecond)) {
		t.Fatalf("persisted activity %v ok=%v", ts, ok)
	}
}

func TestHealthMonitorTouchIsolatedPerSession(t *testing.T) {
	store := newFakeStore()
	w := NewWorker(store, testLogger(), Options{FlushInterval: 2 * time.Millisecond})
	m := NewHealthMonitor(w, store, time.Second, time.Minute)

	now := time.UnixMilli(1700000000000)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	if err := m.Touch(ctx, "a"); err != nil {
		t.Fatalf("touch a: %v", err)
	}
	// Same instant, different session: not suppressed.
	if err := m.Touch(ctx, "b"); err != nil {
		t.Fatalf("touch b: %v", err)
	}
	_ = w.Close()

	if _, ok, _ := store.GetLastActivity(ctx, "a"); !ok {
		t.Fatalf("session a activity missing")
	}
	if _, ok, _ := store.GetLastActivity(ctx, "b"); !ok {
		t.Fatalf("session b activity missing")
	}
}

func TestIsIdleReadsPersistedTimestamp(t *testing.T) {
	store := newFakeStore()
	w := NewWorker(store, testLogger(), Options{FlushInterval: 2 * time.Millisecond})
	defer w.Close()
	m := NewHealthMonitor(w, store, time.Second, time.Minute)

	base := time.UnixMilli(1700000000000)
	now := base
	m.now = func() time.Time { return now }
	ctx := context.Background()

	// No persisted activity: not idle.
	idle, err := m.IsIdle(ctx, "s1")
	if err != nil || idle {
		t.Fatalf("unknown session idle=%v err=%v", idle, err)
	}

	if err := store.Touch(ctx, "s1", base); err != nil {
		t.Fatalf("seed activity: %v", err)
	}
	now = base.Add(30 * time.Second)
	if idle, _ := m.IsIdle(ctx, "s1"); idle {
		t.Fatalf("recently active session reported idle")
	}
	now = base.Add(2 * time.Minute)
	if idle, _ := m.IsIdle(ctx, "s1"); !idle {
		t.Fatalf("stale session not reported idle")
	}
}
