package stream

import (
	"context"
	"sync"
)

// CursorSink receives resume-cursor updates for durable storage. The
// persistence worker satisfies this.
type CursorSink interface {
	EnqueueEventID(ctx context.Context, sessionID, eventID string) error
}

// Tracker deduplicates event ids within a sliding window and owns the
// in-memory resume cursor for one stream.
//
// The window is a fixed-size ring: once capacity ids are held, recording a
// new id evicts the oldest. An id older than the window is therefore treated
// as fresh again; capacity should comfortably exceed the largest replay a
// server performs on resume.
type Tracker struct {
	sessionID string
	sink      CursorSink

	mu          sync.Mutex
	seen        map[string]struct{}
	ring        []string
	head        int
	lastEventID string
}

// NewTracker builds a tracker with the given window capacity. sink may be
// nil for purely in-memory use.
func NewTracker(sessionID string, capacity int, sink CursorSink) *Tracker {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Tracker{
		sessionID: sessionID,
		sink:      sink,
		seen:      make(map[string]struct{}, capacity),
		ring:      make([]string, capacity),
	}
}

// LastEventID returns the current resume cursor, or "" when no event with an
// id has been recorded yet.
func (t *Tracker) LastEventID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEventID
}

// SeedCursor installs a cursor loaded from the store. Used once on cold
// start; a cursor already advanced by live events is never regressed.
func (t *Tracker) SeedCursor(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastEventID == "" {
		t.lastEventID = id
	}
}

// Record checks ev against the dedup window and, when fresh, admits it:
// the id enters the window, the cursor advances, and the new cursor is
// queued for persistence. fresh=false means the caller must drop the event.
//
// Events without an id are always fresh and never move the cursor. A
// persistence error (typically backpressure) is reported alongside
// fresh=true: the event is still admitted, only durability lags.
func (t *Tracker) Record(ctx context.Context, ev Event) (fresh bool, err error) {
	if !ev.Resumable() {
		return true, nil
	}
	if t.isDuplicate(ev.ID) {
		return false, nil
	}
	return true, t.commit(ctx, ev.ID)
}

// isDuplicate reports whether id is inside the dedup window.
func (t *Tracker) isDuplicate(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, dup := t.seen[id]
	return dup
}

// commit admits id into the window, evicting the oldest entry when full,
// advances the cursor, and enqueues the persistence write.
func (t *Tracker) commit(ctx context.Context, id string) error {
	t.mu.Lock()
	if old := t.ring[t.head]; old != "" {
		delete(t.seen, old)
	}
	t.ring[t.head] = id
	t.head = (t.head + 1) % len(t.ring)
	t.seen[id] = struct{}{}
	t.lastEventID = id
	t.mu.Unlock()

	if t.sink == nil {
		return nil
	}
	return t.sink.EnqueueEventID(ctx, t.sessionID, id)
}
