package stream

import (
	"context"
	"errors"
	"testing"
)

type captureSink struct {
	ids []string
	err error
}

func (c *captureSink) EnqueueEventID(ctx context.Context, sessionID, eventID string) error {
	c.ids = append(c.ids, eventID)
	return c.err
}

func TestTrackerDedupOrder(t *testing.T) {
	tr := NewTracker("s1", 10, nil)
	ctx := context.Background()

	var delivered []string
	for _, id := range []string{"a", "b", "a", "c", "b"} {
		fresh, err := tr.Record(ctx, Event{ID: id})
		if err != nil {
			t.Fatalf("record %q: %v", id, err)
		}
		if fresh {
			delivered = append(delivered, id)
		}
	}
	want := []string{"a", "b", "c"}
	if len(delivered) != len(want) {
		t.Fatalf("delivered %v want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered %v want %v", delivered, want)
		}
	}
	if tr.LastEventID() != "c" {
		t.Fatalf("cursor %q want %q", tr.LastEventID(), "c")
	}
}

func TestTrackerWindowEviction(t *testing.T) {
	tr := NewTracker("s1", 3, nil)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3", "4"} {
		if fresh, _ := tr.Record(ctx, Event{ID: id}); !fresh {
			t.Fatalf("id %q unexpectedly duplicate", id)
		}
	}
	// "1" fell out of the window; it reads as fresh again.
	if fresh, _ := tr.Record(ctx, Event{ID: "1"}); !fresh {
		t.Fatalf("evicted id should be fresh")
	}
	// "4" is still inside.
	if fresh, _ := tr.Record(ctx, Event{ID: "4"}); fresh {
		t.Fatalf("windowed id should be duplicate")
	}
}

func TestTrackerEventsWithoutID(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker("s1", 4, sink)
	ctx := context.Background()

	if fresh, _ := tr.Record(ctx, Event{Data: []byte("ping")}); !fresh {
		t.Fatalf("id-less event should always be fresh")
	}
	if fresh, _ := tr.Record(ctx, Event{Data: []byte("ping")}); !fresh {
		t.Fatalf("id-less events are never deduplicated")
	}
	if tr.LastEventID() != "" {
		t.Fatalf("id-less events must not move the cursor")
	}
	if len(sink.ids) != 0 {
		t.Fatalf("id-less events must not be persisted")
	}
}

func TestTrackerPersistsCursor(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker("s1", 4, sink)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "2", "3"} {
		_, _ = tr.Record(ctx, Event{ID: id})
	}
	// One enqueue per fresh event, none for the duplicate.
	if len(sink.ids) != 3 || sink.ids[2] != "3" {
		t.Fatalf("persisted ids %v", sink.ids)
	}
}

func TestTrackerBackpressureStillAdmits(t *testing.T) {
	sink := &captureSink{err: errors.New("channel full")}
	tr := NewTracker("s1", 4, sink)
	ctx := context.Background()

	fresh, err := tr.Record(ctx, Event{ID: "a"})
	if !fresh {
		t.Fatalf("backpressure must not drop the event")
	}
	if err == nil {
		t.Fatalf("persistence failure should be reported")
	}
	if tr.LastEventID() != "a" {
		t.Fatalf("cursor should advance despite persistence failure")
	}
}

func TestTrackerSeedCursor(t *testing.T) {
	tr := NewTracker("s1", 4, nil)
	tr.SeedCursor("42")
	if tr.LastEventID() != "42" {
		t.Fatalf("seed ignored")
	}
	// A live cursor is never regressed by a late seed.
	_, _ = tr.Record(context.Background(), Event{ID: "43"})
	tr.SeedCursor("41")
	if tr.LastEventID() != "43" {
		t.Fatalf("seed regressed live cursor to %q", tr.LastEventID())
	}
}
