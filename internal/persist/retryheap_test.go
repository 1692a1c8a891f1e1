package persist

import (
	"testing"
	"time"
)

func TestRetryHeapPopsInDeadlineOrder(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	var h retryHeap
	// Inserted out of order: +3s, +1s, +2s.
	h.push(&retryItem{req: request{sessionID: "a"}, nextRetryAt: base.Add(3 * time.Second)})
	h.push(&retryItem{req: request{sessionID: "b"}, nextRetryAt: base.Add(1 * time.Second)})
	h.push(&retryItem{req: request{sessionID: "c"}, nextRetryAt: base.Add(2 * time.Second)})

	if dl, ok := h.nextDeadline(); !ok || !dl.Equal(base.Add(1*time.Second)) {
		t.Fatalf("next deadline %v ok=%v", dl, ok)
	}

	due := h.popDue(base.Add(10 * time.Second))
	if len(due) != 3 {
		t.Fatalf("want 3 due items, got %d", len(due))
	}
	for i, want := range []string{"b", "c", "a"} {
		if due[i].req.sessionID != want {
			t.Fatalf("pop %d: session %q, want %q", i, due[i].req.sessionID, want)
		}
	}
}

func TestRetryHeapPopDueRespectsNow(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	var h retryHeap
	h.push(&retryItem{req: request{sessionID: "late"}, nextRetryAt: base.Add(5 * time.Second)})
	h.push(&retryItem{req: request{sessionID: "due"}, nextRetryAt: base.Add(1 * time.Second)})

	due := h.popDue(base.Add(1 * time.Second)) // boundary is inclusive
	if len(due) != 1 || due[0].req.sessionID != "due" {
		t.Fatalf("unexpected due set: %+v", due)
	}
	if h.Len() != 1 {
		t.Fatalf("heap len %d", h.Len())
	}
	if dl, ok := h.nextDeadline(); !ok || !dl.Equal(base.Add(5*time.Second)) {
		t.Fatalf("remaining deadline %v ok=%v", dl, ok)
	}
	if due = h.popDue(base.Add(2 * time.Second)); len(due) != 0 {
		t.Fatalf("nothing should be due yet: %+v", due)
	}
}

func TestRetryHeapEmpty(t *testing.T) {
	var h retryHeap
	if _, ok := h.nextDeadline(); ok {
		t.Fatalf("empty heap reported a deadline")
	}
	if due := h.popDue(time.Now()); len(due) != 0 {
		t.Fatalf("empty heap popped items: %+v", due)
	}
}
