package persist

import (
	"container/heap"
	"time"
)

// retryItem is one failed update waiting for its next attempt.
type retryItem struct {
	req         request
	attempts    int
	nextRetryAt time.Time
}

// retryHeap orders failed updates by next attempt time, soonest first.
type retryHeap []*retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].nextRetryAt.Before(h[j].nextRetryAt) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x interface{}) { *h = append(*h, x.(*retryItem)) }
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func (h *retryHeap) push(it *retryItem) { heap.Push(h, it) }

// popDue removes and returns every item whose retry time has arrived.
func (h *retryHeap) popDue(now time.Time) []*retryItem {
	var due []*retryItem
	for h.Len() > 0 && !(*h)[0].nextRetryAt.After(now) {
		due = append(due, heap.Pop(h).(*retryItem))
	}
	return due
}

// nextDeadline reports when the soonest item becomes due.
func (h retryHeap) nextDeadline() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].nextRetryAt, true
}
