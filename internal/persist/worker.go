package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rzbill/mcptap/internal/metrics"
	"github.com/rzbill/mcptap/internal/session"
	"github.com/rzbill/mcptap/pkg/log"
)

// ErrBackpressure is returned when the worker channel stays full for the
// whole enqueue timeout. Callers treat it as a signal, not a failure: the
// stream keeps relaying and only the durable cursor lags.
var ErrBackpressure = errors.New("persist: enqueue timed out, channel full")

// ErrClosed is returned by enqueue calls after Close.
var ErrClosed = errors.New("persist: worker closed")

type opKind uint8

const (
	opCursor opKind = iota
	opActivity
)

// request is one pending write travelling through the worker channel.
type request struct {
	kind      opKind
	sessionID string
	eventID   string
	at        time.Time
}

// coalesceKey collapses updates so only the latest per session and kind
// survives a batch.
type coalesceKey struct {
	kind      opKind
	sessionID string
}

// Options tunes the worker. Zero values fall back to defaults that match
// the shipped configuration.
type Options struct {
	ChannelCapacity int
	MaxBatchSize    int
	FlushInterval   time.Duration
	MaxAttempts     int
	EnqueueTimeout  time.Duration

	// Backoff maps a zero-based attempt count to the delay before the next
	// retry. Nil uses a doubling ladder starting at FlushInterval.
	Backoff func(attempt int) time.Duration

	// OnDrop is invoked from the worker goroutine when an update exhausts
	// MaxAttempts. Nil means drops are only counted and logged.
	OnDrop func(sessionID string)
}

func (o *Options) withDefaults() {
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = 2048
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 64
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 100 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 100 * time.Millisecond
	}
	if o.Backoff == nil {
		base := o.FlushInterval
		o.Backoff = func(attempt int) time.Duration {
			d := base
			for i := 0; i < attempt && d < 30*time.Second; i++ {
				d *= 2
			}
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			return d
		}
	}
}

// Worker owns the single goroutine that turns the firehose of cursor and
// activity updates into batched store writes. All Worker instances in a
// process should share one store; all streams share one Worker.
type Worker struct {
	store session.Store
	log   log.Logger
	opts  Options

	ch    chan request
	retry retryHeap

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWorker starts the drain goroutine immediately.
func NewWorker(store session.Store, logger log.Logger, opts Options) *Worker {
	opts.withDefaults()
	w := &Worker{
		store: store,
		log:   logger.WithComponent("persist"),
		opts:  opts,
		ch:    make(chan request, opts.ChannelCapacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go w.run()
	return w
}

// EnqueueEventID queues a resume-cursor write. It blocks for at most the
// configured enqueue timeout and returns ErrBackpressure on expiry.
func (w *Worker) EnqueueEventID(ctx context.Context, sessionID, eventID string) error {
	return w.enqueue(ctx, request{kind: opCursor, sessionID: sessionID, eventID: eventID})
}

// EnqueueActivity queues an activity-timestamp write under the same
// backpressure rules as EnqueueEventID.
func (w *Worker) EnqueueActivity(ctx context.Context, sessionID string, at time.Time) error {
	return w.enqueue(ctx, request{kind: opActivity, sessionID: sessionID, at: at})
}

func (w *Worker) enqueue(ctx context.Context, req request) error {
	select {
	case <-w.stop:
		return ErrClosed
	default:
	}
	timer := time.NewTimer(w.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case w.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stop:
		return ErrClosed
	case <-timer.C:
		metrics.BackpressureTimeouts.Inc()
		w.log.Warn("persistence channel full, update not queued",
			log.Str("session_id", req.sessionID))
		return ErrBackpressure
	}
}

// Close stops accepting updates, drains whatever is already queued, makes
// one final attempt at the retry backlog, and waits for the goroutine.
func (w *Worker) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	return nil
}

func (w *Worker) run() {
	defer close(w.done)

	flush := time.NewTimer(w.opts.FlushInterval)
	defer flush.Stop()

	for {
		// A due retry shortens the wait below the flush interval.
		wait := w.opts.FlushInterval
		if deadline, ok := w.retry.nextDeadline(); ok {
			if until := deadline.Sub(w.now()); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}
		if !flush.Stop() {
			select {
			case <-flush.C:
			default:
			}
		}
		flush.Reset(wait)

		select {
		case req := <-w.ch:
			w.flushBatch(&req)
		case <-flush.C:
			w.flushBatch(nil)
		case <-w.stop:
			w.drainAndExit()
			return
		}
	}
}

// flushBatch collects due retries plus up to MaxBatchSize fresh requests,
// coalesces them per session, and writes. first may carry a request already
// pulled off the channel.
func (w *Worker) flushBatch(first *request) {
	latest := make(map[coalesceKey]*retryItem)

	// Retries first so that fresher channel data wins the coalesce.
	for _, it := range w.retry.popDue(w.now()) {
		latest[coalesceKey{it.req.kind, it.req.sessionID}] = it
	}
	add := func(req request) {
		latest[coalesceKey{req.kind, req.sessionID}] = &retryItem{req: req}
	}
	if first != nil {
		add(*first)
	}
	for len(latest) < w.opts.MaxBatchSize {
		select {
		case req := <-w.ch:
			add(req)
		default:
			goto drained
		}
	}
drained:
	metrics.RetryQueueDepth.Set(float64(w.retry.Len()))
	if len(latest) == 0 {
		return
	}
	w.write(latest)
}

// write issues the batched store calls and requeues failures.
func (w *Worker) write(latest map[coalesceKey]*retryItem) {
	var cursors []session.CursorUpdate
	var touches []session.ActivityUpdate
	for k, it := range latest {
		switch k.kind {
		case opCursor:
			cursors = append(cursors, session.CursorUpdate{SessionID: it.req.sessionID, EventID: it.req.eventID})
		case opActivity:
			touches = append(touches, session.ActivityUpdate{SessionID: it.req.sessionID, At: it.req.at})
		}
	}

	ctx := context.Background()
	cursorErr := w.store.BatchStoreEventIDs(ctx, cursors)
	touchErr := w.store.BatchTouch(ctx, touches)

	for k, it := range latest {
		var err error
		if k.kind == opCursor {
			err = cursorErr
		} else {
			err = touchErr
		}
		if err == nil {
			metrics.PersistOK.Inc()
			continue
		}
		metrics.PersistFail.Inc()
		it.attempts++
		if it.attempts >= w.opts.MaxAttempts {
			metrics.PersistDropped.Inc()
			w.log.Error("dropping update after repeated store failures",
				log.Str("session_id", it.req.sessionID),
				log.Int("attempts", it.attempts),
				log.Err(err))
			if w.opts.OnDrop != nil {
				w.opts.OnDrop(it.req.sessionID)
			}
			continue
		}
		it.nextRetryAt = w.now().Add(w.opts.Backoff(it.attempts - 1))
		w.retry.push(it)
	}
	metrics.RetryQueueDepth.Set(float64(w.retry.Len()))
	if cursorErr != nil || touchErr != nil {
		w.log.Warn("store batch failed, updates queued for retry",
			log.Int("retry_depth", w.retry.Len()))
	}
}

// drainAndExit empties the channel and gives the retry backlog one last
// immediate attempt before the process lets go of the data.
func (w *Worker) drainAndExit() {
	for {
		latest := make(map[coalesceKey]*retryItem)
		for _, it := range w.retry.popDue(w.now().Add(24 * time.Hour)) {
			latest[coalesceKey{it.req.kind, it.req.sessionID}] = it
		}
		for len(latest) < w.opts.MaxBatchSize {
			select {
			case req := <-w.ch:
				latest[coalesceKey{req.kind, req.sessionID}] = &retryItem{req: req}
			default:
				goto flush
			}
		}
	flush:
		if len(latest) == 0 {
			return
		}
		w.write(latest)
		// Writes that failed again during shutdown stay in the heap with a
		// future deadline; clear them so the loop terminates.
		if w.retry.Len() > 0 {
			dropped := w.retry.Len()
			w.retry = w.retry[:0]
			metrics.RetryQueueDepth.Set(0)
			for i := 0; i < dropped; i++ {
				metrics.PersistDropped.Inc()
			}
			w.log.Error("discarding unflushed updates at shutdown", log.Int("count", dropped))
		}
	}
}
