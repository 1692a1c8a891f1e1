package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// step is one scripted Next result.
type step struct {
	ev  Event
	err error
}

type scriptSource struct {
	mu     sync.Mutex
	steps  []step
	closed chan struct{}
	once   sync.Once
}

func newScriptSource(steps ...step) *scriptSource {
	return &scriptSource{steps: steps, closed: make(chan struct{})}
}

func (s *scriptSource) Next(ctx context.Context) (Event, error) {
	s.mu.Lock()
	if len(s.steps) > 0 {
		st := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return st.ev, st.err
	}
	s.mu.Unlock()
	// Script exhausted: block until closed or canceled.
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.closed:
		return Event{}, Retryable(errors.New("source closed"))
	}
}

func (s *scriptSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type scriptConnector struct {
	mu      sync.Mutex
	sources []Source
	errs    []error
	resumes []string
}

func (c *scriptConnector) Connect(ctx context.Context, lastEventID string) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes = append(c.resumes, lastEventID)
	if len(c.errs) > 0 && c.errs[0] != nil {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return nil, err
	}
	if len(c.errs) > 0 {
		c.errs = c.errs[1:]
	}
	if len(c.sources) == 0 {
		return nil, Fatal(errors.New("script exhausted"))
	}
	src := c.sources[0]
	c.sources = c.sources[1:]
	return src, nil
}

func fastPolicy(attempts uint32) Policy {
	return Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: attempts}
}

func TestStreamRelaysDedupsAndResumes(t *testing.T) {
	src1 := newScriptSource(
		step{ev: Event{ID: "a", Data: []byte("1")}},
		step{ev: Event{ID: "b", Data: []byte("2")}},
		step{err: Retryable(errors.New("conn reset"))},
	)
	// Server replays from the cursor inclusively after resume.
	src2 := newScriptSource(
		step{ev: Event{ID: "b", Data: []byte("2")}},
		step{ev: Event{ID: "c", Data: []byte("3")}},
		step{err: Fatal(errors.New("protocol violation"))},
	)
	conn := &scriptConnector{sources: []Source{src1, src2}}
	st := NewStream("s1", conn, StreamOptions{Policy: fastPolicy(10)})
	ctx := context.Background()

	var got []string
	for i := 0; i < 3; i++ {
		ev, err := st.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		got = append(got, ev.ID)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	// The fatal error terminates the stream, non-resumably.
	_, err := st.Next(ctx)
	var term *TerminalError
	if !errors.As(err, &term) || term.Reason != ReasonFatalSource || term.Resumable() {
		t.Fatalf("want non-resumable terminal error, got %v", err)
	}
	if st.State() != StateTerminated {
		t.Fatalf("state %v", st.State())
	}

	// Reconnect carried the in-memory cursor.
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.resumes) != 2 || conn.resumes[0] != "" || conn.resumes[1] != "b" {
		t.Fatalf("resume ids %v", conn.resumes)
	}
}

func TestStreamRetriesExhausted(t *testing.T) {
	conn := &scriptConnector{errs: []error{
		Retryable(errors.New("e1")),
		Retryable(errors.New("e2")),
		Retryable(errors.New("e3")),
	}}
	st := NewStream("s1", conn, StreamOptions{Policy: fastPolicy(3)})

	_, err := st.Next(context.Background())
	var term *TerminalError
	if !errors.As(err, &term) || term.Reason != ReasonRetriesExhausted {
		t.Fatalf("want retries-exhausted terminal error, got %v", err)
	}
	if !term.Resumable() {
		t.Fatalf("transport-level termination should be resumable")
	}

	// Terminal errors are sticky.
	_, err2 := st.Next(context.Background())
	if !errors.Is(err2, err) && err2.Error() != err.Error() {
		t.Fatalf("terminal error not sticky: %v vs %v", err2, err)
	}
}

func TestStreamCloseUnblocksNext(t *testing.T) {
	src := newScriptSource() // blocks immediately
	conn := &scriptConnector{sources: []Source{src}}
	st := NewStream("s1", conn, StreamOptions{Policy: fastPolicy(10)})

	done := make(chan error, 1)
	go func() {
		_, err := st.Next(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = st.Close()

	select {
	case err := <-done:
		var term *TerminalError
		if !errors.As(err, &term) || term.Reason != ReasonClosed {
			t.Fatalf("want closed terminal error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Next did not unblock on Close")
	}
}

func TestStreamColdStartLoadsPersistedCursor(t *testing.T) {
	loader := cursorLoaderFunc(func(ctx context.Context, sid string) (string, bool, error) {
		return "5", true, nil
	})
	src := newScriptSource(step{ev: Event{ID: "6"}})
	conn := &scriptConnector{sources: []Source{src}}
	st := NewStream("s1", conn, StreamOptions{Policy: fastPolicy(10), Cursor: loader})

	ev, err := st.Next(context.Background())
	if err != nil || ev.ID != "6" {
		t.Fatalf("next: %v %v", ev, err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.resumes[0] != "5" {
		t.Fatalf("cold start resumed from %q, want %q", conn.resumes[0], "5")
	}
}

type cursorLoaderFunc func(ctx context.Context, sessionID string) (string, bool, error)

func (f cursorLoaderFunc) GetLastEventID(ctx context.Context, sessionID string) (string, bool, error) {
	return f(ctx, sessionID)
}

func TestStreamRateLimitFloor(t *testing.T) {
	st := NewStream("s1", &scriptConnector{}, StreamOptions{Policy: fastPolicy(10)})
	base := time.UnixMilli(1700000000000)
	st.now = func() time.Time { return base }

	st.handleFailure(RateLimited(errors.New("429"), 500*time.Millisecond))
	if st.state != StateWaitingForReconnect {
		t.Fatalf("state %v", st.state)
	}
	if wait := st.resumeAt.Sub(base); wait < 500*time.Millisecond {
		t.Fatalf("rate-limit floor ignored: %v", wait)
	}
}

func TestStreamCloseRaceReportsClosed(t *testing.T) {
	st := NewStream("s1", &scriptConnector{}, StreamOptions{Policy: fastPolicy(1)})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A source read failing because Close tore down the connection must not
	// be classified on its own merits, fatal or budget-exhausting.
	st.handleFailure(Fatal(errors.New("read on closed body")))
	if st.state != StateTerminated {
		t.Fatalf("state %v", st.state)
	}
	if st.termErr.Reason != ReasonClosed {
		t.Fatalf("reason %v, want closed", st.termErr.Reason)
	}

	_, err := st.Next(context.Background())
	var term *TerminalError
	if !errors.As(err, &term) || term.Reason != ReasonClosed {
		t.Fatalf("next after close: %v", err)
	}
}

func TestStreamAttemptResetsOnDeliveredEvent(t *testing.T) {
	src1 := newScriptSource(step{err: Retryable(errors.New("e1"))})
	src2 := newScriptSource(step{err: Retryable(errors.New("e2"))})
	src3 := newScriptSource(step{ev: Event{ID: "x"}})
	conn := &scriptConnector{sources: []Source{src1, src2, src3}}
	st := NewStream("s1", conn, StreamOptions{Policy: fastPolicy(10)})

	if _, err := st.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if st.attempt != 0 {
		t.Fatalf("attempt not reset after delivered event: %d", st.attempt)
	}
}

func TestStreamContextCancelReturnsWithoutTerminating(t *testing.T) {
	src := newScriptSource() // blocks
	conn := &scriptConnector{sources: []Source{src}}
	st := NewStream("s1", conn, StreamOptions{Policy: fastPolicy(10)})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := st.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if st.State() == StateTerminated {
		t.Fatalf("cancellation must not terminate the stream")
	}
}
