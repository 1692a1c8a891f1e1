package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/mcptap/internal/metrics"
	"github.com/rzbill/mcptap/pkg/log"
)

// State names the stream's position in its lifecycle. Next drives the
// machine one transition at a time; every blocking wait is a select over the
// caller's context, the close signal, and a stored deadline, so Close is
// honored from any state.
type State int

const (
	StateIdle State = iota
	StateFetchingResumeID
	StateReconnecting
	StateAwaitingEvent
	StateCheckingDuplicate
	StateRecordingEvent
	StateRecordingActivity
	StateWaitingForReconnect
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingResumeID:
		return "fetching_resume_id"
	case StateReconnecting:
		return "reconnecting"
	case StateAwaitingEvent:
		return "awaiting_event"
	case StateCheckingDuplicate:
		return "checking_duplicate"
	case StateRecordingEvent:
		return "recording_event"
	case StateRecordingActivity:
		return "recording_activity"
	case StateWaitingForReconnect:
		return "waiting_for_reconnect"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ActivitySink receives liveness touches; the health monitor satisfies this.
type ActivitySink interface {
	Touch(ctx context.Context, sessionID string) error
}

// CursorLoader reads a persisted resume cursor; session stores satisfy this.
type CursorLoader interface {
	GetLastEventID(ctx context.Context, sessionID string) (string, bool, error)
}

// StreamOptions wires a Stream's collaborators.
type StreamOptions struct {
	Policy   Policy
	Tracker  *Tracker
	Activity ActivitySink
	// Cursor, when set, supplies the persisted resume cursor on cold start.
	// A cursor the tracker already holds in memory always wins.
	Cursor CursorLoader
	Logger log.Logger
}

// Stream wraps a Connector with resume, dedup, and backoff so the consumer
// sees one continuous sequence of fresh events. Not safe for concurrent
// Next calls; Close may be called from any goroutine.
type Stream struct {
	sessionID string
	connector Connector
	tracker   *Tracker
	activity  ActivitySink
	cursor    CursorLoader
	policy    Policy
	log       log.Logger

	state State

	srcMu        sync.Mutex
	src          Source
	attempt      uint32
	resumeAt     time.Time
	retryHint    time.Duration
	pending      Event
	loadedCursor bool
	termErr      *TerminalError

	closed    chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewStream builds a stream in StateIdle. The first Next call connects.
func NewStream(sessionID string, connector Connector, opts StreamOptions) *Stream {
	if opts.Tracker == nil {
		opts.Tracker = NewTracker(sessionID, 0, nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	if opts.Policy.BaseDelay == 0 && opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultPolicy()
	}
	return &Stream{
		sessionID: sessionID,
		connector: connector,
		tracker:   opts.Tracker,
		activity:  opts.Activity,
		cursor:    opts.Cursor,
		policy:    opts.Policy,
		log:       opts.Logger.WithComponent("stream").WithField("session_id", sessionID),
		state:     StateIdle,
		closed:    make(chan struct{}),
		now:       time.Now,
	}
}

// State reports the current lifecycle state.
func (s *Stream) State() State { return s.state }

// LastEventID exposes the tracker's resume cursor.
func (s *Stream) LastEventID() string { return s.tracker.LastEventID() }

// SeedCursor proposes a starting cursor, typically the Last-Event-ID a
// downstream client presented. A cursor already held in memory wins.
func (s *Stream) SeedCursor(eventID string) { s.tracker.SeedCursor(eventID) }

// Close terminates the stream. A Next call blocked in a wait or a source
// read unblocks and returns a terminal error with ReasonClosed.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.dropSource()
	})
	return nil
}

// Next returns the next fresh event, transparently reconnecting and
// deduplicating. It blocks until an event arrives, the context is canceled,
// or the stream terminates. After a terminal error every subsequent call
// returns the same error.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case <-s.closed:
			if s.state != StateTerminated {
				s.terminate(ReasonClosed, ErrClosed)
			}
		default:
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		switch s.state {
		case StateIdle:
			s.state = StateFetchingResumeID

		case StateFetchingResumeID:
			s.fetchResumeID(ctx)
			s.state = StateReconnecting

		case StateReconnecting:
			s.connect(ctx)

		case StateWaitingForReconnect:
			if err := s.waitUntil(ctx, s.resumeAt); err != nil {
				return Event{}, err
			}
			if s.state == StateWaitingForReconnect {
				s.state = StateFetchingResumeID
			}

		case StateAwaitingEvent:
			s.srcMu.Lock()
			src := s.src
			s.srcMu.Unlock()
			if src == nil {
				// Source dropped by a concurrent Close; loop top handles it.
				continue
			}
			ev, err := src.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return Event{}, ctx.Err()
				}
				s.dropSource()
				s.handleFailure(err)
				continue
			}
			s.pending = ev
			s.state = StateCheckingDuplicate

		case StateCheckingDuplicate:
			if s.pending.Resumable() && s.tracker.isDuplicate(s.pending.ID) {
				metrics.DuplicatesSuppressed.Inc()
				s.log.Debug("duplicate suppressed", log.Str("event_id", s.pending.ID))
				s.state = StateAwaitingEvent
				continue
			}
			s.state = StateRecordingEvent

		case StateRecordingEvent:
			if s.pending.Resumable() {
				if err := s.tracker.commit(ctx, s.pending.ID); err != nil {
					// Durability lags; the event still flows.
					s.log.Warn("cursor persistence deferred", log.Err(err))
				}
			}
			if s.pending.RetryHint > 0 {
				s.retryHint = s.pending.RetryHint
			}
			s.attempt = 0
			s.state = StateRecordingActivity

		case StateRecordingActivity:
			if s.activity != nil {
				if err := s.activity.Touch(ctx, s.sessionID); err != nil {
					s.log.Warn("activity persistence deferred", log.Err(err))
				}
			}
			metrics.EventsRelayed.Inc()
			s.state = StateAwaitingEvent
			return s.pending, nil

		case StateTerminated:
			return Event{}, s.termErr
		}
	}
}

// fetchResumeID resolves the cursor to resume from. The in-memory cursor is
// authoritative; the store is consulted once, on cold start, so a restarted
// process resumes where its predecessor left off.
func (s *Stream) fetchResumeID(ctx context.Context) {
	if s.loadedCursor || s.cursor == nil || s.tracker.LastEventID() != "" {
		s.loadedCursor = true
		return
	}
	s.loadedCursor = true
	id, ok, err := s.cursor.GetLastEventID(ctx, s.sessionID)
	if err != nil {
		s.log.Warn("resume cursor load failed, connecting from live", log.Err(err))
		return
	}
	if ok {
		s.tracker.SeedCursor(id)
	}
}

func (s *Stream) connect(ctx context.Context) {
	metrics.ReconnectAttempts.Inc()
	src, err := s.connector.Connect(ctx, s.tracker.LastEventID())
	if err != nil {
		if ctx.Err() == nil {
			s.handleFailure(err)
		}
		return
	}
	s.srcMu.Lock()
	s.src = src
	s.srcMu.Unlock()
	s.state = StateAwaitingEvent
	if s.attempt > 0 {
		s.log.Info("reconnected", log.Uint32("attempt", s.attempt),
			log.Str("resume_from", s.tracker.LastEventID()))
	}
}

// handleFailure classifies a connect or read failure and either schedules a
// reconnect or terminates the stream.
func (s *Stream) handleFailure(err error) {
	select {
	case <-s.closed:
		// A racing Close tore down the source; the read error is fallout,
		// not a source failure.
		s.terminate(ReasonClosed, ErrClosed)
		return
	default:
	}
	switch Classify(err) {
	case ClassFatal:
		s.log.Error("fatal source failure", log.Err(err))
		s.terminate(ReasonFatalSource, err)
		return
	case ClassRateLimited, ClassRetryable:
	}

	if s.policy.Exhausted(s.attempt + 1) {
		s.log.Error("retry budget exhausted", log.Uint32("attempts", s.attempt+1), log.Err(err))
		s.terminate(ReasonRetriesExhausted, err)
		return
	}
	delay := s.policy.NextDelay(s.attempt)
	if floor := MinDelayOf(err); floor > delay {
		delay = floor
	}
	if s.retryHint > delay {
		delay = s.retryHint
	}
	s.attempt++
	s.resumeAt = s.now().Add(delay)
	s.state = StateWaitingForReconnect
	s.log.Warn("source failed, reconnect scheduled",
		log.Uint32("attempt", s.attempt),
		log.Dur("delay", delay),
		log.Err(err))
}

// waitUntil sleeps until the stored deadline, the context, or Close.
func (s *Stream) waitUntil(ctx context.Context, deadline time.Time) error {
	d := deadline.Sub(s.now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		s.terminate(ReasonClosed, ErrClosed)
		return nil
	}
}

func (s *Stream) terminate(reason TerminalReason, err error) {
	s.dropSource()
	s.termErr = &TerminalError{Reason: reason, Err: err}
	s.state = StateTerminated
	metrics.StreamsTerminated.Inc()
}

func (s *Stream) dropSource() {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	if s.src != nil {
		_ = s.src.Close()
		s.src = nil
	}
}
