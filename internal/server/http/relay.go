package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rzbill/mcptap/internal/pool"
	"github.com/rzbill/mcptap/internal/sse"
	"github.com/rzbill/mcptap/internal/stream"
	"github.com/rzbill/mcptap/pkg/log"
)

// upstreamSlot is a unit of upstream streaming capacity. The pool bounds
// how many live upstream connections the relay holds at once.
type upstreamSlot struct{ id string }

func (u *upstreamSlot) ID() string    { return u.id }
func (u *upstreamSlot) Healthy() bool { return true }
func (u *upstreamSlot) Close() error  { return nil }

// transportError is the terminal SSE frame sent when a relayed stream dies.
// Resumable tells the client whether reconnecting with its session id can
// pick up from the last delivered event.
type transportError struct {
	Reason    string `json:"reason"`
	Resumable bool   `json:"resumable"`
	Detail    string `json:"detail,omitempty"`
}

// handleStream relays the upstream SSE stream for one session. The relay
// owns reconnection: a transient upstream failure is invisible downstream
// apart from latency, and only a terminal failure surfaces, as an explicit
// transport-error event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	sessionID, _, err := s.ensureSession(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session setup failed")
		return
	}

	slot, err := s.slots.Acquire(ctx, func(context.Context) (*upstreamSlot, error) {
		return &upstreamSlot{id: s.ids.Next().String()}, nil
	})
	if err != nil {
		if errors.Is(err, pool.ErrAcquireTimeout) {
			writeError(w, http.StatusServiceUnavailable, "upstream stream capacity exhausted")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "relay shutting down")
		return
	}
	defer slot.Release()

	st := s.rt.OpenStream(sessionID)
	defer st.Close()
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		st.SeedCursor(lastID)
	}

	w.Header().Set(SessionHeader, sessionID)
	out := sse.NewWriter(w)
	logger := s.log.WithField("session_id", sessionID)
	logger.Info("stream relay opened")

	tap, err := s.rt.OpenTap(sessionID)
	if err != nil {
		logger.Warn("capture log unavailable", log.Err(err))
	}

	for {
		ev, err := st.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("client disconnected")
				return
			}
			s.sendTerminal(out, logger, err)
			return
		}
		if err := out.Send(ev); err != nil {
			logger.Info("client write failed, closing relay", log.Err(err))
			return
		}
		if tap != nil {
			if _, err := tap.Append(ctx, ev.ID, ev.Data); err != nil {
				logger.Warn("capture append failed", log.Err(err))
			}
		}
	}
}

func (s *Server) sendTerminal(out *sse.Writer, logger log.Logger, err error) {
	te := transportError{Reason: "terminated", Detail: err.Error()}
	var term *stream.TerminalError
	if errors.As(err, &term) {
		te.Reason = term.Reason.String()
		te.Resumable = term.Resumable()
	}
	b, _ := json.Marshal(te)
	if werr := out.SendNamed("transport-error", b); werr != nil {
		logger.Debug("terminal frame not delivered", log.Err(werr))
	}
	logger.Warn("stream relay terminated", log.Str("reason", te.Reason), log.Err(err))
}
