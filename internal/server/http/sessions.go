package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/mcptap/internal/session"
	"github.com/rzbill/mcptap/internal/taplog"
	"github.com/rzbill/mcptap/pkg/log"
)

type sessionView struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at"`
	LastEventID  string `json:"last_event_id,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
	Idle         bool   `json:"idle"`
}

func (s *Server) viewOf(r *http.Request, sess session.Session) sessionView {
	v := sessionView{
		ID:          sess.ID,
		CreatedAt:   sess.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		LastEventID: sess.LastEventID,
	}
	if !sess.LastActivity.IsZero() {
		v.LastActivity = sess.LastActivity.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	idle, err := s.rt.Health().IsIdle(r.Context(), sess.ID)
	if err == nil {
		v.Idle = idle
	}
	return v
}

// handleSessions lists all known sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	all, err := s.rt.Store().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session list failed")
		return
	}
	views := make([]sessionView, 0, len(all))
	for _, sess := range all {
		views = append(views, s.viewOf(r, sess))
	}
	writeJSON(w, map[string]any{"sessions": views})
}

// handleSessionByID serves GET and DELETE for one session.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if rest, ok := strings.CutSuffix(id, "/events"); ok && rest != "" && !strings.Contains(rest, "/") {
		s.handleSessionEvents(w, r, rest)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sess, err := s.rt.Store().Get(r.Context(), id)
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		writeJSON(w, s.viewOf(r, sess))
	case http.MethodDelete:
		if err := s.rt.Store().Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "session delete failed")
			return
		}
		s.rt.Health().Forget(id)
		if err := s.rt.DropTap(r.Context(), id); err != nil {
			s.log.Warn("capture log purge failed", log.Str("session_id", id), log.Err(err))
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type capturedFrame struct {
	Seq        uint64 `json:"seq"`
	CapturedAt string `json:"captured_at"`
	EventID    string `json:"event_id,omitempty"`
	Data       string `json:"data"`
}

// handleSessionEvents pages through a session's capture log.
// Query params: from (sequence, default oldest), limit (default 100, max 1000).
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.rt.Store().Get(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	tap, err := s.rt.OpenTap(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "capture log unavailable")
		return
	}
	if tap == nil {
		writeError(w, http.StatusNotImplemented, "event capture requires the pebble backend")
		return
	}

	from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	frames, next, err := tap.Read(taplog.ReadOptions{From: from, Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "capture read failed")
		return
	}
	views := make([]capturedFrame, 0, len(frames))
	for _, f := range frames {
		views = append(views, capturedFrame{
			Seq:        f.Seq,
			CapturedAt: time.UnixMilli(f.CapturedAt).UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			EventID:    f.EventID,
			Data:       string(f.Data),
		})
	}
	writeJSON(w, map[string]any{"events": views, "next": next})
}
