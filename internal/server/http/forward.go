package httpserver

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/mcptap/pkg/log"
)

// handleMCP forwards a JSON-RPC request body to the upstream MCP endpoint.
// A request without a session id gets one minted and returned in the
// response header; clients carry it on every subsequent call.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	sessionID, minted, err := s.ensureSession(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session setup failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rt.Config().Upstream.URL, r.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	copyHeader(req.Header, r.Header, "Content-Type", "Authorization", "Mcp-Protocol-Version")
	req.Header.Set(SessionHeader, sessionID)

	resp, err := s.forward.Do(req)
	if err != nil {
		s.log.Warn("upstream forward failed", log.Str("session_id", sessionID), log.Err(err))
		writeError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if err := s.rt.Health().Touch(ctx, sessionID); err != nil {
		s.log.Debug("activity update deferred", log.Err(err))
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(SessionHeader, sessionID)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.log.Debug("response relay interrupted", log.Err(err))
	}
	if minted {
		s.log.Info("session created", log.Str("session_id", sessionID))
	}
}

// ensureSession resolves the request's session id, minting and persisting a
// fresh one when the client presented none.
func (s *Server) ensureSession(r *http.Request) (sessionID string, minted bool, err error) {
	sessionID = r.Header.Get(SessionHeader)
	if sessionID != "" {
		return sessionID, false, nil
	}
	sessionID = uuid.NewString()
	if err := s.rt.Store().Create(r.Context(), sessionID, time.Now()); err != nil {
		return "", false, err
	}
	return sessionID, true, nil
}

func copyHeader(dst, src http.Header, keys ...string) {
	for _, k := range keys {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}
