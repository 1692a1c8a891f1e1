package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/mcptap/internal/pool"
	"github.com/rzbill/mcptap/internal/runtime"
	"github.com/rzbill/mcptap/pkg/id"
	"github.com/rzbill/mcptap/pkg/log"
)

// SessionHeader carries the relay session id on every MCP request.
const SessionHeader = "Mcp-Session-Id"

type Server struct {
	rt  *runtime.Runtime
	log log.Logger
	srv *http.Server
	lis net.Listener

	// slots bounds concurrent upstream streaming connections.
	slots *pool.Pool[*upstreamSlot]
	ids   *id.Generator

	forward *http.Client
}

func New(rt *runtime.Runtime) *Server {
	cfg := rt.Config()
	mux := http.NewServeMux()
	s := &Server{
		rt:  rt,
		log: rt.Logger().WithComponent("http"),
		srv: &http.Server{Handler: cors(mux)},
		slots: pool.New[*upstreamSlot](pool.Options{
			MaxConns:       cfg.Upstream.MaxStreams,
			AcquireTimeout: time.Duration(cfg.Upstream.AcquireTimeoutMs) * time.Millisecond,
		}),
		ids: id.NewGenerator(),
		forward: &http.Client{
			Timeout: time.Duration(cfg.Upstream.ConnectTimeoutMs) * time.Millisecond,
		},
	}
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/mcp/stream", s.handleStream)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/", s.handleSessionByID)
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.log.Info("http server listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		_ = s.slots.Close()
		return nil
	case err := <-errCh:
		_ = s.slots.Close()
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionHeader+", Last-Event-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", SessionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}
