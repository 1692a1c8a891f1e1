package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/rzbill/mcptap/internal/stream"
)

func TestClientParsesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("id: 1\ndata: hello\n\n"))
		_, _ = w.Write([]byte("retry: 3000\nid: 2\ndata: line1\ndata: line2\n\n"))
		_, _ = w.Write([]byte(": keepalive\n\ndata: no id\n\n"))
	}))
	defer srv.Close()

	src, err := Connector(srv.URL, ClientOptions{}).Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer src.Close()
	ctx := context.Background()

	ev, err := src.Next(ctx)
	if err != nil || ev.ID != "1" || string(ev.Data) != "hello" {
		t.Fatalf("event 1: %+v err=%v", ev, err)
	}
	ev, err = src.Next(ctx)
	if err != nil || ev.ID != "2" || string(ev.Data) != "line1\nline2" {
		t.Fatalf("event 2: %+v err=%v", ev, err)
	}
	if ev.RetryHint != 3*time.Second {
		t.Fatalf("retry hint: %v", ev.RetryHint)
	}
	ev, err = src.Next(ctx)
	if err != nil || ev.ID != "" || string(ev.Data) != "no id" {
		t.Fatalf("event 3: %+v err=%v", ev, err)
	}
	// Stream end surfaces as a retryable failure.
	if _, err = src.Next(ctx); stream.Classify(err) != stream.ClassRetryable {
		t.Fatalf("eof classification: %v", err)
	}
}

func TestClientSendsResumeHeader(t *testing.T) {
	var gotResume, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotResume = r.Header.Get("Last-Event-ID")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("id: 6\ndata: x\n\n"))
	}))
	defer srv.Close()

	src, err := Connector(srv.URL, ClientOptions{}).Connect(context.Background(), "5")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer src.Close()
	if gotResume != "5" {
		t.Fatalf("Last-Event-ID header %q", gotResume)
	}
	if gotAccept != "text/event-stream" {
		t.Fatalf("Accept header %q", gotAccept)
	}
}

func TestClientStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		class  stream.Class
	}{
		{http.StatusInternalServerError, stream.ClassRetryable},
		{http.StatusBadGateway, stream.ClassRetryable},
		{http.StatusTooManyRequests, stream.ClassRateLimited},
		{http.StatusNotFound, stream.ClassFatal},
		{http.StatusUnauthorized, stream.ClassFatal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := Connector(srv.URL, ClientOptions{}).Connect(context.Background(), "")
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := stream.Classify(err); got != tc.class {
			t.Fatalf("status %d: class %v want %v", tc.status, got, tc.class)
		}
	}
}

func TestClientRetryAfterFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Connector(srv.URL, ClientOptions{}).Connect(context.Background(), "")
	if got := stream.MinDelayOf(err); got != 7*time.Second {
		t.Fatalf("min delay %v", got)
	}
}

func TestClientRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	_, err := Connector(srv.URL, ClientOptions{}).Connect(context.Background(), "")
	if stream.Classify(err) != stream.ClassFatal {
		t.Fatalf("want fatal, got %v", err)
	}
}

func TestClientDeliversLateEventsWithConnectTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		// The event arrives well after headers; the connect timeout must not
		// tear down the established stream.
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("id: 1\ndata: late\n\n"))
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	src, err := Connector(srv.URL, ClientOptions{ConnectTimeout: 5 * time.Second}).Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer src.Close()

	ev, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.ID != "1" || string(ev.Data) != "late" {
		t.Fatalf("event: %+v", ev)
	}
}

func TestClientConnectTimeoutBoundsHeaderWait(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := Connector(srv.URL, ClientOptions{ConnectTimeout: 80 * time.Millisecond}).Connect(context.Background(), "")
	if err == nil {
		t.Fatalf("expected connect timeout")
	}
	if stream.Classify(err) != stream.ClassRetryable {
		t.Fatalf("timeout classification: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("connect blocked %v past the timeout", elapsed)
	}
}

func TestSourceReaderIsBounded(t *testing.T) {
	const events = 1000
	var buf bytes.Buffer
	for i := 0; i < events; i++ {
		fmt.Fprintf(&buf, "id: %d\ndata: x\n\n", i)
	}
	src := newSource(io.NopCloser(bytes.NewReader(buf.Bytes())), nil)
	defer src.Close()

	ctx := context.Background()
	if _, err := src.Next(ctx); err != nil {
		t.Fatalf("first event: %v", err)
	}
	base := runtime.NumGoroutine()
	for i := 1; i < events; i++ {
		if _, err := src.Next(ctx); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	if g := runtime.NumGoroutine(); g > base+1 {
		t.Fatalf("goroutines grew from %d to %d across %d events", base, g, events)
	}
}

func TestClientNextHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	src, err := Connector(srv.URL, ClientOptions{}).Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
