package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rzbill/mcptap/internal/metrics"
	"github.com/rzbill/mcptap/internal/stream"
)

// ClientOptions configures upstream SSE connections.
type ClientOptions struct {
	// HTTPClient defaults to a client with no overall timeout; SSE responses
	// are long-lived so only the dial phase may be bounded.
	HTTPClient *http.Client
	// Headers are added to every connect request (auth, protocol version).
	Headers http.Header
	// ConnectTimeout bounds connection establishment, not the stream itself.
	ConnectTimeout time.Duration
}

// Connector returns a stream.Connector that opens SSE connections against
// url, presenting lastEventID through the Last-Event-ID header so a
// compliant server resumes delivery after the cursor.
func Connector(url string, opts ClientOptions) stream.Connector {
	cli := opts.HTTPClient
	if cli == nil {
		cli = &http.Client{}
	}
	return stream.ConnectorFunc(func(ctx context.Context, lastEventID string) (stream.Source, error) {
		// The request context must outlive the connect phase: it keeps the
		// response body alive for as long as the source reads it. The connect
		// timeout is a watchdog that only fires while headers are pending.
		reqCtx, cancel := context.WithCancel(ctx)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, stream.Fatal(err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		for k, vals := range opts.Headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
		if lastEventID != "" {
			req.Header.Set("Last-Event-ID", lastEventID)
		}

		var watchdog *time.Timer
		if opts.ConnectTimeout > 0 {
			watchdog = time.AfterFunc(opts.ConnectTimeout, cancel)
		}
		resp, err := cli.Do(req)
		if watchdog != nil {
			watchdog.Stop()
		}
		if err != nil {
			cancel()
			return nil, stream.Retryable(err)
		}
		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			cancel()
			return nil, err
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
			resp.Body.Close()
			cancel()
			return nil, stream.Fatal(fmt.Errorf("sse: unexpected content type %q", ct))
		}
		return newSource(resp.Body, cancel), nil
	})
}

// checkStatus maps HTTP status codes onto the retry taxonomy.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return stream.RateLimited(fmt.Errorf("sse: status %d", resp.StatusCode), retryAfter(resp))
	case resp.StatusCode >= 500:
		return stream.Retryable(fmt.Errorf("sse: status %d", resp.StatusCode))
	default:
		// Remaining 4xx: the request itself is wrong, retrying cannot help.
		return stream.Fatal(fmt.Errorf("sse: status %d", resp.StatusCode))
	}
}

// retryAfter parses a delay-seconds Retry-After header, or zero.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// source reads one SSE response body and yields parsed events. A single
// reader goroutine, started at connect time, owns the scanner for the life
// of the connection; Next only receives, so the number of goroutines is
// fixed per connection regardless of how many events flow.
type source struct {
	body   io.ReadCloser
	cancel context.CancelFunc

	events chan stream.Event
	done   chan struct{} // closed by the reader on exit, after err is set
	err    error

	stop      chan struct{}
	closeOnce sync.Once
}

func newSource(body io.ReadCloser, cancel context.CancelFunc) *source {
	s := &source{
		body:   body,
		cancel: cancel,
		events: make(chan stream.Event),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.read()
	return s
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return sc
}

// read parses lines until a blank line dispatches the accumulated event.
// Comment lines (leading ':') are skipped; per the SSE format an event's id
// and retry fields apply even when split across frames, but we only surface
// them attached to the event that carried them.
func (s *source) read() {
	defer close(s.done)
	sc := newScanner(s.body)
	var (
		ev       stream.Event
		dataBuf  bytes.Buffer
		haveData bool
	)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			if !haveData && ev.ID == "" && ev.RetryHint == 0 {
				continue // stray separator
			}
			ev.Data = append([]byte(nil), bytes.TrimSuffix(dataBuf.Bytes(), []byte("\n"))...)
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
			ev = stream.Event{}
			dataBuf.Reset()
			haveData = false
			continue
		}
		field, value := splitField(line)
		switch field {
		case "data":
			dataBuf.Write(value)
			dataBuf.WriteByte('\n')
			haveData = true
		case "id":
			// A NUL anywhere voids the id per the event stream format.
			if !bytes.ContainsRune(value, 0) {
				ev.ID = string(value)
			}
		case "retry":
			if ms, err := strconv.Atoi(string(value)); err == nil && ms >= 0 {
				ev.RetryHint = time.Duration(ms) * time.Millisecond
			}
		case "event", "":
			// Event type is irrelevant to the relay; comments ignored.
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	} else {
		select {
		case <-s.stop:
			// Read aborted by Close, not a wire problem.
		default:
			// Oversized or malformed frame; the partial event is lost.
			metrics.EventDecodeFail.Inc()
		}
	}
	s.err = stream.Retryable(err)
}

// Next returns the next parsed event. It blocks until the reader delivers
// one, the connection dies, or ctx is canceled; cancellation leaves the
// source intact, so the owner can still Close it.
func (s *source) Next(ctx context.Context) (stream.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return stream.Event{}, s.err
	case <-ctx.Done():
		return stream.Event{}, ctx.Err()
	}
}

// Close aborts the read and releases the connection. Safe to call from any
// goroutine, any number of times.
func (s *source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return err
}

// splitField splits "field: value" per the SSE format, where a single space
// after the colon is stripped.
func splitField(line []byte) (string, []byte) {
	if line[0] == ':' {
		return "", nil
	}
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), nil
	}
	field := string(line[:idx])
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
