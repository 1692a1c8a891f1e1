package sse

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rzbill/mcptap/internal/stream"
)

// Writer encodes events onto an HTTP response in the text/event-stream
// format, flushing after every event so clients see them immediately.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for streaming and sends the SSE headers.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Send relays one event downstream, preserving its id so the client's own
// Last-Event-ID tracking keeps working.
func (sw *Writer) Send(ev stream.Event) error {
	if ev.ID != "" {
		if _, err := fmt.Fprintf(sw.w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	for _, line := range strings.Split(string(ev.Data), "\n") {
		if _, err := fmt.Fprintf(sw.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := sw.w.Write([]byte("\n")); err != nil {
		return err
	}
	sw.flush()
	return nil
}

// SendNamed emits an event with an explicit event type, used for
// out-of-band frames such as the terminal transport-error notice.
func (sw *Writer) SendNamed(eventType string, data []byte) error {
	if _, err := fmt.Fprintf(sw.w, "event: %s\n", eventType); err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(sw.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := sw.w.Write([]byte("\n")); err != nil {
		return err
	}
	sw.flush()
	return nil
}

// Comment writes an SSE comment line, useful as a keep-alive.
func (sw *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return err
	}
	sw.flush()
	return nil
}

func (sw *Writer) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
