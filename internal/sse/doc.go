// Package sse speaks the text/event-stream wire format on both sides of the
// relay: Connector opens resumable upstream connections (Last-Event-ID on
// connect, Retry-After and status-code classification on failure), and
// Writer re-encodes relayed events for downstream clients.
package sse
