package stream

import (
	"context"
	"time"
)

// Event is one opaque unit of data from the streaming transport. The relay
// never interprets Data; ID is the optional resumption identifier and an
// empty ID means the event can be neither deduplicated nor resumed from.
type Event struct {
	ID        string
	Data      []byte
	RetryHint time.Duration
}

// Resumable reports whether the event can serve as a resume cursor.
func (e Event) Resumable() bool { return e.ID != "" }

// Source is an established streaming connection. Next blocks until an event
// arrives, the context is done, or the connection fails with a terminal error
// for this source generation.
type Source interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Connector establishes Sources. lastEventID carries the resume cursor; an
// empty cursor asks for the live stream from now.
type Connector interface {
	Connect(ctx context.Context, lastEventID string) (Source, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, lastEventID string) (Source, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, lastEventID string) (Source, error) {
	return f(ctx, lastEventID)
}
