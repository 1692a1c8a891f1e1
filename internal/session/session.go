package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id has no record in the store.
var ErrNotFound = errors.New("session: not found")

// Session is the durable state kept per MCP session. LastEventID is the
// resume cursor for the streaming transport; LastActivity feeds idle-timeout
// detection.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastEventID  string    `json:"last_event_id,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// CursorUpdate is one last-event-id write, batched by the persistence worker.
type CursorUpdate struct {
	SessionID string
	EventID   string
}

// ActivityUpdate is one last-activity write, batched by the persistence worker.
type ActivityUpdate struct {
	SessionID string
	At        time.Time
}

// Store persists session state. All batch writes funnel through the single
// persistence worker, so implementations need no cross-writer ordering
// discipline of their own; reads may happen from any goroutine.
type Store interface {
	Create(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, id string) error

	StoreLastEventID(ctx context.Context, sessionID, eventID string) error
	BatchStoreEventIDs(ctx context.Context, updates []CursorUpdate) error
	GetLastEventID(ctx context.Context, sessionID string) (string, bool, error)

	Touch(ctx context.Context, sessionID string, at time.Time) error
	BatchTouch(ctx context.Context, updates []ActivityUpdate) error
	GetLastActivity(ctx context.Context, sessionID string) (time.Time, bool, error)

	Close() error
}
