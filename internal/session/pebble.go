package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/mcptap/internal/storage/pebble"
)

// PebbleStore is the default, embedded Store backend.
type PebbleStore struct {
	db *pebblestore.DB
}

// NewPebbleStore wraps an open Pebble database.
func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

// Create writes the session metadata record. Creating an existing session is
// a no-op so that reconnecting clients keep their cursor.
func (s *PebbleStore) Create(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.Get(KeyMeta(id)); err == nil {
		return nil
	}
	return s.db.Set(KeyMeta(id), encodeMs(at.UnixMilli()))
}

// Get loads one session, including cursor and activity when present.
func (s *PebbleStore) Get(ctx context.Context, id string) (Session, error) {
	meta, err := s.db.Get(KeyMeta(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	sess := Session{ID: id}
	if ms, ok := decodeMs(meta); ok {
		sess.CreatedAt = time.UnixMilli(ms)
	}
	if v, err := s.db.Get(KeyLastEventID(id)); err == nil {
		sess.LastEventID = string(v)
	}
	if v, err := s.db.Get(KeyLastActivity(id)); err == nil {
		if ms, ok := decodeMs(v); ok {
			sess.LastActivity = time.UnixMilli(ms)
		}
	}
	return sess, nil
}

// List scans the session keyspace and returns all sessions, oldest first.
func (s *PebbleStore) List(ctx context.Context) ([]Session, error) {
	lo := ScanPrefix()
	hi := append(append([]byte{}, lo...), 0xFF)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Session
	for ok := iter.First(); ok; ok = iter.Next() {
		id := SessionIDFromMetaKey(iter.Key())
		if id == "" {
			continue
		}
		sess, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes all keys of one session atomically.
func (s *PebbleStore) Delete(ctx context.Context, id string) error {
	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Delete(KeyMeta(id), nil)
	_ = b.Delete(KeyLastEventID(id), nil)
	_ = b.Delete(KeyLastActivity(id), nil)
	return s.db.CommitBatch(ctx, b)
}

// StoreLastEventID writes one resume cursor.
func (s *PebbleStore) StoreLastEventID(ctx context.Context, sessionID, eventID string) error {
	return s.db.Set(KeyLastEventID(sessionID), []byte(eventID))
}

// BatchStoreEventIDs writes a coalesced batch of resume cursors atomically.
func (s *PebbleStore) BatchStoreEventIDs(ctx context.Context, updates []CursorUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, u := range updates {
		if err := b.Set(KeyLastEventID(u.SessionID), []byte(u.EventID), nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// GetLastEventID loads the resume cursor for a session.
func (s *PebbleStore) GetLastEventID(ctx context.Context, sessionID string) (string, bool, error) {
	v, err := s.db.Get(KeyLastEventID(sessionID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(v), true, nil
}

// Touch writes one activity timestamp.
func (s *PebbleStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return s.db.Set(KeyLastActivity(sessionID), encodeMs(at.UnixMilli()))
}

// BatchTouch writes a coalesced batch of activity timestamps atomically.
func (s *PebbleStore) BatchTouch(ctx context.Context, updates []ActivityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, u := range updates {
		if err := b.Set(KeyLastActivity(u.SessionID), encodeMs(u.At.UnixMilli()), nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// GetLastActivity loads the activity timestamp for a session.
func (s *PebbleStore) GetLastActivity(ctx context.Context, sessionID string) (time.Time, bool, error) {
	v, err := s.db.Get(KeyLastActivity(sessionID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	ms, ok := decodeMs(v)
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Close is a no-op; the underlying DB is owned by the runtime.
func (s *PebbleStore) Close() error { return nil }
