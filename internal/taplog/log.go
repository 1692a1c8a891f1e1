package taplog

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	pebblestore "github.com/rzbill/mcptap/internal/storage/pebble"
)

// Log is the append-only capture log for one session. Every frame the relay
// delivers downstream is recorded here so operators can replay what a client
// actually saw. Appends are serialized per session; a Log is safe for
// concurrent use.
type Log struct {
	db        *pebblestore.DB
	sessionID string

	mu      sync.Mutex
	lastSeq uint64

	now func() time.Time
}

// OpenLog initializes a Log and loads the last sequence from metadata (if any).
func OpenLog(db *pebblestore.DB, sessionID string) (*Log, error) {
	l := &Log{db: db, sessionID: sessionID, now: time.Now}
	meta, err := db.Get(KeyMeta(sessionID))
	if err == nil && len(meta) >= 8 {
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return l, nil
}

// SessionID returns the session this log captures.
func (l *Log) SessionID() string { return l.sessionID }

// LastSeq returns the highest assigned sequence number.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append records one delivered frame. The entry and the updated metadata are
// committed as a single atomic batch. Returns the assigned sequence number.
func (l *Log) Append(ctx context.Context, eventID string, data []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	seq := l.lastSeq + 1
	val := EncodeFrame(l.now().UnixMilli(), eventID, data)
	if err := b.Set(KeyEntry(l.sessionID, seq), val, nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(KeyMeta(l.sessionID), meta[:], nil); err != nil {
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	l.lastSeq = seq
	return seq, nil
}

// Purge deletes every key belonging to this session's capture log.
func (l *Log) Purge(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()
	lo := KeyEntry(l.sessionID, 0)
	hi := KeyEntry(l.sessionID, ^uint64(0))
	if err := b.DeleteRange(lo, append(hi, 0x00), nil); err != nil {
		return err
	}
	if err := b.Delete(KeyMeta(l.sessionID), nil); err != nil {
		return err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	l.lastSeq = 0
	return nil
}
