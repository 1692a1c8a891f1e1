package session

import (
	"bytes"
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - sess/{id}/m     created_at ms (be8)
// - sess/{id}/last  last event id (raw bytes)
// - sess/{id}/ts    last activity ms (be8)

var (
	sep        = byte('/')
	sessPrefix = []byte("sess/")
	metaSuffix = []byte("/m")
	lastSuffix = []byte("/last")
	tsSuffix   = []byte("/ts")
)

func keyBase(id string) []byte {
	k := make([]byte, 0, len(sessPrefix)+len(id)+8)
	k = append(k, sessPrefix...)
	k = append(k, id...)
	return k
}

// KeyMeta builds the session metadata key.
func KeyMeta(id string) []byte { return append(keyBase(id), metaSuffix...) }

// KeyLastEventID builds the resume-cursor key.
func KeyLastEventID(id string) []byte { return append(keyBase(id), lastSuffix...) }

// KeyLastActivity builds the last-activity timestamp key.
func KeyLastActivity(id string) []byte { return append(keyBase(id), tsSuffix...) }

// KeyPrefix returns the range prefix covering all keys of one session.
func KeyPrefix(id string) []byte { return append(keyBase(id), sep) }

// ScanPrefix returns the range prefix covering all session keys.
func ScanPrefix() []byte { return append([]byte{}, sessPrefix...) }

// SessionIDFromMetaKey extracts the session id from a metadata key, or ""
// when the key is not a metadata key.
func SessionIDFromMetaKey(k []byte) string {
	if !bytes.HasPrefix(k, sessPrefix) || !bytes.HasSuffix(k, metaSuffix) {
		return ""
	}
	return string(k[len(sessPrefix) : len(k)-len(metaSuffix)])
}

func encodeMs(ms int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ms))
	return b[:]
}

func decodeMs(b []byte) (int64, bool) {
	if len(b) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b[:8])), true
}
