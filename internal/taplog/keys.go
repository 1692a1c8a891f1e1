package taplog

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - tap/{session}/m              last assigned seq (be8)
// - tap/{session}/e/{seq_be8}    one captured frame

var (
	tapPrefix  = []byte("tap/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

// KeyMeta builds the per-session log metadata key.
func KeyMeta(sessionID string) []byte {
	k := make([]byte, 0, len(tapPrefix)+len(sessionID)+len(metaSuffix))
	k = append(k, tapPrefix...)
	k = append(k, sessionID...)
	k = append(k, metaSuffix...)
	return k
}

// KeyEntry builds the frame key with a big-endian sequence for proper ordering.
func KeyEntry(sessionID string, seq uint64) []byte {
	k := make([]byte, 0, len(tapPrefix)+len(sessionID)+len(entrySeg)+8)
	k = append(k, tapPrefix...)
	k = append(k, sessionID...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}
