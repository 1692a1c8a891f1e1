package taplog

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
)

// ReadOptions controls a forward scan over captured frames.
type ReadOptions struct {
	From  uint64 // first sequence to return; 0 means the oldest entry
	Limit int    // 0 means no limit
}

// Read returns up to Limit frames starting at From (inclusive), oldest first,
// plus the sequence to pass as From on the next call (0 when exhausted).
// Frames that fail checksum validation are skipped.
func (l *Log) Read(opts ReadOptions) ([]Frame, uint64, error) {
	lo := KeyEntry(l.sessionID, 0)
	hi := KeyEntry(l.sessionID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	frames := make([]Frame, 0, 16)
	if opts.From == 0 {
		if !iter.First() {
			return frames, 0, nil
		}
	} else if !iter.SeekGE(KeyEntry(l.sessionID, opts.From)) {
		return frames, 0, nil
	}
	for iter.Valid() && (opts.Limit == 0 || len(frames) < opts.Limit) {
		seq := binary.BigEndian.Uint64(iter.Key()[len(iter.Key())-8:])
		if f, ok := DecodeFrame(iter.Value()); ok {
			f.Seq = seq
			frames = append(frames, f)
		}
		if !iter.Next() {
			return frames, 0, nil
		}
	}
	if iter.Valid() {
		return frames, binary.BigEndian.Uint64(iter.Key()[len(iter.Key())-8:]), nil
	}
	return frames, 0, nil
}
