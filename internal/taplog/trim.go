package taplog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
)

// TrimOlderThan deletes frames captured before cutoff. Deletes are committed
// in batches of up to batchLimit keys with an optional throttle between
// commits. Returns the number of deleted frames.
func (l *Log) TrimOlderThan(ctx context.Context, cutoff time.Time, batchLimit int, throttle time.Duration) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	cutoffMs := cutoff.UnixMilli()

	lo := KeyEntry(l.sessionID, 0)
	hi := KeyEntry(l.sessionID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			f, okDec := DecodeFrame(iter.Value())
			if okDec && f.CapturedAt >= cutoffMs {
				// entries are in append order; everything past here is newer
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			deleted++
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		if throttle > 0 && ok {
			select {
			case <-ctx.Done():
				return deleted, ctx.Err()
			case <-time.After(throttle):
			}
		}
	}
	return deleted, nil
}
