// Package taplog records the frames a relay session actually delivered.
//
// # Overview
//
// Each session gets an append-only, checksummed log in Pebble. The relay
// appends one entry per frame sent downstream; operators read the log back
// through the admin API to inspect what a client received, independent of
// what the upstream emitted. Entries carry the capture timestamp, the
// upstream event id, and the raw data.
//
// The log is a capture aid, not the resume source: reconnection cursors live
// in the session store. Capture is only available on the pebble backend.
package taplog
