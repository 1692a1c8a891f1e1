// Package session holds the durable per-session state of the relay.
//
// # Overview
//
// A session is identified by the Mcp-Session-Id header a client presents.
// Three facts are persisted per session:
//   - creation time
//   - the resume cursor (last SSE event id relayed downstream)
//   - the last activity timestamp
//
// Two Store backends exist: PebbleStore (embedded, single instance) and
// RedisStore (shared, multi instance). The Pebble keyspace is
// lexicographically ordered for prefix scans:
//   - sess/{id}/m    (created, unix ms BE8)
//   - sess/{id}/last (resume cursor)
//   - sess/{id}/ts   (last activity, unix ms BE8)
//
// Stores are written to almost exclusively through the persistence worker's
// batch methods (BatchStoreEventIDs, BatchTouch); the single-key variants
// exist for bootstrap and tests.
package session
