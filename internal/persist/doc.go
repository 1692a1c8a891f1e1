// Package persist funnels all durable session-state writes through a single
// worker goroutine.
//
// # Overview
//
// Streams and the health monitor never touch the store directly. They hand
// updates to the Worker over a bounded channel with a short enqueue timeout;
// a full channel yields ErrBackpressure instead of blocking the hot path.
//
// The worker drains the channel in batches (64 by default), coalesces
// updates so only the latest cursor and latest activity per session survive,
// and issues two batched store writes per cycle. Failed batches enter a
// min-heap retry queue ordered by next attempt time with doubling backoff;
// an update that keeps failing is dropped after MaxAttempts, counted, and
// signalled through Options.OnDrop.
//
// HealthMonitor layers activity coalescing on top: any number of Touch calls
// for one session collapse to at most one persisted update per second.
package persist
