// Package serverrun boots the relay process: logger, metrics registration,
// runtime, and HTTP server, with signal-aware shutdown.
package serverrun
