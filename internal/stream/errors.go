package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrClosed is returned by Next after Close has been called.
var ErrClosed = errors.New("stream: closed")

// Class is the reconnection policy's verdict on a source failure.
type Class int

const (
	// ClassRetryable failures drive the backoff-and-reconnect path.
	ClassRetryable Class = iota
	// ClassRateLimited failures are retryable and may carry a server-supplied
	// minimum delay that backoff must honor.
	ClassRateLimited
	// ClassFatal failures terminate the stream.
	ClassFatal
)

// RetryableError marks a failure as worth a reconnect attempt.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as retryable.
func Retryable(err error) error { return &RetryableError{Err: err} }

// FatalError marks a failure as non-retryable.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as fatal.
func Fatal(err error) error { return &FatalError{Err: err} }

// RateLimitError marks a failure as a rate limit; MinDelay, when positive, is
// the server-supplied floor for the next reconnect delay.
type RateLimitError struct {
	Err      error
	MinDelay time.Duration
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// RateLimited wraps err as a rate limit with an optional minimum delay.
func RateLimited(err error, minDelay time.Duration) error {
	return &RateLimitError{Err: err, MinDelay: minDelay}
}

// TerminalReason explains why a stream terminated.
type TerminalReason int

const (
	// ReasonFatalSource is a protocol-level failure; recreating the stream
	// with the same cursor is unlikely to help.
	ReasonFatalSource TerminalReason = iota
	// ReasonRetriesExhausted is a transport failure that outlived the retry
	// budget; the stream can be recreated from its last cursor.
	ReasonRetriesExhausted
	// ReasonClosed is an explicit Close by the owner.
	ReasonClosed
)

func (r TerminalReason) String() string {
	switch r {
	case ReasonFatalSource:
		return "fatal_source"
	case ReasonRetriesExhausted:
		return "retries_exhausted"
	case ReasonClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TerminalError is the terminal error value surfaced by Next. Callers use
// Resumable to distinguish a transport failure, which may be recovered by
// building a new stream from the persisted cursor, from a protocol error.
type TerminalError struct {
	Reason TerminalReason
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stream terminated: %s", e.Reason)
	}
	return fmt.Sprintf("stream terminated: %s: %v", e.Reason, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Resumable reports whether recreating the stream from its cursor makes sense.
func (e *TerminalError) Resumable() bool { return e.Reason == ReasonRetriesExhausted }

// Classify sorts a source failure into the retry taxonomy. Explicit markers
// win; otherwise network resets, timeouts, and truncated reads count as
// retryable and everything else is fatal.
func Classify(err error) Class {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return ClassRateLimited
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return ClassFatal
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return ClassRetryable
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassRetryable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return ClassRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassRetryable
	}
	return ClassFatal
}

// MinDelayOf extracts a server-supplied minimum delay from a rate-limit
// failure, or zero.
func MinDelayOf(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.MinDelay
	}
	return 0
}
