// Package stream implements resumable event streams over unreliable
// transports.
//
// # Overview
//
// A Stream wraps a Connector (anything that can open a Source positioned
// after a given event id) and presents one continuous, duplicate-free
// sequence of events to its consumer. Internally it runs an explicit state
// machine:
//
//	Idle → FetchingResumeID → Reconnecting → AwaitingEvent
//	        → CheckingDuplicate → RecordingEvent → RecordingActivity ⟲
//
// Failures are classified (Classify) into retryable, rate limited, and
// fatal. Retryable failures schedule a reconnect through
// WaitingForReconnect using the Policy's capped exponential backoff with
// jitter; fatal failures and an exhausted retry budget move the stream to
// Terminated, where the TerminalError's Resumable method tells the owner
// whether a new stream built from the persisted cursor can pick up.
//
// The Tracker provides the dedup window and the resume cursor. Duplicates
// arise naturally on resume: a server replays from the cursor inclusively,
// or overlapping delivery occurs around the disconnect. The window is
// bounded, so memory per stream is constant.
package stream
