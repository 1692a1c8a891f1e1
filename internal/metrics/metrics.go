package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_events_relayed_total",
		Help: "Total events delivered to downstream consumers.",
	})
	DuplicatesSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_duplicates_suppressed_total",
		Help: "Total duplicate events dropped by the per-stream tracker.",
	})
	EventDecodeFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_event_decode_fail_total",
		Help: "Total malformed events dropped during transport parsing.",
	})
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_reconnect_attempts_total",
		Help: "Total upstream reconnect attempts across all streams.",
	})
	StreamsTerminated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_streams_terminated_total",
		Help: "Total streams that reached a terminal state.",
	})

	PersistOK = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_persist_ok_total",
		Help: "Total successful session store batch writes.",
	})
	PersistFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_persist_fail_total",
		Help: "Total failed session store batch writes (before retry).",
	})
	PersistDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_persist_dropped_total",
		Help: "Total persistence requests dropped after exhausting retries.",
	})
	BackpressureTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_backpressure_timeouts_total",
		Help: "Total bounded enqueue waits that timed out on a full channel.",
	})
	RetryQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcptap_retry_queue_depth",
		Help: "Current depth of the persistence retry queue.",
	})

	SessionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_sessions_reaped_total",
		Help: "Total idle sessions removed by the reaper.",
	})
)

var registerOnce sync.Once

// Register installs all collectors in the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsRelayed, DuplicatesSuppressed, EventDecodeFail,
			ReconnectAttempts, StreamsTerminated,
			PersistOK, PersistFail, PersistDropped,
			BackpressureTimeouts, RetryQueueDepth,
			SessionsReaped,
		)
	})
}
