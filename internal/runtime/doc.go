// Package runtime assembles a relay instance: the session store backend
// (embedded Pebble or shared Redis), the single persistence worker, the
// session health monitor, the idle-session reaper, and the factory for
// resumable upstream streams.
package runtime
