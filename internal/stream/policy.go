package stream

import (
	"math/rand"
	"time"
)

// Policy computes reconnect delays. Delays grow exponentially from BaseDelay,
// cap at MaxDelay, and carry symmetric jitter of ±JitterFactor around the
// capped value, clamped at zero.
type Policy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	MaxAttempts  uint32

	// randFloat returns a value in [0,1); overridable in tests.
	randFloat func() float64
}

// DefaultPolicy returns the standard reconnection policy: 1s base, 60s cap,
// ±25% jitter, 10 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.25,
		MaxAttempts:  10,
	}
}

// NextDelay computes the jittered delay for the given attempt number
// (0-based).
func (p Policy) NextDelay(attempt uint32) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 60 * time.Second
	}

	d := base
	for i := uint32(0); i < attempt; i++ {
		if d >= max/2 {
			d = max
			break
		}
		d *= 2
	}
	if d > max {
		d = max
	}

	if p.JitterFactor > 0 {
		rf := p.randFloat
		if rf == nil {
			rf = rand.Float64
		}
		// uniform in [-jitter, +jitter]
		f := (rf()*2 - 1) * p.JitterFactor
		d += time.Duration(float64(d) * f)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Exhausted reports whether the attempt count has used up the retry budget.
func (p Policy) Exhausted(attempts uint32) bool {
	max := p.MaxAttempts
	if max == 0 {
		max = 10
	}
	return attempts >= max
}
