package signaling

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultReconnectMinBackoff  = 250 * time.Millisecond
	DefaultReconnectMaxBackoff  = 10 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// Backoff computes reconnect delays: Min doubled per attempt, capped at Max,
// with up to half of the delay replaced by jitter.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	// rand returns a value in [0, n). Tests override it.
	rand func(n int64) int64
}

func (b Backoff) withDefaults() Backoff {
	if b.Min <= 0 {
		b.Min = DefaultReconnectMinBackoff
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	if b.rand == nil {
		b.rand = rand.Int64N
	}
	return b
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := b.Min
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + b.rand(half+1))
}
