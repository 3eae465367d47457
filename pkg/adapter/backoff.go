package adapter

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential per attempt with
// jitter, capped at Max. Past MaxAttempts the delay stays at Max; the
// session keeps retrying, it never gives up.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Jitter      float64 // ± fraction applied to the computed delay
	MaxAttempts int
}

// DefaultBackoff returns the standard reconnect policy: 5 s initial,
// doubling per attempt, capped at 60 s, ±20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     5 * time.Second,
		Max:         60 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// Delay returns the delay before the given attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if attempt > b.MaxAttempts && b.MaxAttempts > 0 {
		d = b.Max
	}
	if b.Jitter > 0 {
		spread := 1 + b.Jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * spread)
	}
	return d
}
