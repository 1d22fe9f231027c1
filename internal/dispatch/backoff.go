package dispatch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential doubling from Base up to Cap,
// with +/- JitterPct applied on top. Ignoring jitter the delay never
// decreases between consecutive attempts.
type Backoff struct {
	Base      time.Duration
	Cap       time.Duration
	JitterPct float64
}

// Delay returns the wait before the next attempt, given how many attempts
// have already been made (>= 1 after the first failure).
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	if b.JitterPct > 0 {
		j := 1 + (rand.Float64()*2-1)*b.JitterPct
		if j < 0.1 {
			j = 0.1
		}
		d = time.Duration(float64(d) * j)
	}
	return d
}
