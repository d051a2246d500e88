// internal/queue/backoff.go
package queue

import (
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. The jitter band is
// a quarter of the exponential step in either direction, which keeps
// successive delays strictly increasing until the cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the given attempt number is retried.
// attempt is 1-based: the delay scheduled after the first failed attempt is
// Delay(1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	exp := b.Base
	for i := 1; i < attempt; i++ {
		exp *= 2
		if exp >= b.Cap {
			exp = b.Cap
			break
		}
	}

	jitterBand := int64(exp / 4)
	if jitterBand == 0 {
		return exp
	}
	jitter := time.Duration(rand.Int63n(2*jitterBand) - jitterBand)
	return exp + jitter
}
