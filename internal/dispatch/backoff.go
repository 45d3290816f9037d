package dispatch

import (
	"math/rand"
	"time"
)

const defaultBackoffCap = 5 * time.Minute

// Backoff computes the delay before a failed job becomes claimable again.
// A zero Base means immediate retry.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns a random duration in [0, min(Cap, Base*2^attempt)).
// Full jitter keeps jobs that failed together from retrying together.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	limit := b.Cap
	if limit <= 0 {
		limit = defaultBackoffCap
	}
	exp := limit
	if attempt < 0 {
		attempt = 0
	}
	if attempt < 62 {
		if e := b.Base << attempt; e > 0 && e>>attempt == b.Base && e < limit {
			exp = e
		}
	}
	return time.Duration(rand.Int63n(int64(exp)))
}
