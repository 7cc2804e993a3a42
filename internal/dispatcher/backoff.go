package dispatcher

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the exponential retry delay policy:
// min(maxDelay, baseDelay * 2^(attempt-1)) plus up to 20% jitter so entries
// that failed together do not retry together.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the wait before the next attempt after `attempt` failures
// (attempt is 1-based: the just-failed attempt number).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay)/5 + 1))

	return delay + jitter
}

// NextAttemptAt applies the delay to now for the claim eligibility check.
func (b Backoff) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.Add(b.Delay(attempt))
}
