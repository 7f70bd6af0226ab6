package fetch

import "time"

// Backoff computes the wait before a retry. Delays double from Base and are
// capped at Max, so they never decrease from one attempt to the next.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		next := delay * 2
		if next < delay {
			// overflow
			break
		}
		delay = next
	}

	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
