// Package retryqueue implements the durable retry table with exponential
// back-off and dead-lettering. A dispatcher claims due entries and hands them
// to registered redrive handlers; entries that exhaust their attempt budget
// are parked as dead letters for operator attention and never claimed again.
package retryqueue

import "time"

// Backoff returns the delay before attempt n (0-based): base * 2^attempt,
// capped at max. A non-positive max disables the cap.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
