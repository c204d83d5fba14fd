package tournament

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based):
// base * 2^(attempt-1) capped at limit, with +/-25% jitter.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if limit > 0 && (delay > limit || delay <= 0) {
		delay = limit
	}

	jitterRange := float64(delay) * 0.25
	jitter := time.Duration(rand.Float64()*2*jitterRange - jitterRange)
	if delay+jitter < 0 {
		return 0
	}
	return delay + jitter
}
