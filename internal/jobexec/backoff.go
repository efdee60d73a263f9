package jobexec

import (
	"math"
	"math/rand"
	"time"
)

const (
	maxBackoff    = 5 * time.Minute
	maxJitter     = time.Second
	defaultBase   = time.Second
	maxBackoffExp = 30 // 2^30 * 1s already exceeds any sane cap
)

// CalculateBackoffDelay returns the delay before retry attempt
// retryCount: base·2^retryCount plus up to one second of jitter, capped
// at five minutes.
func CalculateBackoffDelay(retryCount int, baseDelay time.Duration) time.Duration {
	return backoffDelay(retryCount, baseDelay, rand.Float64)
}

func backoffDelay(retryCount int, base time.Duration, rnd func() float64) time.Duration {
	if base <= 0 {
		base = defaultBase
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffExp {
		retryCount = maxBackoffExp
	}
	delay := float64(base) * math.Pow(2, float64(retryCount))
	delay += rnd() * float64(maxJitter)
	if delay > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(delay)
}
