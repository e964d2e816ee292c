package core

import (
	"time"

	"hookrouter/internal/types"
)

// CalculateNextRetry computes the delay before the next attempt using
// exponential backoff: delay = min(InitialDelay * BackoffMultiplier^attempt, MaxDelay).
// attempt is zero-based: 0 is the delay after the first failure.
func CalculateNextRetry(policy types.RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	delay := float64(time.Duration(policy.InitialDelayMs) * time.Millisecond)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
		if maxDelay > 0 && delay >= float64(maxDelay) {
			return maxDelay
		}
	}

	d := time.Duration(delay)
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = maxDelay
	}
	return d
}

// ShouldRetry reports whether a message that has been attempted attempts
// times may be attempted again under policy.
func ShouldRetry(policy types.RetryPolicy, attempts int) bool {
	return attempts < policy.MaxAttempts
}
