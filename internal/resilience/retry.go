// Package resilience provides the retry-with-backoff and circuit
// breaker primitives used by the Key Service and Remote Vault
// clients. Adapted from the teacher's infrastructure/resilience
// package: same shape (RetryConfig, exponential schedule, a
// CircuitBreaker state machine), retuned to azsecret's "full jitter"
// policy and a caller-supplied retryability predicate so CorruptData-
// and CryptoFailure-shaped errors are never retried.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff with full jitter.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig matches the schedule spec §4.3 recommends: 3
// attempts, delays approaching 250ms -> 1s -> 4s before jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   4.0,
	}
}

// Retry executes fn up to cfg.MaxAttempts times. Between attempts it
// sleeps a full-jitter backoff: a uniform random duration in
// [0, min(cfg.MaxDelay, InitialDelay*Multiplier^attempt)]. shouldRetry
// decides, given the error from the latest attempt, whether another
// attempt is worthwhile; a nil shouldRetry retries every error.
func Retry(ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return lastErr
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fullJitter(delay)):
			}
			delay = nextDelay(delay, cfg)
		}
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

// fullJitter returns a uniform random duration in [0, d].
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
