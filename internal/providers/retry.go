package providers

import (
	"context"
	"time"
)

// RetryConfig bounds the transport adapter's local retry policy for
// transient failures: 3 attempts in total, waiting 2s and then 4s between
// them. Cancellation is never retried; every rate-limit error, including a
// quota-exhausted 429, is (spec.md §9 OQ2 — all retry logic lives here,
// not in the concurrency gate).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig matches spec.md §5's fixed schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// RetryDo runs fn, retrying transient *APIError failures with exponential
// backoff bounded by cfg.MaxAttempts. Non-APIError failures and
// non-transient APIErrors (including ErrAborted) are returned immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, newAPIError(ErrAborted, "context cancelled during retry backoff", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsTransient() {
			return zero, err
		}
	}
	return zero, lastErr
}
