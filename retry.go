package relay

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is a pure configuration value for the retry executor.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      time.Duration
}

// DefaultRetryPolicy matches the runtime defaults: three attempts with a
// short initial backoff, tuned for interactive latency.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 50 * time.Millisecond, Jitter: 30 * time.Millisecond}
}

// backoffCeiling bounds any single retry sleep so interactive requests
// never stall behind a long exponential tail.
const backoffCeiling = 500 * time.Millisecond

// AttemptFunc is invoked on every attempt of a retry loop, success or
// failure. It is a required seam: downstream trace summaries depend on
// attempt counts. status is "ok", "retry", or "error"; info is the zero
// value on success.
type AttemptFunc func(attempt int, status string, info ErrorInfo)

// RunWithRetry calls fn up to policy.MaxAttempts times. Each failure is
// classified under (category, component); a non-retryable classification or
// exhausted attempts stops the loop with a *RetriesExhaustedError wrapping
// the last cause. Backoff doubles per attempt with uniform jitter, capped
// at the ceiling, and respects ctx cancellation while sleeping.
func RunWithRetry[T any](ctx context.Context, policy RetryPolicy, category, component string, onAttempt AttemptFunc, fn func() (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var lastInfo ErrorInfo
	attemptsUsed := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptsUsed = attempt
		result, err := fn()
		if err == nil {
			if onAttempt != nil {
				onAttempt(attempt, "ok", ErrorInfo{})
			}
			return result, nil
		}

		lastErr = err
		lastInfo = Classify(err, category, component)
		final := !lastInfo.Retryable || attempt == attempts
		if onAttempt != nil {
			if final {
				onAttempt(attempt, "error", lastInfo)
			} else {
				onAttempt(attempt, "retry", lastInfo)
			}
		}
		if final {
			break
		}

		delay := policy.BaseBackoff << (attempt - 1)
		if policy.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(policy.Jitter) + 1))
		}
		if delay > backoffCeiling {
			delay = backoffCeiling
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, &RetriesExhaustedError{Attempts: attemptsUsed, Last: lastErr, Info: lastInfo}
}
