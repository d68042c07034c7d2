package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff with full jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// backoff computes the delay before attempt (0-indexed), as
// min(base*2^attempt, max), then applies full jitter: a uniformly random
// duration in [0, delay].
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

// nonRetryableErr wraps an error to mark it as permanent — a 4xx response or
// a decode failure, neither of which a retry would fix.
type nonRetryableErr struct{ err error }

func (e *nonRetryableErr) Error() string { return e.err.Error() }
func (e *nonRetryableErr) Unwrap() error { return e.err }

// NonRetryable marks err as permanent, so IsRetryable returns false for it
// regardless of its underlying shape.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableErr{err: err}
}

// IsRetryable reports whether err looks like a transient transport failure:
// connection reset, timeout, or a 5xx response. Callers mark permanent
// failures (4xx, malformed request) with NonRetryable; anything else —
// transport errors, deadline overruns, and the plain 5xx errors callers
// construct themselves — is treated as transient and worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nr *nonRetryableErr
	if errors.As(err, &nr) {
		return false
	}
	return true
}

// Do runs fn up to policy.MaxAttempts times, retrying only when fn's error
// is retryable per shouldRetry (e.g. transport errors, timeouts, 5xx, and
// the LLM client's 429 rate limit; other 4xx are not retried), sleeping a
// jittered exponential backoff between attempts, and stopping early if ctx is cancelled or the breaker is open.
func Do(ctx context.Context, policy RetryPolicy, cb *CircuitBreaker, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if cb != nil && !cb.Allow() {
			return ErrCircuitOpen
		}

		err := fn(ctx)
		if err == nil {
			if cb != nil {
				cb.RecordSuccess()
			}
			return nil
		}
		lastErr = err

		if cb != nil {
			cb.RecordFailure()
		}

		if !shouldRetry(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// ErrCircuitOpen is returned by Do when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")
