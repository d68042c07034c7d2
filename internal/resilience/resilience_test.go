package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("attempt %d: expected Allow before threshold", i)
		}
		cb.RecordFailure()
	}

	if cb.Allow() {
		t.Fatal("expected breaker to be open and reject")
	}
	if cb.State() != Open {
		t.Fatalf("state = %v, want Open", cb.State())
	}
}

func TestCircuitBreakerHalfOpenThenClose(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure() // opens

	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected probe to be allowed after cooldown")
	}
	if cb.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Fatalf("state = %v, want Closed after successful probe", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow() // half-open
	cb.RecordFailure()

	if cb.State() != Open {
		t.Fatalf("state = %v, want Open after half-open probe failure", cb.State())
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil,
		func(error) bool { return true },
		func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	attempts := 0
	sentinel := errors.New("permanent")
	err := Do(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil,
		func(error) bool { return false },
		func(context.Context) error {
			attempts++
			return sentinel
		})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry)", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error should not be retryable")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Fatal("plain transport-shaped error should be retryable")
	}
	if IsRetryable(NonRetryable(errors.New("400 bad request"))) {
		t.Fatal("NonRetryable-wrapped error should not be retryable")
	}
}

func TestDoRespectsCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure() // opens

	attempts := 0
	err := Do(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, cb,
		func(error) bool { return true },
		func(context.Context) error {
			attempts++
			return nil
		})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if attempts != 0 {
		t.Fatalf("expected no attempts while circuit open, got %d", attempts)
	}
}
