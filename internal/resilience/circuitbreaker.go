// Package resilience provides the retry-with-backoff and circuit-breaker
// primitives shared by the NLP and LLM HTTP clients.
package resilience

import (
	"sync"
	"time"
)

// State is a circuit breaker's current state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker trips open after maxFailures consecutive failures, rejects fast
// for cooldown, then allows a single probe through in the half-open state.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures int
	cooldown    time.Duration

	state       State
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker builds a breaker that opens after maxFailures
// consecutive failures and stays open for cooldown.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: maxFailures, cooldown: cooldown}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until cooldown elapses, at which point it transitions to half-open
// and allows exactly one probe through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		// The probe is already in flight; reject until it is recorded.
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Closed
	cb.failures = 0
}

// RecordFailure counts a failure, opening the breaker once maxFailures is
// reached (or immediately, if the failing call was the half-open probe).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == HalfOpen {
		cb.state = Open
		cb.openedAt = time.Now()
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = Open
		cb.openedAt = time.Now()
	}
}

// State returns the breaker's current state, for metrics.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
