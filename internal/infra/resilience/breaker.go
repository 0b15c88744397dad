package resilience

import (
	"sync"
	"time"
)

// BreakerState is the closed set of circuit-breaker states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker gates calls for one operation family. Transitions are
// monotonic within a failure episode (P4): closed -> open only through
// consecutive failures crossing threshold; open -> half-open only after
// cooldown elapses; half-open -> closed on a successful probe, or back to
// open on a failed probe.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	maxProbes int

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenProbeCount  int
}

// NewCircuitBreaker builds a breaker. threshold<=0 disables the breaker (always closed).
func NewCircuitBreaker(threshold int, cooldown time.Duration, maxProbes int) *CircuitBreaker {
	if maxProbes <= 0 {
		maxProbes = 1
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		maxProbes: maxProbes,
		state:     StateClosed,
	}
}

// Allow reports whether a call should proceed, transitioning open->half-open
// when the cooldown has elapsed.
func (b *CircuitBreaker) Allow() bool {
	if b.threshold <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			// This call is the first half-open probe.
			b.halfOpenProbeCount = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenProbeCount >= b.maxProbes {
			return false
		}
		b.halfOpenProbeCount++
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.state = StateClosed
}

// RecordFailure increments the failure counter and opens the breaker once the
// threshold is crossed (from closed) or immediately on a failed half-open probe.
func (b *CircuitBreaker) RecordFailure() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
	default:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}

// State returns a snapshot of the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
