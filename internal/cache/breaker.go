package cache

import (
	"sync"
	"time"
)

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops calls to redis after threshold consecutive failures. Once the
// cooldown passes it lets up to probes calls through and closes again if they all succeed.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time

	threshold int
	cooldown  time.Duration
	probes    int
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		probes:    3,
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		return true
	case StateHalfOpen:
		return cb.successes < cb.probes
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.probes {
			cb.state = StateClosed
			cb.failures = 0
		}
	}
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures < cb.threshold {
			return
		}
	case StateOpen:
		return
	}

	cb.state = StateOpen
	cb.openedAt = cb.now()
}
