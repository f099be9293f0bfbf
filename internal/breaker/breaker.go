// Package breaker implements the circuit breaker guarding the prediction
// service. It is a pure in-memory state machine: no I/O, one mutex, mutated
// only through Allow/OnSuccess/OnFailure.
package breaker

import (
	"sync"
	"time"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

type Config struct {
	// FailureThreshold is the number of consecutive failures while CLOSED
	// that trips the breaker OPEN.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive trial successes while
	// HALF_OPEN that closes the breaker again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays OPEN before the next attempted
	// call is allowed through as a trial.
	Cooldown time.Duration
}

type CircuitBreaker struct {
	mu sync.Mutex

	state        State
	failureCount int
	successCount int
	openedUntil  time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	now func() time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a call may be attempted. While OPEN it returns false
// until the cooldown has elapsed; the first allowed call after the cooldown
// transitions to HALF_OPEN before the call is made.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Before(cb.openedUntil) {
			return false
		}
		cb.transition(StateHalfOpen)
		return true
	default:
		return false
	}
}

// OnSuccess records the outcome of one allowed call that succeeded.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(StateClosed)
		}
	}
}

// OnFailure records the outcome of one allowed call that failed. Any single
// failure during a HALF_OPEN trial reopens the breaker.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// trip moves to OPEN and starts the cooldown. Caller holds cb.mu.
func (cb *CircuitBreaker) trip() {
	cb.transition(StateOpen)
	cb.openedUntil = cb.now().Add(cb.cooldown)
}

// transition switches state and resets both counters. Caller holds cb.mu.
func (cb *CircuitBreaker) transition(next State) {
	cb.state = next
	cb.failureCount = 0
	cb.successCount = 0
}
