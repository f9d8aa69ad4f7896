// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, timeout, and circuit breaker patterns
// guarding calls to flaky downstream operations.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
)

// State represents the state of a circuit breaker.
type State string

const (
	// StateClosed means the circuit breaker is working normally.
	StateClosed State = "closed"

	// StateOpen means the circuit breaker is blocking calls.
	StateOpen State = "open"

	// StateHalfOpen means the circuit breaker is testing if the guarded
	// dependency recovered.
	StateHalfOpen State = "half_open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit.
	FailureThreshold int

	// MinimumThroughput is the number of successes in half-open before closing.
	MinimumThroughput int

	// ResetTimeout is how long to wait in open before trying half-open.
	ResetTimeout time.Duration

	// Name identifies the guarded dependency for logging and events.
	Name string
}

// CircuitBreaker guards calls to one flaky dependency. It fails fast while
// open and performs no retries itself; callers own retry and backoff.
type CircuitBreaker struct {
	config      BreakerConfig
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time
	nextAttempt time.Time
	openCount   int64
	emitter     core.EventEmitter
	now         func() time.Time
	mu          sync.RWMutex
}

// BreakerStatus is a point-in-time snapshot of a breaker for the query API.
type BreakerStatus struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	FailureCount     int           `json:"failure_count"`
	SuccessCount     int           `json:"success_count"`
	FailureThreshold int           `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	LastFailure      time.Time     `json:"last_failure,omitzero"`
	LastSuccess      time.Time     `json:"last_success,omitzero"`
	NextAttempt      time.Time     `json:"next_attempt,omitzero"`
	TimesOpened      int64         `json:"times_opened"`
}

// BreakerOption configures optional circuit breaker collaborators.
type BreakerOption func(*CircuitBreaker)

// WithEmitter sets the emitter receiving open/close state-change events.
func WithEmitter(emitter core.EventEmitter) BreakerOption {
	return func(cb *CircuitBreaker) {
		if emitter != nil {
			cb.emitter = emitter
		}
	}
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.MinimumThroughput < 1 {
		config.MinimumThroughput = 2
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}

	cb := &CircuitBreaker{
		config:  config,
		state:   StateClosed,
		emitter: core.NoopEventEmitter{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Call executes fn if the circuit breaker allows, tracking success/failure.
// Returns errors.CodeBreakerOpen if the circuit is open and the reset
// timeout has not elapsed.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.checkState()

	if cb.state == StateOpen {
		return errors.New(errors.CodeBreakerOpen, "circuit breaker open", nil).
			WithContext("breaker", cb.config.Name).
			WithContext("next_attempt", cb.nextAttempt).
			WithRecoverable(true)
	}

	err := fn()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.trip(ctx)
			}
		case StateHalfOpen:
			// A failed trial re-opens immediately with a fresh window.
			cb.trip(ctx)
		}
	} else {
		cb.lastSuccess = cb.now()
		switch cb.state {
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.MinimumThroughput {
				cb.close(ctx)
			}
		case StateClosed:
			cb.failures = 0
		}
	}

	return err
}

// checkState transitions open to half-open once the reset timeout elapses.
// Must be called under lock.
func (cb *CircuitBreaker) checkState() {
	if cb.state == StateOpen && !cb.now().Before(cb.nextAttempt) {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.failures = 0
	}
}

// trip moves the breaker to open. Must be called under lock.
func (cb *CircuitBreaker) trip(ctx context.Context) {
	cb.state = StateOpen
	cb.failures = 0
	cb.successes = 0
	cb.nextAttempt = cb.now().Add(cb.config.ResetTimeout)
	cb.openCount++
	cb.emitter.Emit(ctx, core.NewEvent(core.EventCircuitBreakerOpened, cb.config.Name, map[string]any{
		"next_attempt": cb.nextAttempt,
	}))
}

// close moves the breaker back to closed. Must be called under lock.
func (cb *CircuitBreaker) close(ctx context.Context) {
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.emitter.Emit(ctx, core.NewEvent(core.EventCircuitBreakerClosed, cb.config.Name, nil))
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Status returns a snapshot of the breaker's counters and timestamps.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerStatus{
		Name:             cb.config.Name,
		State:            cb.state,
		FailureCount:     cb.failures,
		SuccessCount:     cb.successes,
		FailureThreshold: cb.config.FailureThreshold,
		ResetTimeout:     cb.config.ResetTimeout,
		LastFailure:      cb.lastFailure,
		LastSuccess:      cb.lastSuccess,
		NextAttempt:      cb.nextAttempt,
		TimesOpened:      cb.openCount,
	}
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

// Trip manually forces the circuit breaker to open state.
func (cb *CircuitBreaker) Trip(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip(ctx)
}
