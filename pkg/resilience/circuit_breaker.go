// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"sync"
	"time"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// BreakerState is the position of a circuit breaker.
type BreakerState int

const (
	// StateClosed lets every call through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets calls through to probe whether the remote recovered.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a CircuitBreaker. Zero values take defaults.
type BreakerConfig struct {
	Name string
	// Failures is the number of consecutive failures that opens the circuit.
	Failures int
	// Probes is the number of half-open successes that close it again.
	Probes int
	// Cooldown is how long the circuit stays open.
	Cooldown time.Duration
}

// CircuitBreaker stops calling a remote endpoint that keeps failing.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "circuit_breaker"
	}
	if cfg.Failures < 1 {
		cfg.Failures = 5
	}
	if cfg.Probes < 1 {
		cfg.Probes = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Call runs fn unless the circuit is open and records its outcome. An open
// circuit fails fast with a recoverable PROTOCOL_ERROR. The lock is released
// while fn runs.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.admit() {
		return errors.New(errors.CodeProtocol, "circuit breaker open", nil).
			WithContext("breaker", cb.cfg.Name).
			WithRecoverable(true)
	}
	err := fn()
	cb.observe(err == nil)
	return err
}

// State returns the current position, moving an expired open circuit to
// half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state != StateOpen
}

func (cb *CircuitBreaker) expire() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) > cb.cfg.Cooldown {
		cb.moveTo(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) observe(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case !ok && cb.state == StateHalfOpen:
		cb.moveTo(StateOpen)
	case !ok:
		cb.failures++
		if cb.failures >= cb.cfg.Failures {
			cb.moveTo(StateOpen)
		}
	case cb.state == StateHalfOpen:
		cb.probes++
		if cb.probes >= cb.cfg.Probes {
			cb.moveTo(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) moveTo(s BreakerState) {
	cb.state = s
	cb.failures = 0
	cb.probes = 0
	if s == StateOpen {
		cb.openedAt = cb.now()
	}
}
