// Package control holds flow-control primitives for platform connections.
package control

import (
	"sync"
	"time"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Defaults for NewCircuitBreaker.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
)

// CircuitBreaker opens after Threshold consecutive failures and lets one probe
// through once Cooldown has passed. It is safe for concurrent use.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	lastErr  string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{Threshold: threshold, Cooldown: cooldown, state: CircuitClosed}
}

func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait returns how long the caller must hold off before the next attempt.
// Zero means go ahead; an expired open circuit moves to half-open.
func (c *CircuitBreaker) Wait(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CircuitOpen {
		return 0
	}
	if remaining := c.Cooldown - now.Sub(c.openedAt); remaining > 0 {
		return remaining
	}
	c.state = CircuitHalfOpen
	return 0
}

// RecordSuccess closes the circuit and reports whether it was not closed.
func (c *CircuitBreaker) RecordSuccess() (recovered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	recovered = c.state != CircuitClosed
	c.state = CircuitClosed
	c.failures = 0
	c.lastErr = ""
	return recovered
}

// RecordFailure counts a failure and reports whether the circuit just opened.
// A failed half-open probe reopens it immediately.
func (c *CircuitBreaker) RecordFailure(err error, now time.Time) (opened bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
	}
	if c.state == CircuitOpen {
		return false
	}
	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= c.Threshold {
		c.state = CircuitOpen
		c.openedAt = now
		return true
	}
	return false
}

// LastError is the message of the most recent failure.
func (c *CircuitBreaker) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
