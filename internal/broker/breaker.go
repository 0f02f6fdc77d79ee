// Package broker implements the resource broker abstraction: the layer
// between the control loop and the actual grant/return/status-report
// transport, whether self-contained or proxied through an external
// resource manager (YARN_LIBYARN mode).
package broker

import (
	"sync"
	"time"
)

// State is the circuit breaker's operating state.
type State int

const (
	// Closed is normal operation: calls proceed.
	Closed State = iota
	// Open rejects calls until timeout elapses.
	Open
	// HalfOpen allows a limited number of trial calls to test recovery.
	HalfOpen
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker wraps ResourceBroker.acquire/release/containerStatusReport calls
// against an external resource provider, tripping open after a run of
// consecutive failures and probing for recovery after a cooldown. State is
// process-local; it is not persisted, since a broker restart should always
// retry cold rather than resume a stale trip.
type Breaker struct {
	mu                sync.RWMutex
	state             State
	consecutiveErrors int
	threshold         int
	halfOpenAttempts  int
	halfOpenNeeded    int
	lastFailureTime   time.Time
	timeout           time.Duration
	openUntil         time.Time
	lastStateChange   time.Time
}

// Config configures a Breaker.
type Config struct {
	Threshold        int           // consecutive failures before opening
	Timeout          time.Duration // cooldown before a half-open probe
	HalfOpenRequired int           // successful probes required to close
}

// DefaultConfig returns the breaker's default tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		Timeout:          time.Minute,
		HalfOpenRequired: 3,
	}
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.HalfOpenRequired == 0 {
		cfg.HalfOpenRequired = DefaultConfig().HalfOpenRequired
	}

	return &Breaker{
		state:           Closed,
		threshold:       cfg.Threshold,
		timeout:         cfg.Timeout,
		halfOpenNeeded:  cfg.HalfOpenRequired,
		lastStateChange: time.Now(),
	}
}

// CanProceed reports whether a broker call should be attempted, advancing
// open -> half-open once the cooldown has elapsed.
func (cb *Breaker) CanProceed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == Open && time.Now().After(cb.openUntil) {
		cb.state = HalfOpen
		cb.halfOpenAttempts = 0
		cb.lastStateChange = time.Now()
		return true
	}

	return cb.state != Open
}

// RecordSuccess marks a broker call as successful, closing the circuit
// after enough consecutive half-open probes succeed.
func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveErrors = 0

	if cb.state == HalfOpen {
		cb.halfOpenAttempts++
		if cb.halfOpenAttempts >= cb.halfOpenNeeded {
			cb.state = Closed
			cb.lastStateChange = time.Now()
		}
	}
}

// RecordFailure marks a broker call as failed, opening the circuit once
// the consecutive-failure threshold is reached.
func (cb *Breaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveErrors++
	cb.lastFailureTime = time.Now()

	if cb.state == HalfOpen {
		cb.state = Open
		cb.openUntil = time.Now().Add(cb.timeout)
		cb.lastStateChange = time.Now()
		return
	}

	if cb.consecutiveErrors >= cb.threshold {
		cb.state = Open
		cb.openUntil = time.Now().Add(cb.timeout)
		cb.lastStateChange = time.Now()
	}
}

// Status returns the breaker's current state.
func (cb *Breaker) Status() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns a snapshot of breaker counters for health/metrics reporting.
func (cb *Breaker) Stats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := map[string]interface{}{
		"state":              cb.state.String(),
		"consecutive_errors": cb.consecutiveErrors,
		"threshold":          cb.threshold,
	}
	if !cb.lastFailureTime.IsZero() {
		stats["last_failure"] = cb.lastFailureTime.Format(time.RFC3339)
	}
	if cb.state == Open {
		stats["open_until"] = cb.openUntil.Format(time.RFC3339)
	}
	return stats
}
