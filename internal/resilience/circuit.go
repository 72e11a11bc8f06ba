// Package resilience provides per-provider circuit breakers, retry with
// backoff and rate-limited admission queues for external provider calls.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state. Requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen admits exactly one trial request.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive recorded failures that opens
	// the circuit. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before a trial call is
	// admitted. Default: 60s.
	ResetTimeout time.Duration

	// OnStateChange is called (under the breaker lock) on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the default breaker policy.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 60 * time.Second,
	}
}

// CircuitBreaker guards a single provider.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Allow reports whether a single call may proceed. A caller admitted while
// the breaker is half-open owns the trial and must report its outcome with
// RecordSuccess, RecordFailure or Release.
func (cb *CircuitBreaker) Allow() error {
	_, err := cb.admit(false)
	return err
}

// admit is the per-attempt check. holdsTrial is true when the caller already
// owns the half-open trial from a previous attempt of the same logical call.
func (cb *CircuitBreaker) admit(holdsTrial bool) (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
		cb.trialInFlight = true
		return true, nil
	case CircuitHalfOpen:
		if holdsTrial {
			return true, nil
		}
		if cb.trialInFlight {
			return false, ErrCircuitOpen
		}
		cb.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

// RecordSuccess resets the failure counter and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// RecordFailure counts one failure. A closed circuit opens once MaxFailures
// consecutive failures are recorded; a failed half-open trial re-opens it
// with a fresh cool-down.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.trialInFlight = false

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.MaxFailures {
			cb.openedAt = cb.nowFunc()
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.openedAt = cb.nowFunc()
		cb.transition(CircuitOpen)
	}
}

// Release gives up a half-open trial without a verdict (cancellation or a
// permanent client-side error). The next caller becomes the trial.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

// State returns the current circuit state. An open circuit whose cool-down
// has elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// Counters returns the current failure count and state for observability.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil && from != to {
		cb.cfg.OnStateChange(from, to)
	}
}
