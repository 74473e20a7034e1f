package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the open state.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen indicates the circuit is testing if the service has recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	// Zero disables the breaker.
	MaxFailures int
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// MaxHalfOpenRequests is the number of trial requests allowed in half-open
	// state; that many consecutive successes close the circuit.
	MaxHalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker rejects calls to a collaborator that keeps failing.
type CircuitBreaker struct {
	mu     sync.Mutex
	state  CircuitBreakerState
	config CircuitBreakerConfig
	now    func() time.Time

	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	openUntil            time.Time
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures < 0 {
		config.MaxFailures = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxHalfOpenRequests <= 0 {
		config.MaxHalfOpenRequests = 1
	}
	return &CircuitBreaker{
		state:  StateClosed,
		config: config,
		now:    time.Now,
	}
}

// ExecuteContext wraps a function call with circuit breaker and context
// support. Cancellation by the caller is not counted as a failure.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		cb.release()
		return err
	}
	cb.afterRequest(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.MaxFailures == 0 {
		return nil
	}

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.openUntil) {
			return ErrCircuitOpen
		}
		cb.transitionToLocked(StateHalfOpen)
		cb.halfOpenRequests++
		return nil
	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.MaxHalfOpenRequests {
			cb.halfOpenRequests++
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// release returns an unused half-open slot.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.MaxFailures == 0 {
		return
	}

	if err == nil {
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
	} else {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
	}

	switch cb.state {
	case StateHalfOpen:
		if err != nil {
			cb.transitionToLocked(StateOpen)
			return
		}
		if cb.consecutiveSuccesses >= cb.config.MaxHalfOpenRequests {
			cb.transitionToLocked(StateClosed)
		}
	case StateClosed:
		if err != nil && cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionToLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transitionToLocked(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenRequests = 0

	if newState == StateOpen {
		cb.openUntil = cb.now().Add(cb.config.Timeout)
	} else {
		cb.openUntil = time.Time{}
	}
}
