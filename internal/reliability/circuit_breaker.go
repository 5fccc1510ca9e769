package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// StateChangeFunc is called after every state transition
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// Permanent errors are the caller's fault and do not count as failures.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	inFlight    int
	lastFailure time.Time

	name             string
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	halfOpenRequests int
	onStateChange    StateChangeFunc
	now              func() time.Time
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the consecutive failures that open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if threshold > 0 {
			cb.failureThreshold = threshold
		}
	}
}

// WithSuccessThreshold sets the half-open successes that close the circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if threshold > 0 {
			cb.successThreshold = threshold
		}
	}
}

// WithOpenTimeout sets how long the circuit stays open
func WithOpenTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.openTimeout = timeout
	}
}

// WithHalfOpenRequests caps concurrent trial calls while half-open
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if requests > 0 {
			cb.halfOpenRequests = requests
		}
	}
}

// WithStateChange registers a transition callback. It runs outside the lock.
func WithStateChange(fn StateChangeFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(name string, options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
		halfOpenRequests: 1,
		now:              time.Now,
	}
	for _, opt := range options {
		opt(cb)
	}
	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// Reset closes the circuit and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.successes, cb.inFlight = 0, 0, 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	from := cb.state

	switch cb.state {
	case StateOpen:
		retryAt := cb.lastFailure.Add(cb.openTimeout)
		if cb.now().Before(retryAt) {
			cb.mu.Unlock()
			return &CircuitOpenError{Name: cb.name, RetryAt: retryAt}
		}
		cb.state = StateHalfOpen
		cb.successes, cb.inFlight = 0, 0
		fallthrough

	case StateHalfOpen:
		if cb.inFlight >= cb.halfOpenRequests {
			cb.mu.Unlock()
			return &CircuitOpenError{Name: cb.name, RetryAt: cb.now().Add(cb.openTimeout)}
		}
		cb.inFlight++
	}

	to := cb.state
	cb.mu.Unlock()
	if from != to {
		cb.notify(from, to)
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && IsRetryable(err)

	cb.mu.Lock()
	from := cb.state
	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}

	switch {
	case failed:
		cb.failures++
		cb.successes = 0
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
		}
	case cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures, cb.successes = 0, 0
		}
	default:
		cb.failures = 0
	}

	to := cb.state
	cb.mu.Unlock()
	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(cb.name, from, to)
	}
}

// CircuitOpenError is returned while the circuit rejects calls
type CircuitOpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s is open until %s", e.Name, e.RetryAt.Format(time.RFC3339Nano))
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}
