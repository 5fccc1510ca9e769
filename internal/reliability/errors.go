package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMaxRetriesExceeded is the reason recorded for exhausted commands
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
	// ErrDeadLetterNotFound is returned by stores for unknown message ids
	ErrDeadLetterNotFound = errors.New("dead letter: message not found")
	// ErrCircuitOpen is matched by every *CircuitOpenError
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// RetryError describes a command that ran out of delivery attempts
type RetryError struct {
	Topic       string
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Topic, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

func (e *RetryError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}
