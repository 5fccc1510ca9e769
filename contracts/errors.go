package contracts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation is matched by every *ValidationError
	ErrValidation = errors.New("topic validation failed")
	// ErrQueueFull is matched by every *QueueFullError
	ErrQueueFull = errors.New("queue full")
	// ErrBusStopped is returned for work submitted after Stop
	ErrBusStopped = errors.New("bus stopped")
	// ErrRequestTimeout is the cause recorded for requests that got no reply in time
	ErrRequestTimeout = errors.New("request timeout")
	// ErrInvalidOrigin is returned when an envelope names an unknown origin
	ErrInvalidOrigin = errors.New("invalid origin")
)

// ValidationError reports a topic rejected by the registry
type ValidationError struct {
	Topic   string
	Op      string
	Reason  string
	Similar []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("cannot %s %q: %s", e.Op, e.Topic, e.Reason)
	if len(e.Similar) > 0 {
		msg += "; similar topics: " + strings.Join(e.Similar, ", ")
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// QueueFullError reports a command rejected because its topic queue is at capacity
type QueueFullError struct {
	Topic    string
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("command queue for %q is full (capacity %d)", e.Topic, e.Capacity)
}

func (e *QueueFullError) Is(target error) bool {
	return target == ErrQueueFull
}

// DeliveryError wraps a handler failure for one delivery attempt
type DeliveryError struct {
	Topic     string
	MessageID string
	Attempt   int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %s on %q failed (attempt %d): %v", e.MessageID, e.Topic, e.Attempt, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// TimeoutMessage is the QueryResult error text for a request that timed out
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("%s after %v", ErrRequestTimeout, timeout)
}
