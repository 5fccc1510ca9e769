package contracts

import (
	"fmt"
	"time"

	"github.com/glimte/voicebus/internal/ids"
)

const (
	// MinPriority is the most urgent priority.
	MinPriority = 0
	// MaxPriority is the least urgent priority.
	MaxPriority = 99
	// DefaultPriority is used when the publisher does not choose one.
	DefaultPriority = 50
	// DefaultMaxAttempts bounds delivery attempts for reliable commands.
	DefaultMaxAttempts = 3
)

// Origin tells where a message entered the platform.
type Origin string

const (
	OriginInternal Origin = "internal"
	OriginExternal Origin = "external"
	OriginSystem   Origin = "system"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	switch o {
	case OriginInternal, OriginExternal, OriginSystem:
		return true
	}
	return false
}

// Envelope wraps a payload for transport through the bus.
//
// ID, Type and Timestamp are fixed at construction. Attempts is only
// advanced by brokers through RecordAttempt and never exceeds MaxAttempts.
type Envelope struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Payload       any       `json:"payload"`
	ReplyTo       string    `json:"replyTo,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Origin        Origin    `json:"origin"`
	Priority      int       `json:"priority"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"maxAttempts"`
	Timestamp     time.Time `json:"timestamp"`
	Deadline      time.Time `json:"deadline"`

	// Sequence is assigned by the broker that queues the envelope.
	Sequence uint64 `json:"-"`
}

// EnvelopeOption configures an envelope at construction time
type EnvelopeOption func(*Envelope)

// WithReplyTo sets the topic replies should be published to
func WithReplyTo(topic string) EnvelopeOption {
	return func(e *Envelope) {
		e.ReplyTo = topic
	}
}

// WithCorrelationID sets the request/reply pairing token
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) {
		e.CorrelationID = id
	}
}

// WithOrigin sets the message origin
func WithOrigin(origin Origin) EnvelopeOption {
	return func(e *Envelope) {
		e.Origin = origin
	}
}

// WithPriority sets the priority, clamped to [MinPriority, MaxPriority]
func WithPriority(priority int) EnvelopeOption {
	return func(e *Envelope) {
		e.Priority = ClampPriority(priority)
	}
}

// WithMaxAttempts sets the delivery attempt budget (at least 1)
func WithMaxAttempts(n int) EnvelopeOption {
	return func(e *Envelope) {
		if n < 1 {
			n = 1
		}
		e.MaxAttempts = n
	}
}

// WithDeadline sets an absolute expiry
func WithDeadline(deadline time.Time) EnvelopeOption {
	return func(e *Envelope) {
		e.Deadline = deadline.UTC()
	}
}

// WithTTL sets the expiry relative to the envelope timestamp
func WithTTL(ttl time.Duration) EnvelopeOption {
	return func(e *Envelope) {
		if ttl > 0 {
			e.Deadline = e.Timestamp.Add(ttl)
		}
	}
}

// NewEnvelope creates an envelope for topic with a fresh ID and timestamp.
func NewEnvelope(topic string, payload any, opts ...EnvelopeOption) (*Envelope, error) {
	env := &Envelope{
		ID:          ids.NewMessageID(),
		Type:        topic,
		Payload:     payload,
		Origin:      OriginInternal,
		Priority:    DefaultPriority,
		MaxAttempts: DefaultMaxAttempts,
		Timestamp:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(env)
	}

	if topic == "" {
		return nil, fmt.Errorf("envelope topic is required")
	}
	if !env.Origin.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, env.Origin)
	}
	return env, nil
}

// RecordAttempt counts a failed delivery and reports whether another
// attempt is allowed.
func (e *Envelope) RecordAttempt() bool {
	if e.Attempts < e.MaxAttempts {
		e.Attempts++
	}
	return e.Attempts < e.MaxAttempts
}

// Exhausted reports whether no delivery attempts remain
func (e *Envelope) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// Expired reports whether the envelope carries a deadline that has passed
func (e *Envelope) Expired(now time.Time) bool {
	return !e.Deadline.IsZero() && now.After(e.Deadline)
}

// ClampPriority bounds p to the valid priority range
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
