package messaging

import (
	"time"

	"github.com/glimte/voicebus/contracts"
)

// DefaultRequestTimeout bounds how long Request waits for a reply
const DefaultRequestTimeout = 5 * time.Second

// PublishOptions holds the per-message settings of Publish and Request
type PublishOptions struct {
	Kind          contracts.Kind
	Priority      int
	Origin        contracts.Origin
	Reliable      bool
	TTL           time.Duration
	MaxAttempts   int
	ReplyTo       string
	CorrelationID string
	Timeout       time.Duration

	kindSet bool
}

// PublishOption configures a publish
type PublishOption func(*PublishOptions)

// RequestOption configures a request. Request accepts every publish option;
// WithTimeout only applies to requests.
type RequestOption = PublishOption

// AsEvent publishes the message as a broadcast event
func AsEvent() PublishOption {
	return func(o *PublishOptions) {
		o.Kind = contracts.KindEvent
		o.kindSet = true
	}
}

// AsCommand publishes the message as a prioritized, retried command
func AsCommand() PublishOption {
	return func(o *PublishOptions) {
		o.Kind = contracts.KindCommand
		o.kindSet = true
	}
}

// WithPriority sets the priority (0 most urgent, 99 least)
func WithPriority(priority int) PublishOption {
	return func(o *PublishOptions) {
		o.Priority = contracts.ClampPriority(priority)
	}
}

// WithOrigin sets where the message entered the platform
func WithOrigin(origin contracts.Origin) PublishOption {
	return func(o *PublishOptions) {
		o.Origin = origin
	}
}

// WithReliable controls retries. Unreliable commands get a single attempt.
func WithReliable(reliable bool) PublishOption {
	return func(o *PublishOptions) {
		o.Reliable = reliable
	}
}

// WithTTL discards the message if it is still queued after ttl
func WithTTL(ttl time.Duration) PublishOption {
	return func(o *PublishOptions) {
		o.TTL = ttl
	}
}

// WithMaxAttempts sets the delivery attempt budget
func WithMaxAttempts(n int) PublishOption {
	return func(o *PublishOptions) {
		o.MaxAttempts = n
	}
}

// WithReplyTo sets the reply topic
func WithReplyTo(topic string) PublishOption {
	return func(o *PublishOptions) {
		o.ReplyTo = topic
	}
}

// WithCorrelationID sets the request/reply pairing token
func WithCorrelationID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.CorrelationID = id
	}
}

// WithTimeout sets how long Request waits for a reply
func WithTimeout(timeout time.Duration) PublishOption {
	return func(o *PublishOptions) {
		o.Timeout = timeout
	}
}

// NewPublishOptions applies opts over the defaults. Without AsEvent or
// AsCommand the kind comes from the payload; untagged payloads are events.
func NewPublishOptions(payload any, opts ...PublishOption) PublishOptions {
	o := PublishOptions{
		Priority:    contracts.DefaultPriority,
		Origin:      contracts.OriginInternal,
		Reliable:    true,
		MaxAttempts: contracts.DefaultMaxAttempts,
		Timeout:     DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.kindSet {
		o.Kind = contracts.KindOf(payload)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultRequestTimeout
	}
	return o
}

// IsCommand reports whether the message goes through a command queue
func (o PublishOptions) IsCommand() bool {
	return o.Kind == contracts.KindCommand || o.Kind == contracts.KindQuery
}

// Attempts returns the effective attempt budget
func (o PublishOptions) Attempts() int {
	if !o.Reliable || o.MaxAttempts < 1 {
		return 1
	}
	return o.MaxAttempts
}

// NewEnvelope wraps payload for topic according to the options
func (o PublishOptions) NewEnvelope(topic string, payload any) (*contracts.Envelope, error) {
	return contracts.NewEnvelope(topic, payload,
		contracts.WithOrigin(o.Origin),
		contracts.WithPriority(o.Priority),
		contracts.WithMaxAttempts(o.Attempts()),
		contracts.WithReplyTo(o.ReplyTo),
		contracts.WithCorrelationID(o.CorrelationID),
		contracts.WithTTL(o.TTL),
	)
}
