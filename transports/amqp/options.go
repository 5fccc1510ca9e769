package amqp

import (
	"log/slog"
	"time"

	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
)

const (
	DefaultShutdownGrace = time.Second
	DefaultPrefetch      = 10
)

// Option configures a Broker
type Option func(*Broker)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithValidation toggles registry validation of publish and subscribe topics
func WithValidation(enabled bool) Option {
	return func(b *Broker) {
		b.validate = enabled
	}
}

// WithBackoff replaces the command redelivery policy
func WithBackoff(policy reliability.RetryPolicy) Option {
	return func(b *Broker) {
		b.backoff = policy
	}
}

// WithShutdownGrace bounds how long Stop waits for in-flight deliveries
func WithShutdownGrace(grace time.Duration) Option {
	return func(b *Broker) {
		b.grace = grace
	}
}

// WithPrefetch sets the prefetch of every consumer channel
func WithPrefetch(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.prefetch = n
		}
	}
}

// WithChannelPoolSize caps the channels used for publishing and topology.
// Zero keeps the pool default.
func WithChannelPoolSize(n int) Option {
	return func(b *Broker) {
		b.poolSize = n
	}
}

// WithMetricsCollector forwards delivery events to collector
func WithMetricsCollector(collector messaging.MetricsCollector) Option {
	return func(b *Broker) {
		b.recorder = messaging.NewRecorder(collector)
	}
}
