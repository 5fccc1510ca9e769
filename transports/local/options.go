package local

import (
	"log/slog"
	"time"

	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
)

const (
	DefaultCommandQueueSize = 1000
	DefaultEventQueueSize   = 5000
	DefaultShutdownGrace    = 100 * time.Millisecond
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

// WithCommandQueueSize bounds each per-topic command queue
func WithCommandQueueSize(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.commandQueueSize = size
		}
	}
}

// WithEventQueueSize bounds each per-topic event queue
func WithEventQueueSize(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.eventQueueSize = size
		}
	}
}

// WithShutdownGrace sets how long Stop waits for busy workers
func WithShutdownGrace(grace time.Duration) Option {
	return func(b *Broker) {
		b.grace = grace
	}
}

// WithBackoff replaces the command redelivery policy
func WithBackoff(policy reliability.RetryPolicy) Option {
	return func(b *Broker) {
		b.backoff = policy
	}
}

// WithDeadLetterStore sets where exhausted commands are kept
func WithDeadLetterStore(store reliability.DeadLetterStore) Option {
	return func(b *Broker) {
		b.deadLetters = store
	}
}

// WithMetricsCollector forwards delivery events to collector
func WithMetricsCollector(collector messaging.MetricsCollector) Option {
	return func(b *Broker) {
		b.recorder = messaging.NewRecorder(collector)
	}
}
