package jobqueue

import (
	"log/slog"
	"time"

	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
)

const (
	DefaultConcurrency   = 4
	DefaultShutdownGrace = 5 * time.Second
	DefaultReplyTTL      = time.Minute
)

// RedisConfig locates the Redis server shared by queues, events and replies
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

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

// WithConcurrency sets the worker count of every per-base asynq server
func WithConcurrency(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithShutdownGrace bounds how long Stop waits for active tasks
func WithShutdownGrace(grace time.Duration) Option {
	return func(b *Broker) {
		b.grace = grace
	}
}

// WithBackoff replaces the retry delay policy
func WithBackoff(policy reliability.RetryPolicy) Option {
	return func(b *Broker) {
		b.backoff = policy
	}
}

// WithReplyTTL sets how long an unread reply list survives
func WithReplyTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		if ttl > 0 {
			b.replyTTL = ttl
		}
	}
}

// WithMetricsCollector forwards delivery events to collector
func WithMetricsCollector(collector messaging.MetricsCollector) Option {
	return func(b *Broker) {
		b.recorder = messaging.NewRecorder(collector)
	}
}
