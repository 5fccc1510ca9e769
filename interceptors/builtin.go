package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
)

// Logging logs every delivery with its outcome and duration
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates a logging interceptor. A nil logger uses slog.Default.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

func (i *Logging) Intercept(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error {
	start := time.Now()
	i.logger.Debug("handling message",
		"messageId", env.ID,
		"topic", env.Type,
		"correlationId", env.CorrelationID,
		"attempt", env.Attempts+1)

	err := next.Handle(ctx, env)
	duration := time.Since(start)
	if err != nil {
		i.logger.Error("message handling failed",
			"messageId", env.ID,
			"topic", env.Type,
			"duration", duration,
			"error", err)
		return err
	}
	i.logger.Debug("message handled", "messageId", env.ID, "topic", env.Type, "duration", duration)
	return nil
}

func (i *Logging) Name() string {
	return "logging"
}

// Timeout bounds the handler with a deadline. A handler that ignores its
// context still runs to completion; the chain returns when the deadline hits.
type Timeout struct {
	timeout time.Duration
}

// NewTimeout creates a timeout interceptor
func NewTimeout(timeout time.Duration) *Timeout {
	return &Timeout{timeout: timeout}
}

func (i *Timeout) Intercept(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- next.Handle(ctx, env)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("handling %s timed out after %v: %w", env.ID, i.timeout, ctx.Err())
	}
}

func (i *Timeout) Name() string {
	return "timeout"
}

// Filter drops envelopes the predicate rejects. Dropped envelopes count as
// handled.
type Filter struct {
	name   string
	accept func(env *contracts.Envelope) bool
}

// NewFilter creates a filter interceptor
func NewFilter(name string, accept func(env *contracts.Envelope) bool) *Filter {
	return &Filter{name: name, accept: accept}
}

// SkipOrigin ignores messages that entered the platform through origin
func SkipOrigin(origin contracts.Origin) *Filter {
	return NewFilter("skip-origin:"+string(origin), func(env *contracts.Envelope) bool {
		return env.Origin != origin
	})
}

func (i *Filter) Intercept(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error {
	if !i.accept(env) {
		return nil
	}
	return next.Handle(ctx, env)
}

func (i *Filter) Name() string {
	return i.name
}

// CircuitBreaker stops calling the handler while its dependency is failing.
// Rejections wrap reliability.ErrCircuitOpen and are retryable.
type CircuitBreaker struct {
	breaker *reliability.CircuitBreaker
}

// NewCircuitBreaker opens after failureThreshold consecutive retryable
// failures and probes again once openTimeout has passed.
func NewCircuitBreaker(name string, failureThreshold int, openTimeout time.Duration, opts ...reliability.CircuitBreakerOption) *CircuitBreaker {
	opts = append([]reliability.CircuitBreakerOption{
		reliability.WithFailureThreshold(failureThreshold),
		reliability.WithOpenTimeout(openTimeout),
	}, opts...)
	return &CircuitBreaker{breaker: reliability.NewCircuitBreaker(name, opts...)}
}

func (i *CircuitBreaker) Intercept(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error {
	return i.breaker.Execute(ctx, func() error {
		return next.Handle(ctx, env)
	})
}

func (i *CircuitBreaker) Name() string {
	return "circuit-breaker:" + i.breaker.Name()
}

// State reports the breaker state, e.g. for a health check
func (i *CircuitBreaker) State() reliability.State {
	return i.breaker.State()
}
