package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
)

// commandServer consumes the band queues of one base
type commandServer struct {
	base    string
	subs    *messaging.SubscriptionTable
	server  *asynq.Server
	running bool
}

func (b *Broker) newServer(base string) *commandServer {
	srv := &commandServer{
		base: base,
		subs: messaging.NewSubscriptionTable(),
	}
	srv.server = asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency:     b.concurrency,
		Queues:          serverQueues(base),
		StrictPriority:  true,
		RetryDelayFunc:  b.retryDelay,
		ErrorHandler:    asynq.ErrorHandlerFunc(b.handleTaskError),
		ShutdownTimeout: b.grace,
		Logger:          newAsynqLogger(b.logger),
		LogLevel:        asynq.WarnLevel,
	})
	return srv
}

// startServer must be called with b.mu held
func (b *Broker) startServer(srv *commandServer) error {
	if srv.running {
		return nil
	}
	handler := asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		return b.processTask(ctx, srv.subs, task)
	})
	if err := srv.server.Start(handler); err != nil {
		return fmt.Errorf("failed to start command server for %s: %w", srv.base, err)
	}
	srv.running = true
	b.logger.Info("command server started",
		"base", srv.base,
		"queues", BandQueues(srv.base),
		"concurrency", b.concurrency)
	return nil
}

func (b *Broker) processTask(ctx context.Context, subs *messaging.SubscriptionTable, task *asynq.Task) error {
	env, err := contracts.UnmarshalEnvelope(task.Payload())
	if err != nil {
		b.logger.Error("discarding malformed command task", "type", task.Type(), "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	env.Attempts = retried
	env.MaxAttempts = maxRetry + 1

	return b.deliverCommand(ctx, subs, env)
}

// deliverCommand runs the handlers of subs that match env. A permanent
// failure is marked so asynq archives the task without retrying.
func (b *Broker) deliverCommand(ctx context.Context, subs *messaging.SubscriptionTable, env *contracts.Envelope) error {
	if env.Expired(time.Now()) {
		b.logger.Warn("dropping expired command", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropExpired)
		return nil
	}

	handlers := subs.Handlers(env.Type)
	if len(handlers) == 0 {
		b.logger.Debug("no handler for command, discarding", "topic", env.Type, "messageId", env.ID)
		return nil
	}

	ctx, span := messaging.StartSpan(ctx, system, "deliver", env)
	started := time.Now()
	result := messaging.Dispatch(ctx, handlers, env)
	b.recorder.Delivered(env.Type, started, result)
	messaging.EndSpan(span, result.Err)

	if result.Err == nil {
		return nil
	}
	b.logger.Error("command delivery failed",
		"topic", env.Type,
		"messageId", env.ID,
		"attempt", env.Attempts+1,
		"maxAttempts", env.MaxAttempts,
		"error", result.Err)

	if !reliability.IsRetryable(result.Err) {
		return fmt.Errorf("%w: %w", result.Err, asynq.SkipRetry)
	}
	return result.Err
}

// retryDelay applies the command backoff; n counts the retries so far
func (b *Broker) retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return b.backoff.NextDelay(n + 1)
}

// handleTaskError runs after every failed attempt
func (b *Broker) handleTaskError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	topic := task.Type()
	if env, decodeErr := contracts.UnmarshalEnvelope(task.Payload()); decodeErr == nil {
		topic = env.Type
	}

	reason, dead := deadLetterReason(retried, maxRetry, err)
	if !dead {
		b.recorder.Retried(topic)
		return
	}
	b.recorder.DeadLettered(topic, reason)
	b.logger.Error("command archived as dead letter",
		"topic", topic,
		"attempts", retried+1,
		"reason", reason,
		"error", err)
}

// deadLetterReason reports whether a failed attempt was the last one
func deadLetterReason(retried, maxRetry int, err error) (string, bool) {
	if errors.Is(err, asynq.SkipRetry) {
		return reliability.ReasonPermanent, true
	}
	if retried >= maxRetry {
		return reliability.ReasonMaxAttempts, true
	}
	return "", false
}
