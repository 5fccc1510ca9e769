package amqp

import (
	"context"
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/rabbitmq"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
)

const deadLetterTimeout = 5 * time.Second

func (b *Broker) processEvent(handler messaging.Handler, d amqp091.Delivery) {
	env, err := contracts.UnmarshalEnvelope(d.Body)
	if err != nil {
		b.logger.Error("discarding undecodable event", "messageId", d.MessageId, "routingKey", d.RoutingKey, "error", err)
		return
	}
	if env.Expired(time.Now()) {
		b.logger.Debug("dropping expired event", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropExpired)
		return
	}

	ctx, span := messaging.StartSpan(context.Background(), system, "deliver", env)
	started := time.Now()
	result := messaging.Dispatch(ctx, []messaging.Handler{handler}, env)
	b.recorder.Delivered(env.Type, started, result)
	messaging.EndSpan(span, result.Err)

	if result.Err != nil {
		b.logger.Error("event handler failed", "topic", env.Type, "messageId", env.ID, "error", result.Err)
	}
}

// processCommand handles one delivery of a command queue. A nil return acks
// it; retries and dead letters are republished before acking.
func (b *Broker) processCommand(cq *commandQueue, d amqp091.Delivery) error {
	env, err := contracts.UnmarshalEnvelope(d.Body)
	if err != nil {
		b.logger.Error("rejecting undecodable command", "queue", cq.name, "messageId", d.MessageId, "error", err)
		b.recorder.DeadLettered(d.RoutingKey, reliability.ReasonPermanent)
		return fmt.Errorf("decode command: %w", err)
	}
	env.Attempts = attemptsFrom(d.Headers, env.Attempts)

	if env.Expired(time.Now()) {
		b.logger.Warn("dropping expired command", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropExpired)
		return nil
	}

	handlers := cq.subs.Handlers(env.Type)
	if len(handlers) == 0 {
		b.logger.Debug("no handler for command, discarding", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropNoHandler)
		return nil
	}

	ctx, span := messaging.StartSpan(context.Background(), system, "deliver", env)
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

	retry := env.RecordAttempt()
	if !reliability.IsRetryable(result.Err) {
		return b.deadLetter(env, reliability.ReasonPermanent, result.Err)
	}
	if !retry {
		return b.deadLetter(env, reliability.ReasonMaxAttempts, result.Err)
	}

	b.recorder.Retried(env.Type)
	delay := b.backoff.NextDelay(env.Attempts)
	if !reliability.Sleep(b.stopCtx, delay) {
		b.logger.Warn("returning command to its queue on shutdown", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropAbandoned)
		return rabbitmq.ErrRequeue
	}

	body, err := contracts.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	msg := newPublishing(env, body, true)
	msg.ReplyTo = env.ReplyTo
	// the default exchange routes by queue name, so only this queue sees the retry
	if err := b.publish(b.stopCtx, "", cq.name, msg); err != nil {
		b.logger.Error("failed to re-queue command", "topic", env.Type, "messageId", env.ID, "error", err)
		return rabbitmq.ErrRequeue
	}
	b.logger.Info("re-queued command",
		"topic", env.Type,
		"messageId", env.ID,
		"attempt", env.Attempts,
		"maxAttempts", env.MaxAttempts,
		"delay", delay)
	return nil
}

// deadLetter publishes env to the dead-letter exchange. When that fails the
// delivery is rejected, which the queue's own dead-letter arguments route to
// the same place.
func (b *Broker) deadLetter(env *contracts.Envelope, reason string, cause error) error {
	b.recorder.DeadLettered(env.Type, reason)

	body, err := contracts.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	msg := newPublishing(env, body, true)
	msg.Expiration = ""
	msg.Headers[headerReason] = reason
	if cause != nil {
		msg.Headers[headerError] = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadLetterTimeout)
	defer cancel()
	if err := b.publish(ctx, rabbitmq.DeadLetterExchange, rabbitmq.DeadLetterQueue, msg); err != nil {
		b.logger.Error("failed to publish dead letter", "topic", env.Type, "messageId", env.ID, "error", err)
		return fmt.Errorf("dead letter %s: %w", env.ID, err)
	}

	b.logger.Error("command moved to dead-letter queue",
		"topic", env.Type,
		"messageId", env.ID,
		"attempts", env.Attempts,
		"reason", reason)
	return nil
}
