package amqp

import (
	"context"
	"errors"
	"fmt"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/rabbitmq"
)

var errDeadLettersDrained = errors.New("dead-letter queue drained")

// RequeueDeadLetters moves up to limit commands from the dead-letter queue
// back to the commands exchange with their attempts reset. A limit <= 0
// moves the messages queued when the call started. Commands whose deadline
// passed are requeued too and expire on delivery.
func (b *Broker) RequeueDeadLetters(ctx context.Context, limit int) (int, error) {
	if b.stopped.Load() {
		return 0, contracts.ErrBusStopped
	}
	if limit <= 0 {
		depth, err := b.topology.QueueDepth(ctx, rabbitmq.DeadLetterQueue)
		if err != nil {
			return 0, err
		}
		limit = depth
	}

	moved := 0
	for moved < limit {
		err := b.pool.Execute(ctx, func(ch *amqp091.Channel) error {
			d, ok, err := ch.Get(rabbitmq.DeadLetterQueue, false)
			if err != nil {
				return fmt.Errorf("get dead letter: %w", err)
			}
			if !ok {
				return errDeadLettersDrained
			}
			if err := b.requeue(ctx, d.Body); err != nil {
				// back to the head of the queue for a later attempt
				_ = d.Nack(false, true)
				return err
			}
			return d.Ack(false)
		})
		if errors.Is(err, errDeadLettersDrained) {
			break
		}
		if err != nil {
			return moved, err
		}
		moved++
	}

	b.logger.Info("requeued dead letters", "count", moved)
	return moved, nil
}

func (b *Broker) requeue(ctx context.Context, body []byte) error {
	env, err := contracts.UnmarshalEnvelope(body)
	if err != nil {
		return fmt.Errorf("undecodable dead letter: %w", err)
	}
	env.Attempts = 0

	data, err := contracts.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope %s: %w", env.ID, err)
	}
	msg := newPublishing(env, data, true)
	msg.ReplyTo = env.ReplyTo
	if err := b.publish(ctx, rabbitmq.CommandsExchange, env.Type, msg); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", env.ID, err)
	}
	b.logger.Debug("requeued dead letter", "topic", env.Type, "messageId", env.ID)
	return nil
}
