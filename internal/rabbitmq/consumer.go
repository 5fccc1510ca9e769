package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultPrefetch = 10

// ErrRequeue makes the consumer return a delivery to its queue
var ErrRequeue = errors.New("rabbitmq: requeue delivery")

// MessageHandler processes a delivery. A nil error acks it and ErrRequeue
// requeues it; any other error rejects it without requeue, which routes it
// to the queue's dead-letter exchange if it has one.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer runs queue consumers, each on its own channel
type Consumer struct {
	manager  *ConnectionManager
	prefetch int
	logger   *slog.Logger

	mu        sync.Mutex
	consumers map[string]*activeConsumer
	closed    bool
}

type activeConsumer struct {
	queue   string
	tag     string
	channel *amqp.Channel
	done    chan struct{}
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the per-channel prefetch
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetch = count
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer on manager's connection
func NewConsumer(manager *ConnectionManager, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		manager:   manager,
		prefetch:  defaultPrefetch,
		logger:    slog.Default(),
		consumers: make(map[string]*activeConsumer),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Consume starts delivering messages of queue to handler under tag.
// Deliveries are handled one at a time in arrival order. The consumer
// outlives ctx, which only bounds setup.
func (c *Consumer) Consume(ctx context.Context, queue, tag string, handler MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	if _, exists := c.consumers[tag]; exists {
		return &ConsumerError{Queue: queue, Op: "consume", Err: fmt.Errorf("duplicate consumer tag %s", tag), Timestamp: time.Now()}
	}

	conn, err := c.manager.Connection()
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}
	ch, err := conn.Channel()
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "open channel", Err: err, Timestamp: time.Now()}
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return &ConsumerError{Queue: queue, Op: "set qos", Err: err, Timestamp: time.Now()}
	}
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return &ConsumerError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	ac := &activeConsumer{queue: queue, tag: tag, channel: ch, done: make(chan struct{})}
	c.consumers[tag] = ac
	go c.run(ac, deliveries, handler)

	c.logger.Debug("consuming queue", "queue", queue, "consumerTag", tag, "prefetch", c.prefetch)
	return nil
}

func (c *Consumer) run(ac *activeConsumer, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	defer close(ac.done)
	for d := range deliveries {
		if err := handler(context.Background(), d); err != nil {
			requeue := errors.Is(err, ErrRequeue)
			if !requeue {
				c.logger.Error("rejecting message", "queue", ac.queue, "messageId", d.MessageId, "error", err)
			}
			if nackErr := d.Nack(false, requeue); nackErr != nil {
				c.logger.Error("failed to nack message", "queue", ac.queue, "error", nackErr)
			}
			continue
		}
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack message", "queue", ac.queue, "error", err)
		}
	}
	c.logger.Debug("consumer stopped", "queue", ac.queue, "consumerTag", ac.tag)
}

// Cancel stops the consumer with tag and waits for its in-flight delivery
func (c *Consumer) Cancel(tag string) error {
	c.mu.Lock()
	ac, ok := c.consumers[tag]
	delete(c.consumers, tag)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.stop(ac)
}

func (c *Consumer) stop(ac *activeConsumer) error {
	err := ac.channel.Cancel(ac.tag, false)
	<-ac.done
	if closeErr := ac.channel.Close(); err == nil && closeErr != nil && closeErr != amqp.ErrClosed {
		err = closeErr
	}
	return err
}

// Close cancels every consumer
func (c *Consumer) Close() error {
	c.mu.Lock()
	c.closed = true
	consumers := c.consumers
	c.consumers = make(map[string]*activeConsumer)
	c.mu.Unlock()

	var firstErr error
	for _, ac := range consumers {
		if err := c.stop(ac); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Active returns the number of running consumers
func (c *Consumer) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}
