package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/ids"
	"github.com/glimte/voicebus/internal/rabbitmq"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
	"github.com/glimte/voicebus/topics"
)

const system = "rabbitmq"

type publishFunc func(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error

// subscription is one Subscribe call
type subscription struct {
	pattern  *topics.Pattern
	handler  messaging.Handler
	eventTag string
}

// commandQueue groups the handlers of one subscribed pattern
type commandQueue struct {
	name    string
	pattern *topics.Pattern
	subs    *messaging.SubscriptionTable
	tag     string
}

// Broker is the RabbitMQ engine
type Broker struct {
	registry *topics.Registry
	validate bool
	logger   *slog.Logger
	backoff  reliability.RetryPolicy
	grace    time.Duration
	prefetch int
	poolSize int
	recorder *messaging.Recorder

	conn      *rabbitmq.ConnectionManager
	pool      *rabbitmq.ChannelPool
	topology  *rabbitmq.TopologyManager
	consumer  *rabbitmq.Consumer
	publish   publishFunc
	pending   *messaging.PendingReplies
	connected atomic.Int32

	mu       sync.Mutex
	subs     []*subscription
	commands map[string]*commandQueue

	started atomic.Bool
	stopped atomic.Bool
	stopCtx context.Context
	stopFn  context.CancelFunc
}

var _ messaging.Bus = (*Broker)(nil)

// New creates a RabbitMQ broker for url. Nothing is dialed until Start.
func New(url string, registry *topics.Registry, opts ...Option) (*Broker, error) {
	if registry == nil {
		registry = topics.NewRegistry()
	}
	stopCtx, stopFn := context.WithCancel(context.Background())
	b := &Broker{
		registry: registry,
		validate: true,
		logger:   slog.Default(),
		backoff:  reliability.CommandBackoff(),
		grace:    DefaultShutdownGrace,
		prefetch: DefaultPrefetch,
		recorder: messaging.NewRecorder(nil),
		pending:  messaging.NewPendingReplies(),
		commands: make(map[string]*commandQueue),
		stopCtx:  stopCtx,
		stopFn:   stopFn,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "amqp-bus")

	var poolOpts []rabbitmq.ChannelPoolOption
	if b.poolSize != 0 {
		poolOpts = append(poolOpts, rabbitmq.WithMaxSize(b.poolSize))
	}
	b.conn = rabbitmq.NewConnectionManager(url, rabbitmq.WithLogger(b.logger))
	pool, err := rabbitmq.NewChannelPool(b.conn, poolOpts...)
	if err != nil {
		stopFn()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}
	b.pool = pool
	b.topology = rabbitmq.NewTopologyManager(b.pool)
	b.consumer = rabbitmq.NewConsumer(b.conn,
		rabbitmq.WithPrefetchCount(b.prefetch),
		rabbitmq.WithConsumerLogger(b.logger))
	b.publish = rabbitmq.NewPublisher(b.pool).Publish
	b.conn.AddStateListener(b)
	return b, nil
}

// Start implements messaging.Bus. It connects, declares the bus topology
// and binds the subscriptions registered so far.
func (b *Broker) Start(ctx context.Context) error {
	if b.stopped.Load() {
		return contracts.ErrBusStopped
	}
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.conn.Connect(ctx); err != nil {
		b.started.Store(false)
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	if err := b.bindAll(ctx); err != nil {
		return err
	}
	b.logger.Info("amqp bus started")
	return nil
}

func (b *Broker) bindAll(ctx context.Context) error {
	if err := b.topology.Declare(ctx, rabbitmq.BusTopology()); err != nil {
		return fmt.Errorf("failed to declare bus topology: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cq := range b.commands {
		if err := b.bindCommands(ctx, cq); err != nil {
			return err
		}
	}
	for _, sub := range b.subs {
		if err := b.bindEvents(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// OnConnected rebinds every subscription after a reconnect
func (b *Broker) OnConnected() {
	if b.connected.Add(1) == 1 || b.stopped.Load() {
		return
	}
	b.logger.Info("rebinding subscriptions after reconnect")

	b.mu.Lock()
	for _, cq := range b.commands {
		_ = b.consumer.Cancel(cq.tag)
		cq.tag = ""
	}
	for _, sub := range b.subs {
		_ = b.consumer.Cancel(sub.eventTag)
		sub.eventTag = ""
	}
	b.mu.Unlock()

	if err := b.bindAll(b.stopCtx); err != nil {
		b.logger.Error("failed to rebind subscriptions", "error", err)
	}
}

// OnDisconnected logs lost connections
func (b *Broker) OnDisconnected(err error) {
	if !b.stopped.Load() {
		b.logger.Warn("rabbitmq connection lost", "error", err)
	}
}

// OnReconnecting is part of rabbitmq.ConnectionStateListener
func (b *Broker) OnReconnecting(attempt int) {}

// Stop implements messaging.Bus. Deliveries still waiting for a retry are
// returned to their queue.
func (b *Broker) Stop(ctx context.Context) error {
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}
	b.logger.Info("stopping amqp bus")
	b.stopFn()

	done := make(chan error, 1)
	go func() { done <- b.consumer.Close() }()

	var errs []error
	timer := time.NewTimer(b.grace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-timer.C:
		b.logger.Warn("consumers still busy after grace period", "grace", b.grace)
	case <-ctx.Done():
	}

	if err := b.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	b.logger.Info("amqp bus stopped")
	return errors.Join(errs...)
}

// Publish implements messaging.Bus
func (b *Broker) Publish(ctx context.Context, topic string, payload any, opts ...messaging.PublishOption) error {
	if b.stopped.Load() {
		return contracts.ErrBusStopped
	}
	if b.validate {
		if err := b.registry.ValidatePublish(topic); err != nil {
			b.logger.Error("topic validation failed for publish", "topic", topic, "error", err)
			return err
		}
	}

	o := messaging.NewPublishOptions(payload, opts...)
	env, err := o.NewEnvelope(topic, payload)
	if err != nil {
		return fmt.Errorf("failed to create envelope: %w", err)
	}
	body, err := contracts.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope for %s: %w", topic, err)
	}

	ctx, span := messaging.StartSpan(ctx, system, "publish", env)
	kind := contracts.KindEvent
	switch {
	case topics.IsReplyTopic(topic):
		// reply queues are named after their topic
		kind = contracts.KindReply
		err = b.publish(ctx, "", topic, newPublishing(env, body, false))
	case o.IsCommand():
		kind = contracts.KindCommand
		msg := newPublishing(env, body, true)
		msg.ReplyTo = env.ReplyTo
		err = b.publish(ctx, rabbitmq.CommandsExchange, topic, msg)
	default:
		err = b.publish(ctx, rabbitmq.EventsExchange, topic, newPublishing(env, body, false))
	}
	messaging.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	b.recorder.Published(topic, kind)
	b.logger.Debug("published message", "topic", topic, "messageId", env.ID, "kind", kind)
	return nil
}

// Subscribe implements messaging.Bus
func (b *Broker) Subscribe(ctx context.Context, pattern string, handler messaging.Handler) error {
	if b.stopped.Load() {
		return contracts.ErrBusStopped
	}
	if handler == nil {
		return fmt.Errorf("subscribe %q: nil handler", pattern)
	}
	if b.validate {
		if err := b.registry.ValidateSubscribe(pattern); err != nil {
			b.logger.Error("topic validation failed for subscription", "pattern", pattern, "error", err)
			return err
		}
	}
	p, err := topics.Compile(pattern)
	if err != nil {
		return &contracts.ValidationError{Topic: pattern, Op: "subscribe to", Reason: err.Error()}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cq, ok := b.commands[pattern]
	if !ok {
		cq = &commandQueue{
			name:    CommandQueueName(pattern),
			pattern: p,
			subs:    messaging.NewSubscriptionTable(),
		}
		b.commands[pattern] = cq
	}
	cq.subs.Add(p, handler)

	sub := &subscription{pattern: p, handler: handler}
	b.subs = append(b.subs, sub)

	if b.started.Load() {
		if err := b.bindCommands(ctx, cq); err != nil {
			return err
		}
		if err := b.bindEvents(ctx, sub); err != nil {
			return err
		}
	}
	b.logger.Debug("subscribed handler", "pattern", pattern, "bindingKey", BindingKey(p))
	return nil
}

// bindCommands must be called with b.mu held
func (b *Broker) bindCommands(ctx context.Context, cq *commandQueue) error {
	if cq.tag != "" {
		return nil
	}
	if _, err := b.topology.DeclareQueue(ctx, rabbitmq.CommandQueue(cq.name)); err != nil {
		return err
	}
	binding := rabbitmq.Binding{Queue: cq.name, Exchange: rabbitmq.CommandsExchange, RoutingKey: BindingKey(cq.pattern)}
	if err := b.topology.Bind(ctx, binding); err != nil {
		return err
	}

	tag := "cmd-" + ids.Short()
	err := b.consumer.Consume(ctx, cq.name, tag, func(ctx context.Context, d amqp091.Delivery) error {
		return b.processCommand(cq, d)
	})
	if err != nil {
		return err
	}
	cq.tag = tag
	return nil
}

// bindEvents must be called with b.mu held
func (b *Broker) bindEvents(ctx context.Context, sub *subscription) error {
	if sub.eventTag != "" {
		return nil
	}
	q, err := b.topology.DeclareQueue(ctx, rabbitmq.EventQueue())
	if err != nil {
		return err
	}
	binding := rabbitmq.Binding{Queue: q.Name, Exchange: rabbitmq.EventsExchange, RoutingKey: BindingKey(sub.pattern)}
	if err := b.topology.Bind(ctx, binding); err != nil {
		return err
	}

	tag := "evt-" + ids.Short()
	err = b.consumer.Consume(ctx, q.Name, tag, func(ctx context.Context, d amqp091.Delivery) error {
		b.processEvent(sub.handler, d)
		return nil
	})
	if err != nil {
		return err
	}
	sub.eventTag = tag
	return nil
}

// Request implements messaging.Bus
func (b *Broker) Request(ctx context.Context, topic string, payload any, opts ...messaging.RequestOption) (contracts.QueryResult, error) {
	if b.stopped.Load() {
		return contracts.QueryResult{}, contracts.ErrBusStopped
	}
	if b.validate {
		if err := b.registry.ValidatePublish(topic); err != nil {
			return contracts.QueryResult{}, err
		}
	}

	o := messaging.NewPublishOptions(payload, opts...)
	correlationID := ids.NewCorrelationID()
	replyTopic := topics.NewReplyTopic(topic)

	ch := b.pending.Register(correlationID)
	if err := b.openReplyQueue(ctx, replyTopic, correlationID); err != nil {
		b.pending.Cancel(correlationID)
		return contracts.QueryResult{}, err
	}
	defer func() {
		if err := b.consumer.Cancel(replyTopic); err != nil {
			b.logger.Warn("failed to close reply queue", "queue", replyTopic, "error", err)
		}
	}()

	opts = append(opts,
		messaging.AsCommand(),
		messaging.WithReplyTo(replyTopic),
		messaging.WithCorrelationID(correlationID))
	if err := b.Publish(ctx, topic, payload, opts...); err != nil {
		b.pending.Cancel(correlationID)
		return contracts.QueryResult{}, err
	}

	result, err := b.pending.Await(ctx, correlationID, ch, o.Timeout)
	if err == nil && !result.OK && result.Error == contracts.TimeoutMessage(o.Timeout) {
		b.logger.Error("request timed out", "topic", topic, "timeout", o.Timeout, "correlationId", correlationID)
	}
	return result, err
}

// openReplyQueue declares an exclusive queue named after the reply topic
// and resolves the pending request from it.
func (b *Broker) openReplyQueue(ctx context.Context, replyTopic, correlationID string) error {
	decl := rabbitmq.QueueDeclaration{Name: replyTopic, Exclusive: true, AutoDelete: true}
	if _, err := b.topology.DeclareQueue(ctx, decl); err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}
	return b.consumer.Consume(ctx, replyTopic, replyTopic, func(ctx context.Context, d amqp091.Delivery) error {
		if d.CorrelationId != "" && d.CorrelationId != correlationID {
			return nil
		}
		env, err := contracts.UnmarshalEnvelope(d.Body)
		if err != nil {
			b.pending.Resolve(correlationID, contracts.Failure(err.Error()))
			return nil
		}
		b.pending.Resolve(correlationID, contracts.QueryResultFrom(env.Payload))
		return nil
	})
}

// Stats implements messaging.Bus. Counters are local to this process.
func (b *Broker) Stats() messaging.Stats {
	return b.recorder.Snapshot()
}

// Registry returns the topic registry used for validation
func (b *Broker) Registry() *topics.Registry {
	return b.registry
}

// Connected reports whether the broker holds a live connection
func (b *Broker) Connected() bool {
	return b.conn.IsConnected()
}

// QueueDepth returns the ready messages of the command queue of pattern
func (b *Broker) QueueDepth(ctx context.Context, pattern string) (int, error) {
	return b.topology.QueueDepth(ctx, CommandQueueName(pattern))
}

// QueueDepths returns the ready messages of every subscribed command queue
func (b *Broker) QueueDepths(ctx context.Context) (map[string]int, error) {
	b.mu.Lock()
	names := make([]string, 0, len(b.commands))
	for _, cq := range b.commands {
		names = append(names, cq.name)
	}
	b.mu.Unlock()

	depths := make(map[string]int, len(names)+1)
	for _, name := range append(names, rabbitmq.DeadLetterQueue) {
		depth, err := b.topology.QueueDepth(ctx, name)
		if err != nil {
			return nil, err
		}
		depths[name] = depth
	}
	return depths, nil
}

// ConnectionManager exposes the underlying connection for health checks
func (b *Broker) ConnectionManager() *rabbitmq.ConnectionManager {
	return b.conn
}
