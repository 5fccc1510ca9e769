package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/ids"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
	"github.com/glimte/voicebus/topics"
)

const system = "redis"

// Broker is the Redis-backed engine
type Broker struct {
	registry    *topics.Registry
	validate    bool
	logger      *slog.Logger
	concurrency int
	grace       time.Duration
	backoff     reliability.RetryPolicy
	replyTTL    time.Duration
	recorder    *messaging.Recorder

	redisOpt  asynq.RedisClientOpt
	rdb       *redis.Client
	client    *asynq.Client
	inspector *asynq.Inspector
	popReply  func(ctx context.Context, timeout time.Duration, key string) ([]string, error)

	mu      sync.Mutex
	servers map[string]*commandServer
	events  []*eventSubscription

	started  atomic.Bool
	stopped  atomic.Bool
	eventsWG sync.WaitGroup
}

var _ messaging.Bus = (*Broker)(nil)

// New creates a Redis-backed broker. Connections are opened lazily; Start
// verifies Redis is reachable.
func New(cfg RedisConfig, registry *topics.Registry, opts ...Option) *Broker {
	if registry == nil {
		registry = topics.NewRegistry()
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	b := &Broker{
		registry:    registry,
		validate:    true,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
		grace:       DefaultShutdownGrace,
		backoff:     reliability.CommandBackoff(),
		replyTTL:    DefaultReplyTTL,
		recorder:    messaging.NewRecorder(nil),
		redisOpt:    redisOpt,
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		servers:   make(map[string]*commandServer),
	}
	b.popReply = b.blockingPop
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "redis-bus")
	return b
}

// Start implements messaging.Bus. It checks Redis, then starts the command
// servers and event subscriptions registered so far.
func (b *Broker) Start(ctx context.Context) error {
	if b.stopped.Load() {
		return contracts.ErrBusStopped
	}
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, srv := range b.servers {
		if err := b.startServer(srv); err != nil {
			return err
		}
	}
	for _, sub := range b.events {
		b.startEvents(sub)
	}
	b.logger.Info("redis bus started",
		"addr", b.redisOpt.Addr,
		"servers", len(b.servers),
		"eventSubscriptions", len(b.events))
	return nil
}

// Stop implements messaging.Bus. Active tasks get the shutdown grace to
// finish; unfinished tasks stay in Redis and are picked up again later.
func (b *Broker) Stop(ctx context.Context) error {
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}
	b.logger.Info("stopping redis bus")

	b.mu.Lock()
	servers := make([]*commandServer, 0, len(b.servers))
	for _, srv := range b.servers {
		servers = append(servers, srv)
	}
	events := append([]*eventSubscription(nil), b.events...)
	b.mu.Unlock()

	for _, srv := range servers {
		if srv.running {
			srv.server.Shutdown()
		}
	}

	var errs []error
	for _, sub := range events {
		if sub.pubsub != nil {
			if err := sub.pubsub.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close event subscription %s: %w", sub.pattern, err))
			}
		}
	}
	b.eventsWG.Wait()

	if err := b.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close asynq client: %w", err))
	}
	if err := b.inspector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close asynq inspector: %w", err))
	}
	if err := b.rdb.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis client: %w", err))
	}

	b.logger.Info("redis bus stopped")
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
	data, err := contracts.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope for %s: %w", topic, err)
	}

	ctx, span := messaging.StartSpan(ctx, system, "publish", env)
	switch {
	case topics.IsReplyTopic(topic):
		err = b.publishReply(ctx, env, data)
	case o.IsCommand():
		err = b.publishCommand(ctx, env, data)
	default:
		err = b.publishEvent(ctx, env, data)
	}
	messaging.EndSpan(span, err)
	return err
}

func (b *Broker) publishCommand(ctx context.Context, env *contracts.Envelope, data []byte) error {
	bases := queueBases(env.Type, b.wildcardBases(ctx))
	for _, base := range bases {
		task := asynq.NewTask(TaskCommand, data)
		info, err := b.client.EnqueueContext(ctx, task, taskOptions(base, env)...)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s on %s: %w", env.Type, QueueName(base, env.Priority), err)
		}
		b.logger.Debug("enqueued command",
			"topic", env.Type,
			"messageId", env.ID,
			"queue", info.Queue,
			"taskId", info.ID)
	}
	b.recorder.Published(env.Type, contracts.KindCommand)
	return nil
}

func taskOptions(base string, env *contracts.Envelope) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(QueueName(base, env.Priority)),
		asynq.MaxRetry(env.MaxAttempts - 1),
		asynq.TaskID(env.ID),
	}
	if !env.Deadline.IsZero() {
		opts = append(opts, asynq.Deadline(env.Deadline))
	}
	return opts
}

func (b *Broker) publishEvent(ctx context.Context, env *contracts.Envelope, data []byte) error {
	if err := b.rdb.Publish(ctx, eventChannel(env.Type), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", env.Type, err)
	}
	b.recorder.Published(env.Type, contracts.KindEvent)
	return nil
}

func (b *Broker) publishReply(ctx context.Context, env *contracts.Envelope, data []byte) error {
	if env.CorrelationID == "" {
		return fmt.Errorf("reply to %s has no correlation id", env.Type)
	}
	key := replyKey(env.CorrelationID)
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.Expire(ctx, key, b.replyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push reply %s: %w", env.CorrelationID, err)
	}
	b.recorder.Published(env.Type, contracts.KindReply)
	return nil
}

func (b *Broker) wildcardBases(ctx context.Context) []string {
	bases, err := b.rdb.SMembers(ctx, wildcardBasesKey).Result()
	if err != nil {
		b.logger.Warn("failed to load wildcard bases", "error", err)
		return nil
	}
	return bases
}

// Subscribe implements messaging.Bus. The handler receives commands from
// the asynq queues of the pattern's base and events from Pub/Sub.
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

	base := BaseOf(p)
	if p.IsWildcard() {
		if err := b.rdb.SAdd(ctx, wildcardBasesKey, base).Err(); err != nil {
			return fmt.Errorf("failed to register wildcard base %s: %w", base, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	srv, ok := b.servers[base]
	if !ok {
		srv = b.newServer(base)
		b.servers[base] = srv
	}
	srv.subs.Add(p, handler)

	sub := &eventSubscription{pattern: p, handler: handler}
	b.events = append(b.events, sub)

	if b.started.Load() {
		if err := b.startServer(srv); err != nil {
			return err
		}
		b.startEvents(sub)
	}
	b.logger.Debug("subscribed handler", "pattern", pattern, "base", base)
	return nil
}

// Request implements messaging.Bus
func (b *Broker) Request(ctx context.Context, topic string, payload any, opts ...messaging.RequestOption) (contracts.QueryResult, error) {
	if b.stopped.Load() {
		return contracts.QueryResult{}, contracts.ErrBusStopped
	}
	o := messaging.NewPublishOptions(payload, opts...)
	correlationID := ids.NewCorrelationID()

	opts = append(opts,
		messaging.AsCommand(),
		messaging.WithReplyTo(topics.NewReplyTopic(topic)),
		messaging.WithCorrelationID(correlationID))
	if err := b.Publish(ctx, topic, payload, opts...); err != nil {
		return contracts.QueryResult{}, err
	}
	return b.awaitReply(ctx, topic, correlationID, o.Timeout)
}

type popResult struct {
	values []string
	err    error
}

// awaitReply waits for the reply list of correlationID. BLPOP only blocks in
// whole seconds, so a local timer enforces the exact timeout and a reply
// popped after it fires is dropped.
func (b *Broker) awaitReply(ctx context.Context, topic, correlationID string, timeout time.Duration) (contracts.QueryResult, error) {
	popCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	popped := make(chan popResult, 1)
	go func() {
		values, err := b.popReply(popCtx, timeout, replyKey(correlationID))
		popped <- popResult{values: values, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res popResult
	select {
	case res = <-popped:
	case <-timer.C:
		res.err = redis.Nil
	case <-ctx.Done():
	}

	switch {
	case ctx.Err() != nil:
		return contracts.Failure(ctx.Err().Error()), ctx.Err()
	case errors.Is(res.err, redis.Nil):
		b.logger.Error("request timed out", "topic", topic, "timeout", timeout, "correlationId", correlationID)
		return contracts.Failure(contracts.TimeoutMessage(timeout)), nil
	case res.err != nil:
		return contracts.QueryResult{}, fmt.Errorf("failed to wait for reply to %s: %w", topic, res.err)
	}

	// BLPOP returns the key followed by the value
	env, err := contracts.UnmarshalEnvelope([]byte(res.values[1]))
	if err != nil {
		return contracts.Failure(err.Error()), nil
	}
	return contracts.QueryResultFrom(env.Payload), nil
}

func (b *Broker) blockingPop(ctx context.Context, timeout time.Duration, key string) ([]string, error) {
	return b.rdb.BLPop(ctx, blockSeconds(timeout), key).Result()
}

// blockSeconds rounds timeout up to the whole seconds BLPOP accepts. Zero
// would block forever.
func blockSeconds(timeout time.Duration) time.Duration {
	secs := (timeout + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// Stats implements messaging.Bus. Counters are local to this process.
func (b *Broker) Stats() messaging.Stats {
	return b.recorder.Snapshot()
}

// Registry returns the topic registry used for validation
func (b *Broker) Registry() *topics.Registry {
	return b.registry
}

// Redis returns the underlying client, for health checks
func (b *Broker) Redis() *redis.Client {
	return b.rdb
}
