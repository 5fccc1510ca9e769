package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/ids"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
	"github.com/glimte/voicebus/topics"
)

const system = "local"

// Broker is the in-process engine
type Broker struct {
	registry         *topics.Registry
	validate         bool
	logger           *slog.Logger
	commandQueueSize int
	eventQueueSize   int
	grace            time.Duration
	backoff          reliability.RetryPolicy
	deadLetters      reliability.DeadLetterStore
	recorder         *messaging.Recorder

	subs    *messaging.SubscriptionTable
	pending *messaging.PendingReplies

	mu            sync.Mutex
	commandQueues map[string]*commandQueue
	eventQueues   map[string]*eventQueue

	seq     atomic.Uint64
	started atomic.Bool
	stopped atomic.Bool
	workers sync.WaitGroup

	// runCtx is cancelled by Stop and governs worker loops and backoff
	// sleeps. Handlers get handlerCtx, which Stop never cancels.
	runCtx     context.Context
	stopRun    context.CancelFunc
	handlerCtx context.Context
}

var _ messaging.Bus = (*Broker)(nil)

// New creates a local broker validating topics against registry. A nil
// registry is replaced by an empty one, which only makes sense together
// with WithValidation(false).
func New(registry *topics.Registry, opts ...Option) *Broker {
	if registry == nil {
		registry = topics.NewRegistry()
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	b := &Broker{
		registry:         registry,
		validate:         true,
		logger:           slog.Default(),
		commandQueueSize: DefaultCommandQueueSize,
		eventQueueSize:   DefaultEventQueueSize,
		grace:            DefaultShutdownGrace,
		backoff:          reliability.CommandBackoff(),
		deadLetters:      reliability.NewMemoryDeadLetterStore(),
		recorder:         messaging.NewRecorder(nil),
		subs:             messaging.NewSubscriptionTable(),
		pending:          messaging.NewPendingReplies(),
		commandQueues:    make(map[string]*commandQueue),
		eventQueues:      make(map[string]*eventQueue),
		runCtx:           runCtx,
		stopRun:          stopRun,
		handlerCtx:       context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "local-bus")
	return b
}

// Start implements messaging.Bus. Workers start lazily, so Start only
// marks the broker as running.
func (b *Broker) Start(ctx context.Context) error {
	if b.stopped.Load() {
		return contracts.ErrBusStopped
	}
	if b.started.CompareAndSwap(false, true) {
		b.logger.Info("local bus started",
			"commandQueueSize", b.commandQueueSize,
			"eventQueueSize", b.eventQueueSize,
			"validateTopics", b.validate)
	}
	return nil
}

// Stop implements messaging.Bus. It waits up to the grace period for busy
// workers to finish their current delivery, then abandons queued work.
func (b *Broker) Stop(ctx context.Context) error {
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}
	b.logger.Info("stopping local bus")
	b.stopRun()

	// no worker may be added once Wait starts
	b.mu.Lock()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(b.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		b.logger.Warn("workers still busy after grace period", "grace", b.grace)
	case <-ctx.Done():
	}

	abandoned := b.abandonQueued()
	b.logger.Info("local bus stopped", "abandoned", abandoned)
	return nil
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

	_, span := messaging.StartSpan(ctx, system, "publish", env)
	if o.IsCommand() {
		err = b.publishCommand(env)
	} else {
		err = b.publishEvent(env)
	}
	messaging.EndSpan(span, err)
	return err
}

func (b *Broker) publishCommand(env *contracts.Envelope) error {
	q, err := b.commandQueue(env.Type)
	if err != nil {
		return err
	}
	env.Sequence = b.seq.Add(1)
	if err := q.push(env, false); err != nil {
		b.logger.Error("command queue full, cannot publish",
			"topic", env.Type,
			"messageId", env.ID,
			"capacity", b.commandQueueSize)
		return err
	}

	b.recorder.Published(env.Type, contracts.KindCommand)
	b.recorder.QueueDepth(env.Type, contracts.KindCommand, q.len())
	b.logger.Debug("published command",
		"topic", env.Type,
		"messageId", env.ID,
		"priority", env.Priority)
	return nil
}

func (b *Broker) publishEvent(env *contracts.Envelope) error {
	var q *eventQueue
	if topics.IsReplyTopic(env.Type) {
		// replies only go to requests that are still waiting
		q = b.existingEventQueue(env.Type)
		if q == nil {
			b.logger.Debug("dropping reply for finished request",
				"topic", env.Type,
				"correlationId", env.CorrelationID)
			b.recorder.Dropped(env.Type, messaging.DropNoHandler)
			return nil
		}
	} else {
		var err error
		if q, err = b.eventQueue(env.Type); err != nil {
			return err
		}
	}

	b.recorder.Published(env.Type, contracts.KindEvent)
	if !q.offer(env) {
		b.logger.Warn("event queue full, dropping message",
			"topic", env.Type,
			"messageId", env.ID,
			"capacity", b.eventQueueSize)
		b.recorder.Dropped(env.Type, messaging.DropQueueFull)
		return nil
	}
	b.recorder.QueueDepth(env.Type, contracts.KindEvent, len(q.ch))
	b.logger.Debug("published event", "topic", env.Type, "messageId", env.ID)
	return nil
}

// Subscribe implements messaging.Bus
func (b *Broker) Subscribe(ctx context.Context, pattern string, handler messaging.Handler) error {
	_, err := b.subscribe(pattern, handler)
	return err
}

func (b *Broker) subscribe(pattern string, handler messaging.Handler) (uint64, error) {
	if b.stopped.Load() {
		return 0, contracts.ErrBusStopped
	}
	if handler == nil {
		return 0, fmt.Errorf("subscribe %q: nil handler", pattern)
	}
	if b.validate {
		if err := b.registry.ValidateSubscribe(pattern); err != nil {
			b.logger.Error("topic validation failed for subscription", "pattern", pattern, "error", err)
			return 0, err
		}
	}

	p, err := topics.Compile(pattern)
	if err != nil {
		return 0, &contracts.ValidationError{Topic: pattern, Op: "subscribe to", Reason: err.Error()}
	}

	if !p.IsWildcard() {
		if _, err := b.eventQueue(pattern); err != nil {
			return 0, err
		}
	}
	id := b.subs.Add(p, handler)
	b.logger.Debug("subscribed handler", "pattern", pattern)
	return id, nil
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
	subID, err := b.subscribe(replyTopic, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
		if env.CorrelationID != "" && env.CorrelationID != correlationID {
			return nil
		}
		b.pending.Resolve(correlationID, contracts.QueryResultFrom(env.Payload))
		return nil
	}))
	if err != nil {
		b.pending.Cancel(correlationID)
		return contracts.QueryResult{}, err
	}
	defer b.releaseReplyTopic(replyTopic, subID)

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

// Stats implements messaging.Bus
func (b *Broker) Stats() messaging.Stats {
	return b.recorder.Snapshot()
}

// DeadLetters returns the store holding exhausted commands
func (b *Broker) DeadLetters() reliability.DeadLetterStore {
	return b.deadLetters
}

// Registry returns the topic registry used for validation
func (b *Broker) Registry() *topics.Registry {
	return b.registry
}

// QueueDepths returns the number of queued commands and events per topic
func (b *Broker) QueueDepths() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	depths := make(map[string]int)
	for topic, q := range b.commandQueues {
		depths[topic] += q.len()
	}
	for topic, q := range b.eventQueues {
		depths[topic] += len(q.ch)
	}
	return depths
}

func (b *Broker) commandQueue(topic string) (*commandQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.commandQueues[topic]; ok {
		return q, nil
	}
	if b.stopped.Load() {
		return nil, contracts.ErrBusStopped
	}
	q := newCommandQueue(topic, b.commandQueueSize)
	b.commandQueues[topic] = q
	b.workers.Add(1)
	go b.runCommandWorker(q)
	b.logger.Info("command worker started", "topic", topic)
	return q, nil
}

func (b *Broker) eventQueue(topic string) (*eventQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.eventQueues[topic]; ok {
		return q, nil
	}
	if b.stopped.Load() {
		return nil, contracts.ErrBusStopped
	}
	q := newEventQueue(topic, b.eventQueueSize)
	b.eventQueues[topic] = q
	b.workers.Add(1)
	go b.runEventWorker(q)
	b.logger.Debug("event worker started", "topic", topic)
	return q, nil
}

func (b *Broker) existingEventQueue(topic string) *eventQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventQueues[topic]
}

func (b *Broker) releaseReplyTopic(topic string, subID uint64) {
	b.subs.Remove(subID)

	b.mu.Lock()
	q, ok := b.eventQueues[topic]
	delete(b.eventQueues, topic)
	b.mu.Unlock()

	if ok {
		q.release()
	}
}

func (b *Broker) runEventWorker(q *eventQueue) {
	defer b.workers.Done()

	for {
		select {
		case <-b.runCtx.Done():
			return
		case <-q.done:
			return
		case env := <-q.ch:
			b.deliverEvent(env)
		}
	}
}

func (b *Broker) deliverEvent(env *contracts.Envelope) {
	if env.Expired(time.Now()) {
		b.logger.Debug("dropping expired event", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropExpired)
		return
	}

	handlers := b.subs.Handlers(env.Type)
	if len(handlers) == 0 {
		return
	}

	ctx, span := messaging.StartSpan(b.handlerCtx, system, "deliver", env)
	started := time.Now()
	result := messaging.Dispatch(ctx, handlers, env)
	b.recorder.Delivered(env.Type, started, result)
	messaging.EndSpan(span, result.Err)

	if result.Err != nil {
		b.logger.Error("event handler failed",
			"topic", env.Type,
			"messageId", env.ID,
			"failed", result.Failed,
			"error", result.Err)
	}
}

func (b *Broker) runCommandWorker(q *commandQueue) {
	defer b.workers.Done()

	for {
		env, ok := q.next(b.runCtx)
		if !ok {
			return
		}
		b.recorder.QueueDepth(q.topic, contracts.KindCommand, q.len())
		b.deliverCommand(q, env)
	}
}

func (b *Broker) deliverCommand(q *commandQueue, env *contracts.Envelope) {
	if env.Expired(time.Now()) {
		b.logger.Warn("dropping expired command", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropExpired)
		return
	}

	handlers := b.subs.Handlers(env.Type)
	if len(handlers) == 0 {
		b.logger.Debug("no handler for command, discarding", "topic", env.Type, "messageId", env.ID)
		return
	}

	ctx, span := messaging.StartSpan(b.handlerCtx, system, "deliver", env)
	started := time.Now()
	result := messaging.Dispatch(ctx, handlers, env)
	b.recorder.Delivered(env.Type, started, result)
	messaging.EndSpan(span, result.Err)

	if result.Err == nil {
		return
	}

	b.logger.Error("command delivery failed",
		"topic", env.Type,
		"messageId", env.ID,
		"attempt", env.Attempts+1,
		"maxAttempts", env.MaxAttempts,
		"error", result.Err)

	retry := env.RecordAttempt()
	if !reliability.IsRetryable(result.Err) {
		b.deadLetter(env, reliability.ReasonPermanent, result.Err)
		return
	}
	if !retry {
		b.deadLetter(env, reliability.ReasonMaxAttempts, result.Err)
		return
	}

	b.recorder.Retried(env.Type)
	delay := b.backoff.NextDelay(env.Attempts)
	if !reliability.Sleep(b.runCtx, delay) {
		b.logger.Warn("abandoning command waiting for retry", "topic", env.Type, "messageId", env.ID)
		b.recorder.Dropped(env.Type, messaging.DropAbandoned)
		return
	}

	_ = q.push(env, true)
	b.logger.Info("re-queued command",
		"topic", env.Type,
		"messageId", env.ID,
		"attempt", env.Attempts,
		"maxAttempts", env.MaxAttempts,
		"delay", delay)
}

func (b *Broker) deadLetter(env *contracts.Envelope, reason string, cause error) {
	b.recorder.DeadLettered(env.Type, reason)
	if err := b.deadLetters.Store(context.Background(), reliability.NewDeadLetter(env, reason, cause)); err != nil {
		b.logger.Error("failed to store dead letter", "topic", env.Type, "messageId", env.ID, "error", err)
	}
	b.logger.Error("command moved to dead-letter store",
		"topic", env.Type,
		"messageId", env.ID,
		"attempts", env.Attempts,
		"reason", reason)
}

func (b *Broker) abandonQueued() int {
	b.mu.Lock()
	var abandoned []*contracts.Envelope
	for _, q := range b.commandQueues {
		abandoned = append(abandoned, q.drain()...)
	}
	for _, q := range b.eventQueues {
		abandoned = append(abandoned, q.drain()...)
	}
	b.mu.Unlock()

	for _, env := range abandoned {
		b.recorder.Dropped(env.Type, messaging.DropAbandoned)
		b.logger.Warn("abandoning queued message",
			"topic", env.Type,
			"messageId", env.ID,
			"error", contracts.ErrBusStopped)
	}
	return len(abandoned)
}

// IsStopped reports whether Stop has been called
func (b *Broker) IsStopped() bool {
	return b.stopped.Load()
}
