package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/messaging"
	"github.com/glimte/voicebus/topics"
)

const (
	topicWork    = "worker.job.run"
	topicOther   = "worker.job.cancel"
	topicEvent   = "session.user.joined"
	topicDouble  = "math.double"
	topicNoReply = "math.silent"
)

type doubleRequest struct {
	contracts.QueryMessage
	Value int `json:"value"`
}

type joinedEvent struct {
	contracts.EventMessage
	User string `json:"user"`
}

func newTestRegistry(t *testing.T) *topics.Registry {
	t.Helper()
	r := topics.NewRegistry(topics.WithLogger(quietLogger()))
	require.NoError(t, r.RegisterTopic(topicWork, "worker", contracts.KindCommand, "", "runs a job"))
	require.NoError(t, r.RegisterTopic(topicOther, "worker", contracts.KindCommand, "", "cancels a job"))
	require.NoError(t, r.RegisterTopic(topicEvent, "session", contracts.KindEvent, "", "user joined"))
	require.NoError(t, r.RegisterTopic(topicDouble, "math", contracts.KindQuery, "", "doubles a value"))
	require.NoError(t, r.RegisterTopic(topicNoReply, "math", contracts.KindQuery, "", "never answers"))
	return r
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackoff() reliability.RetryPolicy {
	return reliability.NewExponentialBackoff(time.Millisecond, 5*time.Millisecond, 2, math.MaxInt32)
}

func newTestBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithBackoff(fastBackoff())}, opts...)
	b := New(newTestRegistry(t), opts...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(context.Background())
	})
	return b
}

// recorder collects payload markers in delivery order
type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.items = append(r.items, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func TestBrokerEvents(t *testing.T) {
	t.Run("delivers events to every subscriber in FIFO order", func(t *testing.T) {
		b := newTestBroker(t)
		first, second := &recorder{}, &recorder{}

		require.NoError(t, b.Subscribe(context.Background(), topicEvent, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			first.add(env.Payload.(string))
			return nil
		})))
		require.NoError(t, b.Subscribe(context.Background(), topicEvent, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			second.add(env.Payload.(string))
			return nil
		})))

		for _, s := range []string{"a", "b", "c", "d"} {
			require.NoError(t, b.Publish(context.Background(), topicEvent, s))
		}

		assert.Eventually(t, func() bool { return first.count() == 4 && second.count() == 4 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"a", "b", "c", "d"}, first.snapshot())
		assert.Equal(t, []string{"a", "b", "c", "d"}, second.snapshot())
		assert.Equal(t, uint64(4), b.Stats().Published)
		assert.Equal(t, uint64(8), b.Stats().Delivered)
	})

	t.Run("typed event payload is routed as event", func(t *testing.T) {
		b := newTestBroker(t)
		got := make(chan joinedEvent, 1)

		require.NoError(t, b.Subscribe(context.Background(), topicEvent, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			var evt joinedEvent
			if err := contracts.DecodePayload(env, &evt); err != nil {
				return err
			}
			got <- evt
			return nil
		})))
		require.NoError(t, b.Publish(context.Background(), topicEvent, joinedEvent{User: "ada"}))

		select {
		case evt := <-got:
			assert.Equal(t, "ada", evt.User)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	})

	t.Run("wildcard subscription receives matching topics", func(t *testing.T) {
		b := newTestBroker(t)
		rec := &recorder{}

		require.NoError(t, b.Subscribe(context.Background(), "worker.**", messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			rec.add(env.Type)
			return nil
		})))
		require.NoError(t, b.Publish(context.Background(), topicWork, "x"))
		require.NoError(t, b.Publish(context.Background(), topicOther, "y"))
		require.NoError(t, b.Publish(context.Background(), topicEvent, "z"))

		assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.ElementsMatch(t, []string{topicWork, topicOther}, rec.snapshot())
	})

	t.Run("overflowing event queue drops without error", func(t *testing.T) {
		b := newTestBroker(t, WithEventQueueSize(1))
		gate := make(chan struct{})
		started := make(chan struct{}, 1)

		require.NoError(t, b.Subscribe(context.Background(), topicEvent, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-gate
			return nil
		})))

		require.NoError(t, b.Publish(context.Background(), topicEvent, "busy"))
		<-started
		require.NoError(t, b.Publish(context.Background(), topicEvent, "queued"))
		require.NoError(t, b.Publish(context.Background(), topicEvent, "dropped"))
		close(gate)

		stats := b.Stats()
		assert.Equal(t, uint64(1), stats.Dropped)
		assert.Equal(t, uint64(3), stats.Published)
	})

	t.Run("failing event handler does not stop other subscribers", func(t *testing.T) {
		b := newTestBroker(t)
		rec := &recorder{}

		require.NoError(t, b.Subscribe(context.Background(), topicEvent, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			return errors.New("boom")
		})))
		require.NoError(t, b.Subscribe(context.Background(), topicEvent, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			rec.add("ok")
			return nil
		})))
		require.NoError(t, b.Publish(context.Background(), topicEvent, "x"))

		assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, uint64(0), b.Stats().Retries)
	})
}

func TestBrokerCommands(t *testing.T) {
	t.Run("higher priority commands are delivered first with FIFO ties", func(t *testing.T) {
		b := newTestBroker(t)
		rec := &recorder{}
		gate := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once

		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			once.Do(func() {
				close(started)
				<-gate
			})
			rec.add(env.Payload.(string))
			return nil
		})))

		require.NoError(t, b.Publish(context.Background(), topicWork, "blocker", messaging.AsCommand()))
		<-started
		require.NoError(t, b.Publish(context.Background(), topicWork, "low", messaging.AsCommand(), messaging.WithPriority(80)))
		require.NoError(t, b.Publish(context.Background(), topicWork, "high-1", messaging.AsCommand(), messaging.WithPriority(10)))
		require.NoError(t, b.Publish(context.Background(), topicWork, "normal", messaging.AsCommand()))
		require.NoError(t, b.Publish(context.Background(), topicWork, "high-2", messaging.AsCommand(), messaging.WithPriority(10)))
		close(gate)

		assert.Eventually(t, func() bool { return rec.count() == 5 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"blocker", "high-1", "high-2", "normal", "low"}, rec.snapshot())
	})

	t.Run("full command queue rejects publish", func(t *testing.T) {
		b := newTestBroker(t, WithCommandQueueSize(1))
		gate := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once

		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			once.Do(func() {
				close(started)
				<-gate
			})
			return nil
		})))

		require.NoError(t, b.Publish(context.Background(), topicWork, "busy", messaging.AsCommand()))
		<-started
		require.NoError(t, b.Publish(context.Background(), topicWork, "queued", messaging.AsCommand()))

		err := b.Publish(context.Background(), topicWork, "rejected", messaging.AsCommand())
		require.Error(t, err)
		assert.ErrorIs(t, err, contracts.ErrQueueFull)

		var full *contracts.QueueFullError
		require.ErrorAs(t, err, &full)
		assert.Equal(t, topicWork, full.Topic)
		assert.Equal(t, 1, full.Capacity)
		assert.Equal(t, uint64(2), b.Stats().Published)
		close(gate)
	})

	t.Run("failed command is retried then dead lettered", func(t *testing.T) {
		b := newTestBroker(t)
		var calls atomic.Int32

		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls.Add(1)
			return errors.New("still broken")
		})))
		require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand()))

		assert.Eventually(t, func() bool { return b.DeadLetters().Len() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(contracts.DefaultMaxAttempts), calls.Load())

		stats := b.Stats()
		assert.Equal(t, uint64(2), stats.Retries)
		assert.Equal(t, uint64(1), stats.DeadLetters)

		letters, err := b.DeadLetters().List(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, letters, 1)
		assert.Equal(t, reliability.ReasonMaxAttempts, letters[0].Reason)
		assert.Equal(t, contracts.DefaultMaxAttempts, letters[0].Envelope.Attempts)
		assert.Contains(t, letters[0].Error, "still broken")
	})

	t.Run("command succeeding on retry is not dead lettered", func(t *testing.T) {
		b := newTestBroker(t)
		var calls atomic.Int32
		done := make(chan struct{})

		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			if calls.Add(1) < 2 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})))
		require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand()))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("command not redelivered")
		}
		assert.Equal(t, uint64(1), b.Stats().Retries)
		assert.Equal(t, 0, b.DeadLetters().Len())
	})

	t.Run("fails twice then succeeds with the command backoff", func(t *testing.T) {
		if testing.Short() {
			t.Skip("waits for the real backoff")
		}
		b := New(newTestRegistry(t), WithLogger(quietLogger()))
		require.NoError(t, b.Start(context.Background()))
		t.Cleanup(func() { _ = b.Stop(context.Background()) })

		var calls atomic.Int32
		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			if calls.Add(1) <= 2 {
				return errors.New("transient")
			}
			return nil
		})))

		start := time.Now()
		require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand(), messaging.WithMaxAttempts(3)))

		assert.Eventually(t, func() bool { return b.Stats().Delivered == 1 }, 5*time.Second, 10*time.Millisecond)
		backoff := reliability.CommandBackoff()
		assert.GreaterOrEqual(t, time.Since(start), backoff.NextDelay(1)+backoff.NextDelay(2))

		stats := b.Stats()
		assert.Equal(t, uint64(2), stats.Retries)
		assert.Equal(t, uint64(0), stats.DeadLetters)
		assert.Equal(t, uint64(1), stats.Delivered)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 0, b.DeadLetters().Len())
	})

	t.Run("unreliable command gets a single attempt", func(t *testing.T) {
		b := newTestBroker(t)
		var calls atomic.Int32

		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls.Add(1)
			return errors.New("nope")
		})))
		require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand(), messaging.WithReliable(false)))

		assert.Eventually(t, func() bool { return b.DeadLetters().Len() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, uint64(0), b.Stats().Retries)
	})

	t.Run("permanent failure skips retries", func(t *testing.T) {
		b := newTestBroker(t)
		var calls atomic.Int32

		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls.Add(1)
			return reliability.Permanent(errors.New("bad input"))
		})))
		require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand(), messaging.WithMaxAttempts(5)))

		assert.Eventually(t, func() bool { return b.DeadLetters().Len() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())

		letters, err := b.DeadLetters().List(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, reliability.ReasonPermanent, letters[0].Reason)
	})

	t.Run("expired command is dropped", func(t *testing.T) {
		b := newTestBroker(t)
		gate := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once
		rec := &recorder{}

		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			once.Do(func() {
				close(started)
				<-gate
			})
			rec.add(env.Payload.(string))
			return nil
		})))

		require.NoError(t, b.Publish(context.Background(), topicWork, "blocker", messaging.AsCommand()))
		<-started
		require.NoError(t, b.Publish(context.Background(), topicWork, "stale", messaging.AsCommand(), messaging.WithTTL(time.Millisecond)))
		time.Sleep(10 * time.Millisecond)
		close(gate)

		assert.Eventually(t, func() bool { return b.Stats().Expired == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"blocker"}, rec.snapshot())
	})

	t.Run("command without handler is discarded", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.Publish(context.Background(), topicOther, "lost", messaging.AsCommand()))

		assert.Eventually(t, func() bool { return b.QueueDepths()[topicOther] == 0 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, b.DeadLetters().Len())
	})

	t.Run("handlers of one topic run concurrently", func(t *testing.T) {
		b := newTestBroker(t)
		var wg sync.WaitGroup
		wg.Add(2)
		release := make(chan struct{})

		for i := 0; i < 2; i++ {
			require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
				wg.Done()
				<-release
				return nil
			})))
		}
		require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand()))

		waited := make(chan struct{})
		go func() {
			wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(time.Second):
			t.Fatal("handlers did not run concurrently")
		}
		close(release)
	})
}

func TestBrokerRequest(t *testing.T) {
	t.Run("returns the handler reply", func(t *testing.T) {
		b := newTestBroker(t)

		require.NoError(t, b.Subscribe(context.Background(), topicDouble, messaging.QueryHandler(b, func(ctx context.Context, env *contracts.Envelope) (any, error) {
			var req doubleRequest
			if err := contracts.DecodePayload(env, &req); err != nil {
				return nil, err
			}
			return map[string]int{"value": req.Value * 2}, nil
		})))

		result, err := b.Request(context.Background(), topicDouble, doubleRequest{Value: 21})
		require.NoError(t, err)
		require.True(t, result.OK, result.Error)

		var out struct {
			Value int `json:"value"`
		}
		require.NoError(t, result.Decode(&out))
		assert.Equal(t, 42, out.Value)
	})

	t.Run("handler error becomes failed result", func(t *testing.T) {
		b := newTestBroker(t)

		require.NoError(t, b.Subscribe(context.Background(), topicDouble, messaging.QueryHandler(b, func(ctx context.Context, env *contracts.Envelope) (any, error) {
			return nil, errors.New("cannot double")
		})))

		result, err := b.Request(context.Background(), topicDouble, doubleRequest{Value: 1})
		require.NoError(t, err)
		assert.False(t, result.OK)
		assert.Equal(t, "cannot double", result.Error)
	})

	t.Run("times out with a failed result", func(t *testing.T) {
		b := newTestBroker(t)

		require.NoError(t, b.Subscribe(context.Background(), topicNoReply, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			return nil
		})))

		result, err := b.Request(context.Background(), topicNoReply, "ping", messaging.WithTimeout(30*time.Millisecond))
		require.NoError(t, err)
		assert.False(t, result.OK)
		assert.Equal(t, contracts.TimeoutMessage(30*time.Millisecond), result.Error)
	})

	t.Run("no subscriber times out after the timeout", func(t *testing.T) {
		b := newTestBroker(t)

		start := time.Now()
		result, err := b.Request(context.Background(), topicNoReply, map[string]string{"q": "hi"}, messaging.WithTimeout(200*time.Millisecond))
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.False(t, result.OK)
		assert.Equal(t, contracts.TimeoutMessage(200*time.Millisecond), result.Error)
		assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
		assert.Less(t, elapsed, 600*time.Millisecond)
	})

	t.Run("late reply is dropped", func(t *testing.T) {
		b := newTestBroker(t)
		replied := make(chan struct{})

		require.NoError(t, b.Subscribe(context.Background(), topicDouble, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			time.Sleep(60 * time.Millisecond)
			err := messaging.Reply(ctx, b, env, contracts.Success("late"))
			close(replied)
			return err
		})))

		result, err := b.Request(context.Background(), topicDouble, "x", messaging.WithTimeout(20*time.Millisecond))
		require.NoError(t, err)
		assert.False(t, result.OK)

		<-replied
		assert.Eventually(t, func() bool { return b.Stats().Dropped == 1 }, time.Second, 5*time.Millisecond)
		_, open := b.QueueDepths()[topics.NewReplyTopic(topicDouble)]
		assert.False(t, open)
	})

	t.Run("rejects unregistered topics", func(t *testing.T) {
		b := newTestBroker(t)

		_, err := b.Request(context.Background(), "math.tripl", 1)
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("cancelled context ends the wait", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.Subscribe(context.Background(), topicNoReply, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			return nil
		})))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := b.Request(ctx, topicNoReply, "ping", messaging.WithTimeout(time.Second))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestBrokerValidation(t *testing.T) {
	b := newTestBroker(t)
	noop := messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error { return nil })

	t.Run("publish to unknown topic suggests similar topics", func(t *testing.T) {
		err := b.Publish(context.Background(), "worker.job.rn", "x")
		require.Error(t, err)

		var verr *contracts.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Similar, topicWork)
	})

	t.Run("publish to wildcard is rejected", func(t *testing.T) {
		err := b.Publish(context.Background(), "worker.*.run", "x")
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("subscribe to pattern matching registered topics", func(t *testing.T) {
		assert.NoError(t, b.Subscribe(context.Background(), "worker.*.run", noop))
		assert.NoError(t, b.Subscribe(context.Background(), "**.run", noop))
	})

	t.Run("subscribe to pattern matching nothing", func(t *testing.T) {
		assert.ErrorIs(t, b.Subscribe(context.Background(), "billing.*", noop), contracts.ErrValidation)
	})

	t.Run("disabled validation accepts any topic", func(t *testing.T) {
		open := newTestBroker(t, WithValidation(false))
		rec := &recorder{}
		require.NoError(t, open.Subscribe(context.Background(), "anything.goes", messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			rec.add("hit")
			return nil
		})))
		require.NoError(t, open.Publish(context.Background(), "anything.goes", "x"))
		assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("nil handler is rejected", func(t *testing.T) {
		assert.Error(t, b.Subscribe(context.Background(), topicWork, nil))
	})
}

func TestBrokerStop(t *testing.T) {
	t.Run("abandons queued commands", func(t *testing.T) {
		b := New(newTestRegistry(t), WithLogger(quietLogger()), WithShutdownGrace(20*time.Millisecond))
		require.NoError(t, b.Start(context.Background()))

		gate := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once
		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			once.Do(func() { close(started) })
			<-gate
			return nil
		})))

		require.NoError(t, b.Publish(context.Background(), topicWork, "running", messaging.AsCommand()))
		<-started
		require.NoError(t, b.Publish(context.Background(), topicWork, "queued-1", messaging.AsCommand()))
		require.NoError(t, b.Publish(context.Background(), topicWork, "queued-2", messaging.AsCommand()))

		require.NoError(t, b.Stop(context.Background()))
		close(gate)

		assert.Equal(t, uint64(2), b.Stats().Abandoned)
		assert.True(t, b.IsStopped())
	})

	t.Run("abandons a command waiting for retry", func(t *testing.T) {
		slow := reliability.NewExponentialBackoff(time.Hour, time.Hour, 2, math.MaxInt32)
		b := New(newTestRegistry(t), WithLogger(quietLogger()), WithBackoff(slow))
		require.NoError(t, b.Start(context.Background()))

		var calls atomic.Int32
		require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			calls.Add(1)
			return errors.New("fail")
		})))
		require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand()))
		assert.Eventually(t, func() bool { return b.Stats().Retries == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, b.Stop(context.Background()))
		assert.Equal(t, uint64(1), b.Stats().Abandoned)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rejects work after stop", func(t *testing.T) {
		b := New(newTestRegistry(t), WithLogger(quietLogger()))
		require.NoError(t, b.Start(context.Background()))
		require.NoError(t, b.Stop(context.Background()))
		require.NoError(t, b.Stop(context.Background()))

		noop := messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error { return nil })
		assert.ErrorIs(t, b.Publish(context.Background(), topicWork, "x"), contracts.ErrBusStopped)
		assert.ErrorIs(t, b.Subscribe(context.Background(), topicWork, noop), contracts.ErrBusStopped)
		_, err := b.Request(context.Background(), topicDouble, 1)
		assert.ErrorIs(t, err, contracts.ErrBusStopped)
		assert.ErrorIs(t, b.Start(context.Background()), contracts.ErrBusStopped)
	})
}

func TestBrokerMetricsCollector(t *testing.T) {
	collector := &countingCollector{}
	b := newTestBroker(t, WithMetricsCollector(collector))
	done := make(chan struct{})

	require.NoError(t, b.Subscribe(context.Background(), topicWork, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
		close(done)
		return nil
	})))
	require.NoError(t, b.Publish(context.Background(), topicWork, "job", messaging.AsCommand()))
	<-done

	assert.Eventually(t, func() bool { return collector.deliveries.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), collector.publishes.Load())
}

type countingCollector struct {
	messaging.NoOpMetricsCollector
	publishes  atomic.Int32
	deliveries atomic.Int32
}

func (c *countingCollector) RecordPublish(topic string, kind contracts.Kind) {
	c.publishes.Add(1)
}

func (c *countingCollector) RecordDelivery(topic string, duration time.Duration, success bool) {
	c.deliveries.Add(1)
}
