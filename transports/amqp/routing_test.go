package amqp

import (
	"testing"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/topics"
)

func TestBindingKey(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"worker.job.run", "worker.job.run"},
		{"worker.*.run", "worker.*.run"},
		{"worker.**", "worker.#"},
		{"**.run", "#.run"},
		{"a.**.b.*", "a.#.b.*"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, BindingKey(topics.MustCompile(tt.pattern)))
		})
	}
}

func TestPriority(t *testing.T) {
	assert.Equal(t, uint8(9), Priority(0))
	assert.Equal(t, uint8(9), Priority(9))
	assert.Equal(t, uint8(4), Priority(contracts.DefaultPriority))
	assert.Equal(t, uint8(0), Priority(99))
	assert.Equal(t, uint8(0), Priority(500), "out of range priorities are clamped")
	assert.Equal(t, uint8(9), Priority(-3))
}

func TestCommandQueueName(t *testing.T) {
	assert.Equal(t, "voicebus.cmd.worker.**", CommandQueueName("worker.**"))
}

func TestNewPublishing(t *testing.T) {
	t.Run("copies envelope metadata", func(t *testing.T) {
		env, err := contracts.NewEnvelope("worker.job.run", "x",
			contracts.WithCorrelationID("corr"),
			contracts.WithPriority(10),
			contracts.WithMaxAttempts(4))
		require.NoError(t, err)
		env.Attempts = 2

		msg := newPublishing(env, []byte("{}"), true)
		assert.Equal(t, env.ID, msg.MessageId)
		assert.Equal(t, "corr", msg.CorrelationId)
		assert.Equal(t, "worker.job.run", msg.Type)
		assert.Equal(t, uint8(8), msg.Priority)
		assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)
		assert.Equal(t, int32(2), msg.Headers[headerAttempts])
		assert.Equal(t, int32(4), msg.Headers[headerMaxAttempts])
		assert.Empty(t, msg.Expiration)
	})

	t.Run("sets expiration from the deadline", func(t *testing.T) {
		env, err := contracts.NewEnvelope("worker.job.run", "x", contracts.WithTTL(time.Minute))
		require.NoError(t, err)

		msg := newPublishing(env, nil, false)
		assert.NotEmpty(t, msg.Expiration)
		assert.Equal(t, uint8(0), msg.DeliveryMode)
	})

	t.Run("past deadline still yields a positive expiration", func(t *testing.T) {
		env, err := contracts.NewEnvelope("worker.job.run", "x", contracts.WithDeadline(time.Now().Add(-time.Second)))
		require.NoError(t, err)

		assert.Equal(t, "1", newPublishing(env, nil, false).Expiration)
	})
}

func TestAttemptsFrom(t *testing.T) {
	assert.Equal(t, 3, attemptsFrom(amqp091.Table{headerAttempts: int32(3)}, 0))
	assert.Equal(t, 4, attemptsFrom(amqp091.Table{headerAttempts: int64(4)}, 0))
	assert.Equal(t, 1, attemptsFrom(amqp091.Table{headerAttempts: "two"}, 1))
	assert.Equal(t, 2, attemptsFrom(nil, 2))
}
