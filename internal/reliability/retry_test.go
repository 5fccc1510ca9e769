package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			shouldRetry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, shouldRetry)
			assert.Greater(t, delay, time.Duration(0))
		}

		shouldRetry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, shouldRetry)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("ShouldRetry skips permanent errors", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)
		shouldRetry, _ := eb.ShouldRetry(0, Permanent(errors.New("bad payload")))
		assert.False(t, shouldRetry)
	})

	t.Run("command backoff follows the bus formula", func(t *testing.T) {
		eb := CommandBackoff()

		tests := []struct {
			attempts int
			expected time.Duration
		}{
			{0, 250 * time.Millisecond},
			{1, 500 * time.Millisecond},
			{2, 1 * time.Second},
			{3, 2 * time.Second},
			{5, 8 * time.Second},
			{6, 10 * time.Second},
			{60, 10 * time.Second},
			{5000, 10 * time.Second},
		}

		for _, tt := range tests {
			assert.Equal(t, tt.expected, eb.NextDelay(tt.attempts), "attempts=%d", tt.attempts)
		}
	})

	t.Run("jitter stays within 15 percent", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, 10*time.Second, 2.0, 5)
		eb.Jitter = true
		for i := 0; i < 100; i++ {
			d := eb.NextDelay(0)
			assert.GreaterOrEqual(t, d, 850*time.Millisecond)
			assert.LessOrEqual(t, d, 1150*time.Millisecond)
		}
	})
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls int32
		policy := NewExponentialBackoff(time.Millisecond, 5*time.Millisecond, 2.0, 5)

		err := Retry(context.Background(), policy, func() error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Millisecond, time.Millisecond, 1.0, 2)
		err := Retry(context.Background(), policy, func() error {
			return errors.New("still down")
		})
		assert.EqualError(t, err, "still down")
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		var calls int32
		policy := NewExponentialBackoff(time.Millisecond, time.Millisecond, 1.0, 10)
		err := Retry(context.Background(), policy, func() error {
			atomic.AddInt32(&calls, 1)
			return Permanent(errors.New("bad credentials"))
		})
		assert.Error(t, err)
		assert.False(t, IsRetryable(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, CommandBackoff(), func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSleep(t *testing.T) {
	assert.True(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
}

func TestRetryError(t *testing.T) {
	cause := errors.New("speaker offline")
	err := &RetryError{Topic: "TTS.Request", Attempts: 3, MaxAttempts: 3, LastError: cause}

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3/3")
}
