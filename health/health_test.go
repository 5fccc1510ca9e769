package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/voicebus/internal/codec"
	"github.com/glimte/voicebus/internal/rabbitmq"
	"github.com/glimte/voicebus/messaging"
)

func staticChecker(name string, status Status) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: status, Timestamp: time.Now()}
	})
}

func TestRegistryCheck(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		{"no checks", nil, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for i, s := range tt.statuses {
				r.Register(staticChecker(string(rune('a'+i)), s))
			}
			report := r.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.statuses))
		})
	}

	t.Run("slow checks time out", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker("fast", StatusHealthy))
		r.Register(NewCheckerFunc("slow", func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		report := r.Check(ctx)

		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, "check timed out", report.Checks["slow"].Message)
	})

	t.Run("unregister and metadata", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker("gone", StatusUnhealthy))
		r.Unregister("gone")
		r.SetMetadata("mode", "local")

		report := r.Check(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Equal(t, "local", report.Metadata["mode"])
	})
}

func TestHandlers(t *testing.T) {
	t.Run("report status codes", func(t *testing.T) {
		for status, code := range map[Status]int{
			StatusHealthy:   http.StatusOK,
			StatusDegraded:  http.StatusOK,
			StatusUnhealthy: http.StatusServiceUnavailable,
		} {
			r := NewRegistry()
			r.Register(staticChecker("x", status))

			rec := httptest.NewRecorder()
			NewHandler(r, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, code, rec.Code, status)

			var report OverallHealth
			require.NoError(t, codec.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, status, report.Status)
		}
	})

	t.Run("rejects other methods", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(NewRegistry(), time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("readiness and liveness", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker("x", StatusUnhealthy))

		rec := httptest.NewRecorder()
		ReadinessHandler(r, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = httptest.NewRecorder()
		LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alive", rec.Body.String())
	})
}

// statsBus is a messaging.Bus whose counters are set by the test
type statsBus struct {
	messaging.Bus
	stats messaging.Stats
}

func (b *statsBus) Stats() messaging.Stats { return b.stats }

func TestCheckers(t *testing.T) {
	t.Run("bus turns degraded on new dead letters", func(t *testing.T) {
		bus := &statsBus{stats: messaging.Stats{Published: 3, DeadLetters: 1}}
		c := NewBusChecker(bus)

		assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

		bus.stats.DeadLetters = 2
		res := c.Check(context.Background())
		assert.Equal(t, StatusDegraded, res.Status)
		assert.Equal(t, uint64(2), res.Details["dead_letters"])

		assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	})

	t.Run("backlog threshold", func(t *testing.T) {
		depths := map[string]int{"worker.job.run": 5}
		c := NewBacklogChecker("backlog", 10, func(ctx context.Context) (map[string]int, error) {
			return depths, nil
		})
		assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

		depths["worker.job.run"] = 11
		assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
	})

	t.Run("backlog errors are unhealthy", func(t *testing.T) {
		c := NewBacklogChecker("backlog", 0, func(ctx context.Context) (map[string]int, error) {
			return nil, errors.New("inspector down")
		})
		res := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, res.Status)
		assert.Equal(t, "inspector down", res.Error)
		assert.Equal(t, DefaultBacklogThreshold, c.threshold)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
		defer client.Close()

		res := NewRedisChecker(client).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, res.Status)
		assert.NotEmpty(t, res.Error)
	})

	t.Run("rabbitmq not connected", func(t *testing.T) {
		manager := rabbitmq.NewConnectionManager("amqp://127.0.0.1:1/",
			rabbitmq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

		res := NewRabbitMQChecker(manager).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, res.Status)
		assert.Contains(t, res.Error, rabbitmq.ErrConnectionNotReady.Error())
	})

	t.Run("goroutine thresholds", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewGoroutineChecker(1_000_000, 2_000_000).Check(context.Background()).Status)
		assert.Equal(t, StatusDegraded, NewGoroutineChecker(0, 1_000_000).Check(context.Background()).Status)
		assert.Equal(t, StatusUnhealthy, NewGoroutineChecker(0, 0).Check(context.Background()).Status)
	})
}
