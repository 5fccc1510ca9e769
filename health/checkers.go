package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glimte/voicebus/internal/rabbitmq"
	"github.com/glimte/voicebus/messaging"
)

// DefaultBacklogThreshold is the queue depth above which a backlog check
// reports degraded
const DefaultBacklogThreshold = 10000

func newResult(name string) (CheckResult, time.Time) {
	start := time.Now()
	return CheckResult{Name: name, Timestamp: start, Details: make(map[string]any)}, start
}

func fail(result CheckResult, start time.Time, message string, err error) CheckResult {
	result.Status = StatusUnhealthy
	result.Message = message
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	return result
}

// RabbitMQChecker checks the AMQP connection by opening a channel and
// passively declaring a built-in exchange
type RabbitMQChecker struct {
	manager *rabbitmq.ConnectionManager
}

func NewRabbitMQChecker(manager *rabbitmq.ConnectionManager) *RabbitMQChecker {
	return &RabbitMQChecker{manager: manager}
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	result, start := newResult(c.Name())

	conn, err := c.manager.Connection()
	if err != nil {
		return fail(result, start, "no connection", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return fail(result, start, "failed to open channel", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclarePassive("amq.direct", "direct", true, false, false, false, nil); err != nil {
		result.Status = StatusDegraded
		result.Message = "exchange check failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "connection is healthy"
	}
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// RedisChecker pings the Redis server backing the distributed broker
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	result, start := newResult(c.Name())

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fail(result, start, "ping failed", err)
	}
	result.Status = StatusHealthy
	result.Message = "ping ok"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// BusChecker reports the delivery counters of a bus. It turns degraded when
// dead letters or drops grew since the previous check.
type BusChecker struct {
	bus messaging.Bus

	mu   sync.Mutex
	last messaging.Stats
}

func NewBusChecker(bus messaging.Bus) *BusChecker {
	return &BusChecker{bus: bus, last: bus.Stats()}
}

func (c *BusChecker) Name() string {
	return "bus"
}

func (c *BusChecker) Check(ctx context.Context) CheckResult {
	result, start := newResult(c.Name())

	stats := c.bus.Stats()
	result.Details["published"] = stats.Published
	result.Details["delivered"] = stats.Delivered
	result.Details["retries"] = stats.Retries
	result.Details["dead_letters"] = stats.DeadLetters
	result.Details["dropped"] = stats.Dropped

	c.mu.Lock()
	newDead := stats.DeadLetters - c.last.DeadLetters
	newDropped := stats.Dropped - c.last.Dropped
	c.last = stats
	c.mu.Unlock()

	switch {
	case newDead > 0 || newDropped > 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d new dead letters, %d new drops", newDead, newDropped)
	default:
		result.Status = StatusHealthy
		result.Message = "delivering"
	}
	result.Duration = time.Since(start)
	return result
}

// BacklogChecker compares queue depths reported by depths against a threshold
type BacklogChecker struct {
	name      string
	depths    func(ctx context.Context) (map[string]int, error)
	threshold int
}

func NewBacklogChecker(name string, threshold int, depths func(ctx context.Context) (map[string]int, error)) *BacklogChecker {
	if threshold <= 0 {
		threshold = DefaultBacklogThreshold
	}
	return &BacklogChecker{name: name, depths: depths, threshold: threshold}
}

func (c *BacklogChecker) Name() string {
	return c.name
}

func (c *BacklogChecker) Check(ctx context.Context) CheckResult {
	result, start := newResult(c.Name())

	depths, err := c.depths(ctx)
	if err != nil {
		return fail(result, start, "failed to read queue depths", err)
	}

	result.Status = StatusHealthy
	result.Message = "backlog within limits"
	for queue, depth := range depths {
		result.Details[queue] = depth
		if depth > c.threshold {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("queue %s has %d waiting messages", queue, depth)
		}
	}
	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker flags goroutine leaks, such as workers left behind by
// abandoned topics
type GoroutineChecker struct {
	warn     int
	critical int
}

func NewGoroutineChecker(warn, critical int) *GoroutineChecker {
	return &GoroutineChecker{warn: warn, critical: critical}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	result, start := newResult(c.Name())

	n := runtime.NumGoroutine()
	result.Details["goroutines"] = n
	switch {
	case n > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", n)
	case n > c.warn:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", n)
	default:
		result.Status = StatusHealthy
		result.Message = "goroutine count is normal"
	}
	result.Duration = time.Since(start)
	return result
}
