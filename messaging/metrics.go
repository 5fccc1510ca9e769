package messaging

import (
	"sync/atomic"
	"time"

	"github.com/glimte/voicebus/contracts"
)

// MetricsCollector receives delivery events from the engines
type MetricsCollector interface {
	// RecordPublish records an accepted publish
	RecordPublish(topic string, kind contracts.Kind)

	// RecordDelivery records one handler invocation
	RecordDelivery(topic string, duration time.Duration, success bool)

	// RecordRetry records a command scheduled for redelivery
	RecordRetry(topic string)

	// RecordDeadLetter records a command that exhausted its attempts
	RecordDeadLetter(topic string, reason string)

	// RecordDrop records a message discarded before delivery
	RecordDrop(topic string, reason string)

	// SetQueueDepth reports the current backlog of a topic queue
	SetQueueDepth(topic string, kind contracts.Kind, depth int)
}

// Drop reasons
const (
	DropQueueFull = "queue_full"
	DropExpired   = "expired"
	DropAbandoned = "abandoned"
	DropNoHandler = "no_handler"
)

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordPublish(topic string, kind contracts.Kind)                   {}
func (NoOpMetricsCollector) RecordDelivery(topic string, duration time.Duration, success bool) {}
func (NoOpMetricsCollector) RecordRetry(topic string)                                          {}
func (NoOpMetricsCollector) RecordDeadLetter(topic string, reason string)                      {}
func (NoOpMetricsCollector) RecordDrop(topic string, reason string)                            {}
func (NoOpMetricsCollector) SetQueueDepth(topic string, kind contracts.Kind, depth int)        {}

// Recorder keeps the Stats counters of an engine and forwards every event
// to a MetricsCollector.
type Recorder struct {
	published   atomic.Uint64
	delivered   atomic.Uint64
	retries     atomic.Uint64
	deadLetters atomic.Uint64
	dropped     atomic.Uint64
	expired     atomic.Uint64
	abandoned   atomic.Uint64

	collector MetricsCollector
}

// NewRecorder creates a recorder. A nil collector is replaced by a no-op.
func NewRecorder(collector MetricsCollector) *Recorder {
	if collector == nil {
		collector = NoOpMetricsCollector{}
	}
	return &Recorder{collector: collector}
}

func (r *Recorder) Published(topic string, kind contracts.Kind) {
	r.published.Add(1)
	r.collector.RecordPublish(topic, kind)
}

// Delivered records the outcome of a dispatch. Only successful handler
// invocations count as delivered.
func (r *Recorder) Delivered(topic string, started time.Time, result DispatchResult) {
	elapsed := time.Since(started)
	if result.Succeeded > 0 {
		r.delivered.Add(uint64(result.Succeeded))
	}
	for i := 0; i < result.Succeeded; i++ {
		r.collector.RecordDelivery(topic, elapsed, true)
	}
	for i := 0; i < result.Failed; i++ {
		r.collector.RecordDelivery(topic, elapsed, false)
	}
}

func (r *Recorder) Retried(topic string) {
	r.retries.Add(1)
	r.collector.RecordRetry(topic)
}

func (r *Recorder) DeadLettered(topic, reason string) {
	r.deadLetters.Add(1)
	r.collector.RecordDeadLetter(topic, reason)
}

// Dropped records a discarded message; expired and abandoned messages are
// counted separately from queue overflow.
func (r *Recorder) Dropped(topic, reason string) {
	switch reason {
	case DropExpired:
		r.expired.Add(1)
	case DropAbandoned:
		r.abandoned.Add(1)
	default:
		r.dropped.Add(1)
	}
	r.collector.RecordDrop(topic, reason)
}

func (r *Recorder) QueueDepth(topic string, kind contracts.Kind, depth int) {
	r.collector.SetQueueDepth(topic, kind, depth)
}

// Snapshot returns the current counters
func (r *Recorder) Snapshot() Stats {
	return Stats{
		Published:   r.published.Load(),
		Delivered:   r.delivered.Load(),
		Retries:     r.retries.Load(),
		DeadLetters: r.deadLetters.Load(),
		Dropped:     r.dropped.Load(),
		Expired:     r.expired.Load(),
		Abandoned:   r.abandoned.Load(),
	}
}
