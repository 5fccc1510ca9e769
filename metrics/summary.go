package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/messaging"
)

const maxSamples = 100

// Summary is an in-memory collector keeping per-topic counts and the last
// handler latencies.
type Summary struct {
	mu        sync.RWMutex
	published map[string]int64
	failures  map[string]map[string]int64
	timings   map[string]*timeStats
	depths    map[string]int
}

type timeStats struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
	samples []int64
}

// ProcessingStats describes the handler latency of one topic
type ProcessingStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

// Snapshot is a copy of a Summary
type Snapshot struct {
	Published   map[string]int64            `json:"published"`
	Failures    map[string]map[string]int64 `json:"failures"`
	Processing  map[string]ProcessingStats  `json:"processing"`
	QueueDepths map[string]int              `json:"queue_depths"`
}

var _ messaging.MetricsCollector = (*Summary)(nil)

// NewSummary creates an empty summary
func NewSummary() *Summary {
	s := &Summary{}
	s.Reset()
	return s
}

func (s *Summary) RecordPublish(topic string, kind contracts.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[topic]++
}

func (s *Summary) RecordDelivery(topic string, duration time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := duration.Milliseconds()
	stats, ok := s.timings[topic]
	if !ok {
		stats = &timeStats{minMs: ms, maxMs: ms, samples: make([]int64, 0, maxSamples)}
		s.timings[topic] = stats
	}
	stats.count++
	stats.totalMs += ms
	stats.minMs = min(stats.minMs, ms)
	stats.maxMs = max(stats.maxMs, ms)
	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, ms)

	if !success {
		s.fail(topic, "handler_error")
	}
}

func (s *Summary) RecordRetry(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail(topic, "retry")
}

func (s *Summary) RecordDeadLetter(topic string, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail(topic, "dead_letter:"+reason)
}

func (s *Summary) RecordDrop(topic string, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail(topic, "drop:"+reason)
}

func (s *Summary) SetQueueDepth(topic string, kind contracts.Kind, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depths[string(kind)+":"+topic] = depth
}

// fail must be called with s.mu held
func (s *Summary) fail(topic, kind string) {
	if s.failures[topic] == nil {
		s.failures[topic] = make(map[string]int64)
	}
	s.failures[topic][kind]++
}

// Snapshot copies the current state
func (s *Summary) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Published:   make(map[string]int64, len(s.published)),
		Failures:    make(map[string]map[string]int64, len(s.failures)),
		Processing:  make(map[string]ProcessingStats, len(s.timings)),
		QueueDepths: make(map[string]int, len(s.depths)),
	}
	for topic, n := range s.published {
		snap.Published[topic] = n
	}
	for topic, kinds := range s.failures {
		snap.Failures[topic] = make(map[string]int64, len(kinds))
		for k, n := range kinds {
			snap.Failures[topic][k] = n
		}
	}
	for topic, stats := range s.timings {
		ps := ProcessingStats{Count: stats.count, MinMs: stats.minMs, MaxMs: stats.maxMs}
		if stats.count > 0 {
			ps.AvgMs = stats.totalMs / stats.count
		}
		sorted := append([]int64(nil), stats.samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		ps.P50Ms = percentile(sorted, 0.50)
		ps.P95Ms = percentile(sorted, 0.95)
		ps.P99Ms = percentile(sorted, 0.99)
		snap.Processing[topic] = ps
	}
	for k, d := range s.depths {
		snap.QueueDepths[k] = d
	}
	return snap
}

// Reset clears everything
func (s *Summary) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = make(map[string]int64)
	s.failures = make(map[string]map[string]int64)
	s.timings = make(map[string]*timeStats)
	s.depths = make(map[string]int)
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

// Multi fans every event out to several collectors
type Multi []messaging.MetricsCollector

var _ messaging.MetricsCollector = Multi(nil)

func (m Multi) RecordPublish(topic string, kind contracts.Kind) {
	for _, c := range m {
		c.RecordPublish(topic, kind)
	}
}

func (m Multi) RecordDelivery(topic string, duration time.Duration, success bool) {
	for _, c := range m {
		c.RecordDelivery(topic, duration, success)
	}
}

func (m Multi) RecordRetry(topic string) {
	for _, c := range m {
		c.RecordRetry(topic)
	}
}

func (m Multi) RecordDeadLetter(topic string, reason string) {
	for _, c := range m {
		c.RecordDeadLetter(topic, reason)
	}
}

func (m Multi) RecordDrop(topic string, reason string) {
	for _, c := range m {
		c.RecordDrop(topic, reason)
	}
}

func (m Multi) SetQueueDepth(topic string, kind contracts.Kind, depth int) {
	for _, c := range m {
		c.SetQueueDepth(topic, kind, depth)
	}
}
