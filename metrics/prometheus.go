// Package metrics exports bus delivery events. PrometheusCollector feeds a
// Prometheus registry; Summary keeps per-topic latency percentiles in memory
// for the CLI and tests. Both implement messaging.MetricsCollector and can be
// combined with Multi.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/messaging"
)

const (
	namespace = "voicebus"
	subsystem = "bus"
)

// PrometheusCollector records bus events as Prometheus series labelled by topic
type PrometheusCollector struct {
	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec

	registerer prometheus.Registerer
	mu         sync.Mutex
	registered bool
}

var _ messaging.MetricsCollector = (*PrometheusCollector)(nil)

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewPrometheusCollector creates the collector. A nil registerer uses the
// Prometheus default registry.
func NewPrometheusCollector(registerer prometheus.Registerer) *PrometheusCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusCollector{
		registerer:  registerer,
		published:   newCounterVec("published_total", "Messages accepted by Publish.", "topic", "kind"),
		delivered:   newCounterVec("deliveries_total", "Handler invocations by outcome.", "topic", "outcome"),
		retries:     newCounterVec("retries_total", "Commands scheduled for redelivery.", "topic"),
		deadLetters: newCounterVec("dead_letters_total", "Commands moved to the dead-letter store.", "topic", "reason"),
		dropped:     newCounterVec("dropped_total", "Messages discarded before delivery.", "topic", "reason"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handler_duration_seconds",
			Help:      "Handler latency in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"topic"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Messages waiting in a topic queue.",
		}, []string{"topic", "kind"}),
	}
}

// Register registers the collectors. Calling it again is a no-op.
func (c *PrometheusCollector) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		c.published, c.delivered, c.duration, c.retries, c.deadLetters, c.dropped, c.queueDepth,
	}
	for _, col := range collectors {
		if err := c.registerer.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	c.registered = true
	return nil
}

func (c *PrometheusCollector) RecordPublish(topic string, kind contracts.Kind) {
	c.published.WithLabelValues(topic, string(kind)).Inc()
}

func (c *PrometheusCollector) RecordDelivery(topic string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.delivered.WithLabelValues(topic, outcome).Inc()
	c.duration.WithLabelValues(topic).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordRetry(topic string) {
	c.retries.WithLabelValues(topic).Inc()
}

func (c *PrometheusCollector) RecordDeadLetter(topic string, reason string) {
	c.deadLetters.WithLabelValues(topic, reason).Inc()
}

func (c *PrometheusCollector) RecordDrop(topic string, reason string) {
	c.dropped.WithLabelValues(topic, reason).Inc()
}

func (c *PrometheusCollector) SetQueueDepth(topic string, kind contracts.Kind, depth int) {
	c.queueDepth.WithLabelValues(topic, string(kind)).Set(float64(depth))
}

// Handler serves the default Prometheus registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves gatherer
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
