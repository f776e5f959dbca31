// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter, histogram and gauge the worker emits.
type Metrics struct {
	BrokerMessagesConsumed prometheus.Counter
	BrokerReconnects       prometheus.Counter
	BatchSize              prometheus.Histogram
	BatchLatency           prometheus.Histogram
	KNNLatency             prometheus.Histogram
	KNNEmpty               prometheus.Counter
	CallbackAttempts       *prometheus.CounterVec
	CallbackQueueDepth     prometheus.Gauge
	ScoringErrors          prometheus.Counter

	registry *prometheus.Registry
}

// New constructs and registers all metrics against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BrokerMessagesConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Messages consumed from the broker.",
		}),
		BrokerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Broker connection reconnect attempts.",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Number of messages per executed batch.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_latency_seconds",
			Help:    "Time to score one batch end to end.",
			Buckets: prometheus.DefBuckets,
		}),
		KNNLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "knn_latency_seconds",
			Help:    "Vector index KNN query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		KNNEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "knn_empty_total",
			Help: "KNN queries that returned no neighbours.",
		}),
		CallbackAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callback_attempts_total",
			Help: "Callback delivery attempts by outcome.",
		}, []string{"outcome"}),
		CallbackQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callback_queue_depth",
			Help: "Current depth of the callback dispatcher queue.",
		}),
		ScoringErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "scoring_errors_total",
			Help: "Messages that produced an ERROR result envelope.",
		}),
	}
}

// Handler returns the HTTP handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
