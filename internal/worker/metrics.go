package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "rag_sync"

type Metrics struct {
	MessagesReceived prometheus.Counter
	MessagesAcked    prometheus.Counter
	PoisonMessages   prometheus.Counter
	RecordsIndexed   prometheus.Counter
	BatchFailures    *prometheus.CounterVec
	LoopErrors       prometheus.Counter
	BatchDuration    prometheus.Histogram
}

// NewMetrics registers the worker metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Stream messages read by the consumer.",
		}),
		MessagesAcked: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_acked_total",
			Help:      "Stream messages acknowledged.",
		}),
		PoisonMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "poison_messages_total",
			Help:      "Messages dropped because their payload could not be parsed.",
		}),
		RecordsIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_indexed_total",
			Help:      "Chunk records written to the vector store.",
		}),
		BatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_failures_total",
			Help:      "Batches left unacknowledged, by failing stage.",
		}, []string{"stage"}),
		LoopErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "loop_errors_total",
			Help:      "Consumer loop iterations that ended in an error.",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one batch, from assembly to acknowledgment.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}
