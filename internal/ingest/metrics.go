package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsProcessed = "ingest_events_processed_total"
	MetricEventsDuplicate = "ingest_events_duplicate_total"
	MetricEventsFailed    = "ingest_events_failed_total"
	MetricEventsMalformed = "ingest_events_malformed_total"
	MetricEventsUnknown   = "ingest_events_unknown_total"
	MetricEmbedFailures   = "ingest_embed_failures_total"
)

// Metrics contains Prometheus metrics for the event ingestor.
// All operations are thread-safe.
type Metrics struct {
	processed  *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	failed     *prometheus.CounterVec
	malformed  prometheus.Counter
	unknown    prometheus.Counter
	embedFails prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsProcessed,
				Help: "Total number of events processed by kind",
			},
			[]string{"kind"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsDuplicate,
				Help: "Total number of redelivered events short-circuited by kind",
			},
			[]string{"kind"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsFailed,
				Help: "Total number of events nacked for redelivery by kind",
			},
			[]string{"kind"},
		),
		malformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricEventsMalformed,
				Help: "Total number of undecodable events dropped",
			},
		),
		unknown: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricEventsUnknown,
				Help: "Total number of events dropped for an unknown kind",
			},
		),
		embedFails: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricEmbedFailures,
				Help: "Total number of embedding computations that failed",
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.processed,
		m.duplicates,
		m.failed,
		m.malformed,
		m.unknown,
		m.embedFails,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncProcessed increments the processed counter for the given event kind.
func (m *Metrics) IncProcessed(kind string) {
	m.processed.WithLabelValues(kind).Inc()
}

// IncDuplicates increments the duplicate counter for the given event kind.
func (m *Metrics) IncDuplicates(kind string) {
	m.duplicates.WithLabelValues(kind).Inc()
}

// IncFailed increments the failed counter for the given event kind.
func (m *Metrics) IncFailed(kind string) {
	m.failed.WithLabelValues(kind).Inc()
}

// IncMalformed increments the malformed-event counter.
func (m *Metrics) IncMalformed() {
	m.malformed.Inc()
}

// IncUnknown increments the unknown-kind counter.
func (m *Metrics) IncUnknown() {
	m.unknown.Inc()
}

// IncEmbedFailures increments the embedding-failure counter.
func (m *Metrics) IncEmbedFailures() {
	m.embedFails.Inc()
}
