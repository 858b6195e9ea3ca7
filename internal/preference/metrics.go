package preference

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricPreferenceReadsTotal      = "preference_reads_total"
	MetricPreferenceRecomputes      = "preference_recomputes_total"
	MetricPreferenceCacheErrors     = "preference_cache_errors_total"
	MetricPreferenceStalePopulates  = "preference_stale_populates_dropped_total"
	MetricPreferenceStaleRecomputes = "preference_stale_recomputes_retried_total"
)

// Read outcome constants for labeling.
const (
	ReadOutcomeCacheHit     = "cache_hit"
	ReadOutcomeStoreHit     = "store_hit"
	ReadOutcomeNoPreference = "no_preference"
	ReadOutcomeRecomputed   = "recomputed"
)

// Recompute trigger constants for labeling.
const (
	TriggerRead       = "read"
	TriggerInvalidate = "invalidate"
)

// Metrics contains Prometheus metrics for the preference cache engine.
// All operations are thread-safe.
type Metrics struct {
	reads           *prometheus.CounterVec
	recomputes      *prometheus.CounterVec
	cacheErrors     *prometheus.CounterVec
	stalePopulates  prometheus.Counter
	staleRecomputes prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPreferenceReadsTotal,
				Help: "Total number of preference reads by outcome",
			},
			[]string{"outcome"},
		),
		recomputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPreferenceRecomputes,
				Help: "Total number of preference recomputations by trigger",
			},
			[]string{"trigger"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPreferenceCacheErrors,
				Help: "Total number of fast-cache failures by operation",
			},
			[]string{"op"},
		),
		stalePopulates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPreferenceStalePopulates,
				Help: "Total number of cache populates dropped because an invalidation superseded them",
			},
		),
		staleRecomputes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPreferenceStaleRecomputes,
				Help: "Total number of recomputations retried because an invalidation superseded them before the durable write",
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.reads,
		m.recomputes,
		m.cacheErrors,
		m.stalePopulates,
		m.staleRecomputes,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncReads increments the read counter for the given outcome.
func (m *Metrics) IncReads(outcome string) {
	m.reads.WithLabelValues(outcome).Inc()
}

// IncRecomputes increments the recompute counter for the given trigger.
func (m *Metrics) IncRecomputes(trigger string) {
	m.recomputes.WithLabelValues(trigger).Inc()
}

// IncCacheErrors increments the cache failure counter for the given operation.
func (m *Metrics) IncCacheErrors(op string) {
	m.cacheErrors.WithLabelValues(op).Inc()
}

// IncStalePopulates increments the dropped-populate counter.
func (m *Metrics) IncStalePopulates() {
	m.stalePopulates.Inc()
}

// IncStaleRecomputes increments the retried-recompute counter.
func (m *Metrics) IncStaleRecomputes() {
	m.staleRecomputes.Inc()
}
