package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCandidatesSkipped = "ranking_candidates_skipped_total"
	MetricFallbacks         = "ranking_popularity_fallbacks_total"
)

// Skip reason constants for labeling.
const (
	SkipNoEmbedding       = "no_embedding"
	SkipDimensionMismatch = "dimension_mismatch"
	SkipBelowThreshold    = "below_threshold"
)

// Metrics contains Prometheus metrics for the ranking engine.
// All operations are thread-safe.
type Metrics struct {
	skipped   *prometheus.CounterVec
	fallbacks prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCandidatesSkipped,
				Help: "Total number of ranking candidates skipped by reason",
			},
			[]string{"reason"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricFallbacks,
				Help: "Total number of rank calls served by the popularity fallback",
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.skipped, m.fallbacks} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSkipped increments the skipped-candidate counter for the given reason.
func (m *Metrics) IncSkipped(reason string) {
	m.skipped.WithLabelValues(reason).Inc()
}

// IncFallbacks increments the popularity-fallback counter.
func (m *Metrics) IncFallbacks() {
	m.fallbacks.Inc()
}
