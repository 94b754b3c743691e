// Package metrics holds the Prometheus collectors of the fusion engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SimilarityComparisons *prometheus.CounterVec
	SimilarityEarlyExits  *prometheus.CounterVec
	EntitiesMerged        *prometheus.CounterVec
	Links                 *prometheus.CounterVec
	SoftFailures          *prometheus.CounterVec
	RunDuration           prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SimilarityComparisons: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_similarity_comparisons_total",
				Help: "Similarity computations by entity type and deciding stage",
			},
			[]string{"entity_type", "stage"},
		),
		SimilarityEarlyExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_similarity_early_exits_total",
				Help: "Similarity computations that stopped before the last stage",
			},
			[]string{"entity_type"},
		),
		EntitiesMerged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_entities_merged_total",
				Help: "Entities absorbed into a canonical entity",
			},
			[]string{"entity_type", "source"},
		),
		Links: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_links_total",
				Help: "Link decisions by link type",
			},
			[]string{"link_type"},
		),
		SoftFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_soft_failures_total",
				Help: "Candidate lookups that failed and degraded to no match",
			},
			[]string{"stage"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusion_run_duration_seconds",
				Help:    "Duration of cross-document fusion runs",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
	}
}

func (m *Metrics) Comparison(entityType, stage string) {
	if m == nil {
		return
	}
	m.SimilarityComparisons.WithLabelValues(entityType, stage).Inc()
}

func (m *Metrics) EarlyExit(entityType string) {
	if m == nil {
		return
	}
	m.SimilarityEarlyExits.WithLabelValues(entityType).Inc()
}

// Merged counts n absorbed entities; source is "batch" or "fusion".
func (m *Metrics) Merged(entityType, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EntitiesMerged.WithLabelValues(entityType, source).Add(float64(n))
}

func (m *Metrics) Link(linkType string) {
	if m == nil {
		return
	}
	m.Links.WithLabelValues(linkType).Inc()
}

func (m *Metrics) SoftFailure(stage string) {
	if m == nil {
		return
	}
	m.SoftFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
}
