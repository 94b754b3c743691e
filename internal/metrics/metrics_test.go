package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Comparison("Company", "exact")
	m.Comparison("Company", "exact")
	m.EarlyExit("Company")
	m.Merged("Company", "batch", 3)
	m.Merged("Company", "batch", 0)
	m.Link("exact_id")
	m.SoftFailure("embedding")
	m.ObserveRun(150 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SimilarityComparisons.WithLabelValues("Company", "exact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SimilarityEarlyExits.WithLabelValues("Company")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EntitiesMerged.WithLabelValues("Company", "batch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Links.WithLabelValues("exact_id")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SoftFailures.WithLabelValues("embedding")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Comparison("Person", "string")
		m.EarlyExit("Person")
		m.Merged("Person", "fusion", 1)
		m.Link("none")
		m.SoftFailure("name")
		m.ObserveRun(time.Second)
	})
}
