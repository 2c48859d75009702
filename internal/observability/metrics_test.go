package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChunkCacheHit()
		m.ChunkCacheMiss()
		m.ChunkFetched(time.Millisecond, nil)
		m.PlanFinished("found", 10, time.Millisecond)
		m.BatchSubmitted(100)
		m.ReplanRequested("drift")
		m.DriftObserved(3)
		m.NavigationFinished(true)
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ChunkFetched(time.Millisecond, nil)
	m.ChunkFetched(time.Millisecond, errors.New("boom"))
	m.BatchSubmitted(120)
	m.BatchSubmitted(30)
	m.PlanFinished("partial", 500, time.Second)
	m.NavigationFinished(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChunkFetches.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChunkFetches.WithLabelValues("error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchesSubmitted))
	assert.Equal(t, float64(150), testutil.ToFloat64(m.MoveUnitsSubmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PlanOutcomes.WithLabelValues("partial")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Navigations.WithLabelValues("partial")))

	count, err := testutil.GatherAndCount(reg, "agent_planner_search_iterations")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
