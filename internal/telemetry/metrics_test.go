package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetricsCollect tests that collectors register and accumulate
func TestMetricsCollect(t *testing.T) {
	m := New()

	m.BatchesReconciled.WithLabelValues("GB", "event_log", "applied").Inc()
	m.BatchesReconciled.WithLabelValues("GB", "event_log", "applied").Inc()
	m.RecordsAppended.WithLabelValues("GB").Add(5)
	m.Transitions.WithLabelValues("opened").Add(3)
	m.IngestRuns.WithLabelValues("SE", "completed").Inc()
	m.CacheHits.Inc()
	m.ActivePositions.WithLabelValues("GB").Set(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchesReconciled.WithLabelValues("GB", "event_log", "applied")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsAppended.WithLabelValues("GB")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Transitions.WithLabelValues("opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRuns.WithLabelValues("SE", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.ActivePositions.WithLabelValues("GB")))
}

// TestMetricsIsolatedRegistries tests that two instances never collide
func TestMetricsIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()

	a.CacheMisses.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheMisses))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheMisses))
}

// TestMetricsHandler tests the scrape endpoint output
func TestMetricsHandler(t *testing.T) {
	m := New()
	m.SweepDuration.Observe(0.2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "shortwatch_sweep_duration_seconds")
}
