package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/access-cli/internal/accessibility"
	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/model"
)

func TestMetrics_ObserveBuild(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveBuild(model.ModeWalk, 20*time.Millisecond, nil)
	m.ObserveBuild(model.ModeDrive, 5*time.Millisecond, failure.New(failure.NoReachableNodes, "no nodes"))
	m.ObserveBuild(model.ModeDrive, 5*time.Millisecond, failure.New(failure.NoReachableNodes, "no nodes"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BuildFailures.WithLabelValues("drive", "no_reachable_nodes")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BuildFailures))
	assert.Equal(t, 2, testutil.CollectAndCount(m.BuildDuration))
}

func TestMetrics_ObserveCache(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveCache(true)
	m.ObserveCache(true)
	m.ObserveCache(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))
}

func TestMetrics_ObserveAnalysisAndCategory(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveAnalysis(time.Second, nil)
	m.ObserveAnalysis(time.Second, assert.AnError)
	m.ObserveCategory("school", accessibility.StatusViolated)
	m.ObserveCategory("school", accessibility.StatusViolated)
	m.ObserveCategory("hospital", accessibility.StatusOK)

	assert.Equal(t, 2, testutil.CollectAndCount(m.AnalysisDuration))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CategoryOutcomes.WithLabelValues("school", "violated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CategoryOutcomes.WithLabelValues("hospital", "ok")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBuild(model.ModeWalk, time.Second, nil)
		m.ObserveCache(true)
		m.ObserveAnalysis(time.Second, nil)
		m.ObserveCategory("school", accessibility.StatusOK)
		m.ObserveSnapshot(&RunSnapshot{RunsTotal: 1})
	})
	assert.NotNil(t, m.Handler())
}

func TestMetrics_ObserveSnapshot(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveSnapshot(&RunSnapshot{RunsTotal: 10, RunsFailed: 2, RunFailRate: 0.2, StaleRuns: 1, UndeterminedRate: 0.05})
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RunHealth.WithLabelValues("runs_total")))
	assert.Equal(t, 0.2, testutil.ToFloat64(m.RunHealth.WithLabelValues("failure_rate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunHealth.WithLabelValues("stale_runs")))

	m.ObserveSnapshot(&RunSnapshot{RunsTotal: 3})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RunHealth.WithLabelValues("runs_total")))
	assert.Zero(t, testutil.ToFloat64(m.RunHealth.WithLabelValues("stale_runs")))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register metrics")
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m.ObserveCache(true)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `access_isochrone_cache_requests_total{result="hit"} 1`)
}
