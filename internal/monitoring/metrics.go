package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/access-cli/internal/accessibility"
	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/model"
)

var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics records engine telemetry in Prometheus. It satisfies both the
// isochrone and the analysis observer interfaces. A nil *Metrics is a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	BuildDuration    *prometheus.HistogramVec
	BuildFailures    *prometheus.CounterVec
	CacheRequests    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	CategoryOutcomes *prometheus.CounterVec
	RunHealth        *prometheus.GaugeVec
}

// NewMetrics registers the engine metrics against reg, defaulting to the
// global registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		gatherer: gatherer,
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "access_isochrone_build_duration_seconds",
			Help:    "Isochrone build latency in seconds, labeled by mode and outcome.",
			Buckets: latencyBuckets,
		}, []string{"mode", "outcome"}),
		BuildFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_isochrone_build_failures_total",
			Help: "Failed isochrone builds, labeled by mode and failure kind.",
		}, []string{"mode", "kind"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_isochrone_cache_requests_total",
			Help: "Isochrone cache lookups, labeled hit or miss.",
		}, []string{"result"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "access_analysis_duration_seconds",
			Help:    "Full origin analysis latency in seconds, labeled by outcome.",
			Buckets: latencyBuckets,
		}, []string{"outcome"}),
		CategoryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_category_outcomes_total",
			Help: "Category evaluations, labeled by category and status.",
		}, []string{"category", "status"}),
		RunHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "access_run_health",
			Help: "Latest run health snapshot over the lookback window, labeled by signal.",
		}, []string{"signal"}),
	}

	for _, c := range []prometheus.Collector{m.BuildDuration, m.BuildFailures, m.CacheRequests, m.AnalysisDuration, m.CategoryOutcomes, m.RunHealth} {
		if err := reg.Register(c); err != nil {
			return nil, eris.Wrap(err, "monitoring: register metrics")
		}
	}
	return m, nil
}

// Handler exposes the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveBuild records one isochrone build.
func (m *Metrics) ObserveBuild(mode model.Mode, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.BuildDuration.WithLabelValues(string(mode), outcome(err)).Observe(elapsed.Seconds())
	if err != nil {
		m.BuildFailures.WithLabelValues(string(mode), failure.KindOf(err).String()).Inc()
	}
}

// ObserveCache records one cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveAnalysis records one origin analysis.
func (m *Metrics) ObserveAnalysis(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.AnalysisDuration.WithLabelValues(outcome(err)).Observe(elapsed.Seconds())
}

// ObserveCategory records one category outcome.
func (m *Metrics) ObserveCategory(category string, status accessibility.Status) {
	if m == nil {
		return
	}
	m.CategoryOutcomes.WithLabelValues(category, string(status)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveSnapshot publishes the checker's latest snapshot as gauges.
func (m *Metrics) ObserveSnapshot(snap *RunSnapshot) {
	if m == nil || snap == nil {
		return
	}
	m.RunHealth.WithLabelValues("runs_total").Set(float64(snap.RunsTotal))
	m.RunHealth.WithLabelValues("runs_failed").Set(float64(snap.RunsFailed))
	m.RunHealth.WithLabelValues("stale_runs").Set(float64(snap.StaleRuns))
	m.RunHealth.WithLabelValues("failure_rate").Set(snap.RunFailRate)
	m.RunHealth.WithLabelValues("undetermined_rate").Set(snap.UndeterminedRate)
}
