package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels pipeline runs that produced a report.
	OutcomeSuccess = "success"
	// OutcomeError labels runs that failed before a report was produced.
	OutcomeError = "error"

	// CacheHit and CacheMiss label report cache lookups.
	CacheHit  = "hit"
	CacheMiss = "miss"
)

const namespace = "mirador_incidents"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of detection runs handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Detection run latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	detectorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_runs_total",
			Help:      "Detector executions, partitioned by detector and final status.",
		},
		[]string{"detector", "status"},
	)

	detectorFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_findings_total",
			Help:      "Findings emitted per detector.",
		},
		[]string{"detector"},
	)

	incidentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents reported across all runs.",
		},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Report cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches the incident engine collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		detectorRunsTotal,
		detectorFindingsTotal,
		incidentsTotal,
		cacheLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	runsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveDetector records one detector execution.
func ObserveDetector(detector, status string, findings int) {
	detectorRunsTotal.WithLabelValues(detector, status).Inc()
	if findings > 0 {
		detectorFindingsTotal.WithLabelValues(detector).Add(float64(findings))
	}
}

// ObserveIncidents adds n reported incidents.
func ObserveIncidents(n int) {
	if n > 0 {
		incidentsTotal.Add(float64(n))
	}
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues(CacheHit).Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues(CacheMiss).Inc()
}
