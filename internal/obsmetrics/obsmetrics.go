// Package obsmetrics provides the core's Prometheus metrics, adapted
// from the teacher's infrastructure/metrics registered-collector
// pattern but retargeted at the analysis pipeline: roots, requests,
// locks and cache instead of HTTP/blockchain/database counters.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the core registers.
type Metrics struct {
	RootsSubmittedTotal  *prometheus.CounterVec
	RootsCompletedTotal  prometheus.Counter
	RequestsEnqueued     *prometheus.CounterVec
	RequestsResultsTotal *prometheus.CounterVec
	StaleResultsDropped  *prometheus.CounterVec
	AlertsTotal          prometheus.Counter

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	RootLockWaitSeconds  prometheus.Histogram
	RootLockDeadlocks    prometheus.Counter
	QueueDepth           *prometheus.GaugeVec
	OutstandingRootCount prometheus.Gauge
}

// New registers every collector against registerer and returns the
// handle the core uses to record observations.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RootsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ace_roots_submitted_total", Help: "Total number of root analyses submitted."},
			[]string{"kind"}, // "new" or "resubmission"
		),
		RootsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ace_roots_completed_total", Help: "Total number of roots that reached completion."},
		),
		RequestsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ace_requests_enqueued_total", Help: "Total number of analysis requests enqueued."},
			[]string{"amt_name"},
		),
		RequestsResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ace_requests_results_total", Help: "Total number of results absorbed."},
			[]string{"amt_name"},
		),
		StaleResultsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ace_stale_results_dropped_total", Help: "Total number of results dropped for a stale AMT version."},
			[]string{"amt_name"},
		),
		AlertsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ace_alerts_total", Help: "Total number of root escalations to the alert sink."},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ace_cache_hits_total", Help: "Total number of cache hits during dispatch."},
			[]string{"amt_name"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ace_cache_misses_total", Help: "Total number of cache misses during dispatch."},
			[]string{"amt_name"},
		),
		RootLockWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ace_root_lock_wait_seconds",
				Help:    "Time spent waiting to acquire a root lock.",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
		),
		RootLockDeadlocks: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ace_root_lock_deadlocks_total", Help: "Total number of root lock acquisitions that detected a deadlock."},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "ace_queue_depth", Help: "Number of visible (unleased) requests per AMT queue."},
			[]string{"amt_name"},
		),
		OutstandingRootCount: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "ace_outstanding_roots", Help: "Number of roots with at least one outstanding request."},
		),
	}

	for _, c := range []prometheus.Collector{
		m.RootsSubmittedTotal, m.RootsCompletedTotal, m.RequestsEnqueued, m.RequestsResultsTotal,
		m.StaleResultsDropped, m.AlertsTotal, m.CacheHitsTotal, m.CacheMissesTotal,
		m.RootLockWaitSeconds, m.RootLockDeadlocks, m.QueueDepth, m.OutstandingRootCount,
	} {
		registerer.MustRegister(c)
	}
	return m
}

// NewForTest returns a Metrics registered against a fresh, private
// registry so tests never collide with prometheus.DefaultRegisterer.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
