package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline counters exported on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	resolved      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	skipped       prometheus.Counter
	storeFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "availability",
			Name:      "subjects_resolved_total",
			Help:      "Subjects that finished the pipeline, by final status and source.",
		}, []string{"status", "source"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "availability",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in one lookup stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "availability",
			Name:      "stage_failures_total",
			Help:      "Lookups that failed or timed out and gave no verdict.",
		}, []string{"stage"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "availability",
			Name:      "subjects_skipped_total",
			Help:      "Subjects skipped because the session already tested them.",
		}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "availability",
			Name:      "store_failures_total",
			Help:      "Continuation or cache writes that failed.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.resolved, m.stageDuration, m.stageFailures, m.skipped, m.storeFailures)
	return m
}

// ObserveResolved counts a finished subject.
func (m *Metrics) ObserveResolved(status, source string) {
	if m == nil {
		return
	}
	m.resolved.WithLabelValues(status, source).Inc()
}

// ObserveStage records the duration of one stage attempt.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if failed {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveSkipped counts a subject skipped by continuation.
func (m *Metrics) ObserveSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

// ObserveStoreFailure counts a failed store operation.
func (m *Metrics) ObserveStoreFailure(op string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(op).Inc()
}
