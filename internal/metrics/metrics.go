// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sonargate"

// Metrics groups the service collectors. Use New with a dedicated registry
// in tests.
type Metrics struct {
	AnalysesTotal   *prometheus.CounterVec
	AnalysesActive  prometheus.Gauge
	StageDuration   *prometheus.HistogramVec
	PollAttempts    prometheus.Histogram
	IssuesReported  prometheus.Counter
	ArchiveBytes    prometheus.Histogram
	WorkspacesSwept prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analysis requests by outcome (success or error kind).",
		}, []string{"outcome"}),
		AnalysesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analyses_in_flight",
			Help:      "Analyses currently running.",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		PollAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Status queries needed before the compute engine finished.",
			Buckets:   prometheus.LinearBuckets(1, 5, 12),
		}),
		IssuesReported: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_reported_total",
			Help:      "Vulnerabilities and hotspots returned to callers.",
		}),
		ArchiveBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_bytes",
			Help:      "Size of uploaded archives.",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
		}),
		WorkspacesSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspaces_swept_total",
			Help:      "Stale workspaces removed by the sweeper.",
		}),
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
