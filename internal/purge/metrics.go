package purge

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	purgeJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelctl",
			Subsystem: "purge",
			Name:      "jobs_total",
			Help:      "Total number of finished purge jobs by status",
		},
		[]string{"status"},
	)

	purgeServersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelctl",
			Subsystem: "purge",
			Name:      "servers_total",
			Help:      "Total number of servers handled by purge jobs by outcome",
		},
		[]string{"outcome"},
	)

	purgeBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "panelctl",
			Subsystem: "purge",
			Name:      "batch_duration_seconds",
			Help:      "Duration of purge batches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)
)

func init() {
	prometheus.MustRegister(
		purgeJobsTotal,
		purgeServersTotal,
		purgeBatchDuration,
	)
}

// recordServersMetric records per-server outcomes
func recordServersMetric(outcome string, n int) {
	if n > 0 {
		purgeServersTotal.WithLabelValues(outcome).Add(float64(n))
	}
}
