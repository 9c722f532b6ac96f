package provision

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tsanders-rh/panelctl/internal/ledger"
	"github.com/tsanders-rh/panelctl/internal/policy"
)

var (
	sagaTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelctl",
			Subsystem: "saga",
			Name:      "total",
			Help:      "Total number of saga executions by saga and result",
		},
		[]string{"saga", "result"},
	)

	sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "panelctl",
			Subsystem: "saga",
			Name:      "duration_seconds",
			Help:      "Duration of saga executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"saga"},
	)

	compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelctl",
			Subsystem: "saga",
			Name:      "compensations_total",
			Help:      "Total number of compensating ledger changes by saga and result",
		},
		[]string{"saga", "result"},
	)

	orphansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "panelctl",
			Subsystem: "saga",
			Name:      "orphaned_instances_total",
			Help:      "Total number of remote servers left without a local record",
		},
	)

	ledgerDivergenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelctl",
			Subsystem: "ledger",
			Name:      "divergence_total",
			Help:      "Total number of ledger changes that could not be applied after a confirmed remote change",
		},
		[]string{"saga"},
	)
)

func init() {
	prometheus.MustRegister(
		sagaTotal,
		sagaDuration,
		compensationsTotal,
		orphansTotal,
		ledgerDivergenceTotal,
	)
}

// resultLabel maps a saga outcome to a metric label
func resultLabel(err error) string {
	var (
		insufficient *ledger.InsufficientResourcesError
		validation   *policy.ValidationResult
		notFound     *NotFoundError
		orphaned     *OrphanedInstanceError
	)

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &insufficient):
		return "insufficient_resources"
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &orphaned):
		return "orphaned"
	default:
		return "failed"
	}
}

// recordSagaMetric records a saga outcome
func recordSagaMetric(saga string, err error, started time.Time) {
	sagaTotal.WithLabelValues(saga, resultLabel(err)).Inc()
	sagaDuration.WithLabelValues(saga).Observe(time.Since(started).Seconds())
}

// recordCompensationMetric records a compensating ledger change
func recordCompensationMetric(saga string, ok bool) {
	result := "success"
	if !ok {
		result = "failed"
	}
	compensationsTotal.WithLabelValues(saga, result).Inc()
}
