// Package metrics defines the Prometheus collectors exported by the monitor.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tokenwatch"

var (
	SamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Total number of usage samples collected",
		},
	)

	SampleFetchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_fetch_errors_total",
			Help:      "Usage source fetches that failed and were replaced by a zero sample",
		},
	)

	PersistErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Records that could not be stored",
		},
		[]string{"table"},
	)

	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Storage adapter operations",
		},
		[]string{"backend", "op", "status"},
	)

	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage adapter operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "op"},
	)

	TokensPerHour = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tokens_per_hour",
			Help:      "Tokens consumed over the trailing hour",
		},
	)

	BudgetUsedRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_used_ratio",
			Help:      "Share of the token quota consumed in the current window",
		},
	)

	HoursRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hours_remaining",
			Help:      "Projected hours until the quota is exhausted, -1 when unbounded",
		},
	)

	PredictionConfidence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prediction_confidence",
			Help:      "Confidence of the latest exhaustion projection",
		},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts created",
		},
		[]string{"severity"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SamplesTotal,
			SampleFetchErrorsTotal,
			PersistErrorsTotal,
			StorageOperationsTotal,
			StorageOperationDuration,
			TokensPerHour,
			BudgetUsedRatio,
			HoursRemaining,
			PredictionConfidence,
			AlertsTotal,
		)
	})
}

// ObserveStorage records one storage operation started at started.
func ObserveStorage(backend, op string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StorageOperationsTotal.WithLabelValues(backend, op, status).Inc()
	StorageOperationDuration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
}
