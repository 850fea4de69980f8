package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed detection runs.
	OutcomeSuccess = "success"
	// OutcomeError labels runs aborted by a pipeline or dependency failure.
	OutcomeError = "error"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kpiwatch",
			Name:      "runs_total",
			Help:      "Total number of detection runs executed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kpiwatch",
			Name:      "run_seconds",
			Help:      "End-to-end detection run latency in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
	)

	fitDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kpiwatch",
			Name:      "metric_fit_seconds",
			Help:      "Per-metric forecasting fit latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"metric"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kpiwatch",
			Name:      "alerts_total",
			Help:      "Alert records produced, partitioned by terminal state.",
		},
		[]string{"state"},
	)
)

// Register attaches kpiwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		fitDurationSeconds,
		alertsTotal,
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

// ObserveRun records one detection run's duration and outcome label.
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

// ObserveFit records one metric's backend fit latency.
func ObserveFit(metric string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	fitDurationSeconds.WithLabelValues(metric).Observe(duration.Seconds())
}

// CountAlertState bumps the per-state alert counter.
func CountAlertState(state string) {
	alertsTotal.WithLabelValues(state).Inc()
}
