package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the dispatcher.
type Metrics struct {
	// Changes processed by final state (applied, skipped, failed).
	ChangesProcessed *prometheus.CounterVec

	// Transition runs by transition name and ok ("true"/"false").
	TransitionRuns *prometheus.CounterVec

	// Time spent on one processing attempt of a change.
	ChangeLatency prometheus.Histogram

	// Retries of changes after infrastructure errors.
	Retries prometheus.Counter

	// Changes given up on after exhausting the retry budget.
	Exhausted prometheus.Counter

	// Last saved feed checkpoint.
	Checkpoint prometheus.Gauge
}

// NewMetrics creates the dispatcher metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChangesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_changes_processed_total",
			Help: "Changes processed by final state",
		}, []string{"state"}),

		TransitionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_transition_runs_total",
			Help: "Transition runs by transition and outcome",
		}, []string{"transition", "ok"}),

		ChangeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_change_duration_seconds",
			Help:    "Duration of one processing attempt of a change",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_change_retries_total",
			Help: "Change processing attempts retried after infrastructure errors",
		}),

		Exhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_change_retries_exhausted_total",
			Help: "Changes acknowledged after exhausting their retry budget",
		}),

		Checkpoint: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_feed_checkpoint",
			Help: "Last saved change feed checkpoint",
		}),
	}
}

// ObserveChange records one processing attempt.
func (m *Metrics) ObserveChange(state State, d time.Duration) {
	if m != nil {
		m.ChangesProcessed.WithLabelValues(string(state)).Inc()
		m.ChangeLatency.Observe(d.Seconds())
	}
}

// IncrementTransition records one transition run.
func (m *Metrics) IncrementTransition(name string, ok bool) {
	if m != nil {
		label := "false"
		if ok {
			label = "true"
		}
		m.TransitionRuns.WithLabelValues(name, label).Inc()
	}
}

// IncrementRetry records a retried change.
func (m *Metrics) IncrementRetry() {
	if m != nil {
		m.Retries.Inc()
	}
}

// IncrementExhausted records a change given up on.
func (m *Metrics) IncrementExhausted() {
	if m != nil {
		m.Exhausted.Inc()
	}
}

// SetCheckpoint records the saved checkpoint.
func (m *Metrics) SetCheckpoint(seq int64) {
	if m != nil {
		m.Checkpoint.Set(float64(seq))
	}
}
