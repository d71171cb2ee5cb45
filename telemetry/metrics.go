package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
//
// Metrics:
//   - pinpoint_resolutions_total{selector,result}
//   - pinpoint_attempts_total{selector,strategy,outcome}
//   - pinpoint_resolution_duration_seconds{selector}
//   - pinpoint_snapshots_total{result}
//   - pinpoint_evolution_actions_total{action}
type Metrics struct {
	Resolutions        *prometheus.CounterVec
	Attempts           *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	Snapshots          *prometheus.CounterVec
	EvolutionActions   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinpoint_resolutions_total",
				Help: "Total number of selector resolutions",
			},
			[]string{"selector", "result"}, // "success" or a failure reason
		),
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinpoint_attempts_total",
				Help: "Total number of strategy attempts",
			},
			[]string{"selector", "strategy", "outcome"},
		),
		ResolutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pinpoint_resolution_duration_seconds",
				Help:    "Duration of selector resolution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"selector"},
		),
		Snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinpoint_snapshots_total",
				Help: "Total number of failure snapshots by result",
			},
			[]string{"result"}, // "captured", "failed", "dropped"
		),
		EvolutionActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinpoint_evolution_actions_total",
				Help: "Total number of applied strategy evolution actions",
			},
			[]string{"action"},
		),
	}
}

// RecordResolution records a finished resolution.
func (m *Metrics) RecordResolution(selector, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(selector, result).Inc()
	m.ResolutionDuration.WithLabelValues(selector).Observe(d.Seconds())
}

// RecordAttempt records one strategy attempt.
func (m *Metrics) RecordAttempt(selector, strategy, outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(selector, strategy, outcome).Inc()
}

// RecordSnapshot records a snapshot capture result.
func (m *Metrics) RecordSnapshot(result string) {
	if m == nil {
		return
	}
	m.Snapshots.WithLabelValues(result).Inc()
}

// RecordEvolution records an applied evolution action.
func (m *Metrics) RecordEvolution(action string) {
	if m == nil {
		return
	}
	m.EvolutionActions.WithLabelValues(action).Inc()
}
