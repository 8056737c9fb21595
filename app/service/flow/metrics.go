package flow

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

type Metrics struct {
	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	StageDuration *prometheus.HistogramVec
	Demotions     prometheus.Counter
}

// NewMetrics registers the router metrics once per process.
//
//   - policyvoice_turns_total{route,decision}
//   - policyvoice_turn_duration_seconds{route}
//   - policyvoice_stage_duration_seconds{stage}
//   - policyvoice_auth_demotions_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "policyvoice_turns_total",
					Help: "Total number of completed turns",
				},
				[]string{"route", "decision"},
			),
			TurnDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "policyvoice_turn_duration_seconds",
					Help:    "End to end turn latency",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
				},
				[]string{"route"},
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "policyvoice_stage_duration_seconds",
					Help:    "Latency of a single pipeline stage",
					Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
				},
				[]string{"stage"},
			),
			Demotions: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "policyvoice_auth_demotions_total",
					Help: "Authenticated turns served as guest because the customer was not found",
				},
			),
		}
	})

	return globalMetrics
}
