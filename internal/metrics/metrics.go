// Package metrics exposes Prometheus collectors for verification runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics records nothing, so callers
// never need to check whether metrics are enabled.
type Metrics struct {
	Obligations   *prometheus.CounterVec
	SolverSeconds *prometheus.HistogramVec
	Violations    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Obligations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capsafe_obligations_total",
			Help: "Proof obligations discharged, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SolverSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capsafe_solver_seconds",
			Help:    "Wall time of individual solver checks.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"profile"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capsafe_violations_total",
			Help: "Violations reported, by kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.Obligations, m.SolverSeconds, m.Violations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveObligation counts one discharged obligation.
func (m *Metrics) ObserveObligation(kind, outcome string) {
	if m == nil {
		return
	}
	m.Obligations.WithLabelValues(kind, outcome).Inc()
}

// ObserveSolve records the duration of one solver check.
func (m *Metrics) ObserveSolve(profile string, d time.Duration) {
	if m == nil {
		return
	}
	m.SolverSeconds.WithLabelValues(profile).Observe(d.Seconds())
}

// ObserveViolation counts one reported violation.
func (m *Metrics) ObserveViolation(kind string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(kind).Inc()
}
