package validation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docgate/internal/validation/scanner"
)

// Metrics records validation outcomes and scan verdicts in Prometheus.
type Metrics struct {
	outcomes     *prometheus.CounterVec
	verdicts     *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
}

var _ Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgate_validation_outcomes_total",
				Help: "Upload validation outcomes by result.",
			},
			[]string{"result"},
		),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgate_scan_verdicts_total",
				Help: "Malware scan verdicts by provider and kind.",
			},
			[]string{"provider", "kind"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docgate_scan_duration_seconds",
				Help:    "Time spent waiting for a scan verdict.",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 30, 60, 90},
			},
			[]string{"provider"},
		),
	}

	for _, c := range []prometheus.Collector{m.outcomes, m.verdicts, m.scanDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveScan counts the raw verdict, before any degradation override.
func (m *Metrics) ObserveScan(v scanner.Verdict, took time.Duration) {
	m.verdicts.WithLabelValues(v.Provider, string(v.Kind)).Inc()
	m.scanDuration.WithLabelValues(v.Provider).Observe(took.Seconds())
}

// ObserveOutcome counts the final decision.
func (m *Metrics) ObserveOutcome(o Outcome) {
	m.outcomes.WithLabelValues(resultLabel(o)).Inc()
}

func resultLabel(o Outcome) string {
	switch {
	case o.Valid && o.ScanDegraded:
		return "degraded"
	case o.Valid:
		return "valid"
	case o.ThreatDetected():
		return "threat"
	default:
		return "rejected"
	}
}
