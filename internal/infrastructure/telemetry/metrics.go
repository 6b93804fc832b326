package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the security core's instrumentation set.
type Metrics struct {
	InputScans        *prometheus.CounterVec
	ThreatsDetected   *prometheus.CounterVec
	ValidationBlocked prometheus.Counter
	IncidentsCreated  *prometheus.CounterVec
	IncidentsActive   prometheus.Gauge
	AuthzDecisions    *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InputScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platform_security",
			Name:      "input_scans_total",
			Help:      "Input validations performed, by input type.",
		}, []string{"input_type"}),
		ThreatsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platform_security",
			Name:      "threats_detected_total",
			Help:      "Threat signature matches, by category.",
		}, []string{"category"}),
		ValidationBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "platform_security",
			Name:      "validation_blocked_total",
			Help:      "Inputs rejected by a blocking threat signature.",
		}),
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platform_security",
			Name:      "incidents_created_total",
			Help:      "Security incidents created, by severity.",
		}, []string{"severity"}),
		IncidentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "platform_security",
			Name:      "incidents_active",
			Help:      "Incidents currently in the active set.",
		}),
		AuthzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platform_security",
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.InputScans,
		m.ThreatsDetected,
		m.ValidationBlocked,
		m.IncidentsCreated,
		m.IncidentsActive,
		m.AuthzDecisions,
	)
	return m
}

// NewTestMetrics returns a metric set on a private registry for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
