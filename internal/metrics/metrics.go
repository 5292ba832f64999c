package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for appointment commands and
// post-commit dispatch.
type Metrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointment",
			Name:      "commands_total",
			Help:      "Appointment lifecycle commands by outcome",
		}, []string{"command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appointment",
			Name:      "command_duration_seconds",
			Help:      "Latency of appointment lifecycle commands",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointment",
			Name:      "dispatch_total",
			Help:      "Best-effort collaborator calls by outcome (ok, failed, dropped)",
		}, []string{"collaborator", "outcome"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appointment",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of best-effort collaborator calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.commandsTotal, m.commandDuration, m.dispatchTotal, m.dispatchLatency)
	return m
}

func (m *Metrics) ObserveCommand(command, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, outcome).Inc()
	m.commandDuration.WithLabelValues(command).Observe(seconds)
}

func (m *Metrics) ObserveDispatch(collaborator, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(collaborator, outcome).Inc()
	if outcome != "dropped" {
		m.dispatchLatency.WithLabelValues(collaborator).Observe(seconds)
	}
}
