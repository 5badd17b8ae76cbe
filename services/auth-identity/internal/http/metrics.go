package http

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	authOutcomes *prometheus.CounterVec
	mailFailures prometheus.Counter
}

func newMetrics(registry prometheus.Registerer) *metrics {
	m := &metrics{
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weversity",
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Auth endpoint outcomes by operation and result code.",
		}, []string{"operation", "outcome"}),
		mailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weversity",
			Subsystem: "auth",
			Name:      "mail_failures_total",
			Help:      "Transactional emails that could not be handed to the sender.",
		}),
	}
	registry.MustRegister(m.authOutcomes, m.mailFailures)
	return m
}

func (m *metrics) observe(operation, outcome string) {
	m.authOutcomes.WithLabelValues(operation, outcome).Inc()
}
