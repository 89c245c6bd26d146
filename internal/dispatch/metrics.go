package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts routing outcomes. Unknown update types never error, they
// only increment Dropped, so silent drops stay observable.
type Metrics struct {
	Routed        *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	DispatchError prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vkbox",
			Name:      "updates_routed_total",
			Help:      "Updates routed to a view, by update type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vkbox",
			Name:      "updates_dropped_total",
			Help:      "Updates with no view claiming their type.",
		}, []string{"type"}),
		DispatchError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vkbox",
			Name:      "dispatch_errors_total",
			Help:      "Failures surfaced by view dispatch.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Routed, m.Dropped, m.DispatchError)
	}
	return m
}
