package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	breakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_breaker_state",
			Help: "Breaker state per upstream: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"target"},
	)
	breakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_breaker_transitions_total",
			Help: "Breaker state transitions per upstream.",
		},
		[]string{"target", "from", "to"},
	)
	breakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_breaker_opened_total",
			Help: "Times a breaker tripped open.",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(breakerStateGauge, breakerTransitionsTotal, breakerOpenedTotal)
}
