package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ScanTokensTotal counts scan token resolutions by outcome (matched, not_found, error).
	ScanTokensTotal *prometheus.CounterVec
	// ScanQueueDepth tracks the number of tokens waiting to be resolved.
	ScanQueueDepth prometheus.Gauge
	// ScanLookupLatency records per-token lookup latency in milliseconds.
	ScanLookupLatency prometheus.Histogram
	// SaleSubmissionsTotal counts transaction submissions by result (ok, rejected, error).
	SaleSubmissionsTotal *prometheus.CounterVec
	// GuardDenialsTotal counts session guard denials by reason.
	GuardDenialsTotal *prometheus.CounterVec
	// TransactionsInFlight tracks transactions currently being assembled.
	TransactionsInFlight prometheus.Gauge
)

// MustRegisterDomainMetrics wires the package-level domain collectors. Safe
// to call more than once; only the first call takes effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ScanTokensTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_tokens_total",
			Help:      "Processed scan tokens by outcome.",
		}, []string{"outcome"}))
		ScanQueueDepth = registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_queue_depth",
			Help:      "Scan tokens currently queued for resolution.",
		}))
		ScanLookupLatency = registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_lookup_duration_ms",
			Help:      "Catalog lookup latency per scan token in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}))
		SaleSubmissionsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_submissions_total",
			Help:      "Transaction submission outcomes.",
		}, []string{"result"}))
		GuardDenialsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_denials_total",
			Help:      "Session guard denials by reason.",
		}, []string{"reason"}))
		TransactionsInFlight = registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transactions_in_flight",
			Help:      "Transactions currently being assembled by operators.",
		}))
	})
}
