// Package metrics provides Prometheus metrics for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dlmmpilot"

// Metrics holds one engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	CacheLookups *prometheus.CounterVec
	CacheFills   *prometheus.CounterVec

	RangesResolved  *prometheus.CounterVec
	RangeFallbacks  prometheus.Counter
	BalanceChecks   *prometheus.CounterVec
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	TransactionsOut *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result (hit or miss)",
		}, []string{"cache", "result"}),
		CacheFills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fills_total",
			Help:      "Cache entries computed from the network",
		}, []string{"cache"}),
		RangesResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranges",
			Name:      "resolved_total",
			Help:      "Range resolutions by risk profile and status",
		}, []string{"profile", "status"}),
		RangeFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranges",
			Name:      "fallbacks_total",
			Help:      "Resolutions answered with the default fallback window",
		}),
		BalanceChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "balance_checks_total",
			Help:      "Balance checks by outcome (valid, insufficient, error)",
		}, []string{"outcome"}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "operations_total",
			Help:      "Orchestrated operations by kind and final state",
		}, []string{"operation", "state"}),
		OperationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of orchestrated operations",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"operation"}),
		TransactionsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "transactions_total",
			Help:      "Transactions by outcome (confirmed, failed)",
		}, []string{"outcome"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) CacheFill(cache string) {
	if m == nil {
		return
	}
	m.CacheFills.WithLabelValues(cache).Inc()
}

func (m *Metrics) RangeResolved(profile, status string) {
	if m == nil {
		return
	}
	m.RangesResolved.WithLabelValues(profile, status).Inc()
}

func (m *Metrics) RangeFallback() {
	if m == nil {
		return
	}
	m.RangeFallbacks.Inc()
}

func (m *Metrics) BalanceChecked(outcome string) {
	if m == nil {
		return
	}
	m.BalanceChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OperationFinished(operation, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, state).Inc()
	m.OperationTime.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) TransactionFinished(confirmed bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if confirmed {
		outcome = "confirmed"
	}
	m.TransactionsOut.WithLabelValues(outcome).Inc()
}
