package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for the brokerage service.
type Metrics struct {
	registry       *prometheus.Registry
	orderCreated   *prometheus.CounterVec
	orderRejected  *prometheus.CounterVec
	orderCanceled  prometheus.Counter
	orderMatched   *prometheus.CounterVec
	fills          *prometheus.CounterVec
	matchLatency   prometheus.Histogram
	matchOutcome   *prometheus.CounterVec
	txRollbacks    *prometheus.CounterVec
	publishErrors  *prometheus.CounterVec
	lockWaitSecond prometheus.Histogram
}

// New creates a metrics registry and registers brokerage metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		orderCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerage_order_created_total",
			Help: "Total number of created orders.",
		}, []string{"asset", "side"}),
		orderRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerage_order_rejected_total",
			Help: "Total number of rejected order requests.",
		}, []string{"reason"}),
		orderCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brokerage_order_canceled_total",
			Help: "Total number of orders transitioned to CANCELED.",
		}),
		orderMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerage_order_matched_total",
			Help: "Total number of orders transitioned to MATCHED.",
		}, []string{"asset"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerage_fills_total",
			Help: "Total number of executed fills.",
		}, []string{"asset"}),
		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brokerage_match_latency_seconds",
			Help:    "Latency of a matching pass in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		matchOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerage_match_total",
			Help: "Matching passes by outcome.",
		}, []string{"outcome"}),
		txRollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerage_tx_rollback_total",
			Help: "Transactions rolled back by operation.",
		}, []string{"operation"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerage_event_publish_errors_total",
			Help: "Failed order event publications.",
		}, []string{"event"}),
		lockWaitSecond: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brokerage_match_lock_wait_seconds",
			Help:    "Time spent acquiring the per-asset matching lock.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.orderCreated, m.orderRejected, m.orderCanceled, m.orderMatched, m.fills,
		m.matchLatency, m.matchOutcome, m.txRollbacks, m.publishErrors, m.lockWaitSecond,
	)
	return m
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncOrderCreated(asset, side string) {
	if m == nil {
		return
	}
	m.orderCreated.WithLabelValues(asset, side).Inc()
}

func (m *Metrics) IncOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.orderRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncOrderCanceled() {
	if m == nil {
		return
	}
	m.orderCanceled.Inc()
}

func (m *Metrics) AddOrdersMatched(asset string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orderMatched.WithLabelValues(asset).Add(float64(n))
}

func (m *Metrics) AddFills(asset string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fills.WithLabelValues(asset).Add(float64(n))
}

// ObserveMatch records a matching pass. outcome: filled / no_cross / no_candidates / not_pending / error
func (m *Metrics) ObserveMatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.matchOutcome.WithLabelValues(outcome).Inc()
	m.matchLatency.Observe(d.Seconds())
}

func (m *Metrics) IncTxRollback(operation string) {
	if m == nil {
		return
	}
	m.txRollbacks.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncPublishError(event string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWaitSecond.Observe(d.Seconds())
}
