// Package metrics exposes the Factory's Prometheus gauges and counters,
// domain-renamed from the teacher's internal/platform/server.Metrics but
// following the same promauto construction and HTTP-middleware shape.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the Factory publishes on /metrics.
type Metrics struct {
	balanceTotal          prometheus.Gauge
	deploymentsByStatus   *prometheus.GaugeVec
	deploymentFeesTotal   prometheus.Counter
	refundsTotal          prometheus.Counter
	refundAttemptsTotal   prometheus.Counter
	reconcileTicksTotal   *prometheus.CounterVec
	reconcileTickRecords  prometheus.Histogram
	reconcileTickDuration prometheus.Histogram
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestLatency    *prometheus.HistogramVec
}

// New constructs and registers every metric against the default registry.
func New() *Metrics {
	return &Metrics{
		balanceTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "factory",
			Subsystem: "account",
			Name:      "balance_total",
			Help:      "Sum of every UserAccount balance currently held by the Factory.",
		}),
		deploymentsByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "factory",
			Subsystem: "deployment",
			Name:      "records_by_status",
			Help:      "Current count of DeploymentRecords partitioned by status.",
		}, []string{"status"}),
		deploymentFeesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "factory",
			Subsystem: "deployment",
			Name:      "fees_debited_total",
			Help:      "Total count of DeploymentFee transactions recorded.",
		}),
		refundsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "factory",
			Subsystem: "deployment",
			Name:      "refunds_total",
			Help:      "Total count of Refund transactions recorded.",
		}),
		refundAttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "factory",
			Subsystem: "deployment",
			Name:      "refund_attempts_total",
			Help:      "Total count of credit_refund attempts, including retries.",
		}),
		reconcileTicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "factory",
			Subsystem: "reconcile",
			Name:      "ticks_total",
			Help:      "Total reconciliation ticks partitioned by result.",
		}, []string{"result"}),
		reconcileTickRecords: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "factory",
			Subsystem: "reconcile",
			Name:      "tick_records_processed",
			Help:      "Number of DeploymentRecords processed per reconciliation tick.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		reconcileTickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "factory",
			Subsystem: "reconcile",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a reconciliation tick.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		}),
		httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "factory",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests partitioned by method/path/status class.",
		}, []string{"method", "path", "status"}),
		httpRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "factory",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration partitioned by method/path.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "path"}),
	}
}

// SetBalanceTotal publishes the current sum of every account balance.
func (m *Metrics) SetBalanceTotal(total int64) {
	if m == nil {
		return
	}
	m.balanceTotal.Set(float64(total))
}

// SetDeploymentsByStatus replaces every status gauge with counts, so a
// status that drops to zero is removed rather than left stale.
func (m *Metrics) SetDeploymentsByStatus(counts map[string]int) {
	if m == nil {
		return
	}
	m.deploymentsByStatus.Reset()
	for status, n := range counts {
		m.deploymentsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) ObserveDeploymentFee() {
	if m == nil {
		return
	}
	m.deploymentFeesTotal.Inc()
}

func (m *Metrics) ObserveRefund() {
	if m == nil {
		return
	}
	m.refundsTotal.Inc()
}

func (m *Metrics) ObserveRefundAttempt() {
	if m == nil {
		return
	}
	m.refundAttemptsTotal.Inc()
}

// ObserveReconcileTick records one scheduler tick's cost: how many records
// it processed and how long it took, partitioned by success/failure.
func (m *Metrics) ObserveReconcileTick(processed int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.reconcileTicksTotal.WithLabelValues(result).Inc()
	m.reconcileTickRecords.Observe(float64(processed))
	m.reconcileTickDuration.Observe(elapsed.Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// HTTPMiddleware wraps next, recording request count and latency per
// method/path/status-class, mirroring the teacher's HTTPMetricsMiddleware.
func HTTPMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		mw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(mw, r)
		if m == nil {
			return
		}
		statusClass := "5xx"
		switch {
		case mw.status < 300:
			statusClass = "2xx"
		case mw.status < 400:
			statusClass = "3xx"
		case mw.status < 500:
			statusClass = "4xx"
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, statusClass).Inc()
		m.httpRequestLatency.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(started).Seconds())
	})
}
