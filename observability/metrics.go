package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// EscrowMetricsRegistry tracks escrow state transitions and settled value.
type EscrowMetricsRegistry struct {
	operations *prometheus.CounterVec
	settled    *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetricsRegistry
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or "replay".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EscrowMetrics returns the singleton registry for escrow engine metrics.
func EscrowMetrics() *EscrowMetricsRegistry {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetricsRegistry{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Escrow operations segmented by operation and outcome (ok or error kind).",
			}, []string{"operation", "outcome"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "escrow",
				Name:      "settled_value_total",
				Help:      "Value moved by settlement segmented by destination kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(escrowRegistry.operations, escrowRegistry.settled)
	})
	return escrowRegistry
}

// RecordOperation counts an escrow operation. An empty outcome counts as "ok".
func (m *EscrowMetricsRegistry) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordSettled adds value to the settled counter for kind (seller_payout,
// platform_fee, refund, fee_collection).
func (m *EscrowMetricsRegistry) RecordSettled(kind string, value uint64) {
	if m == nil || value == 0 {
		return
	}
	m.settled.WithLabelValues(kind).Add(float64(value))
}
