// Package metrics exposes Prometheus collectors for the ledger engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mypts-network/ledger/internal/app/domain/hub"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mypts",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by type and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mypts",
			Subsystem: "settlement",
			Name:      "decisions_total",
			Help:      "Total number of settlement decisions.",
		},
		[]string{"decision"},
	)

	hubPools = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mypts",
			Subsystem: "hub",
			Name:      "pool_supply",
			Help:      "Current MyPts supply per hub pool.",
		},
		[]string{"pool"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mypts",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mypts",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method"},
	)
)

func init() {
	Registry.MustRegister(operationsTotal, settlementsTotal, hubPools, httpRequests, httpDuration)
}

// RecordOperation counts one orchestrator operation outcome.
func RecordOperation(operation, outcome string) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordSettlement counts one settlement decision.
func RecordSettlement(decision string) {
	settlementsTotal.WithLabelValues(decision).Inc()
}

// ObserveHub updates the pool gauges from a committed hub state.
func ObserveHub(state hub.State) {
	hubPools.WithLabelValues("total").Set(float64(state.TotalSupply))
	hubPools.WithLabelValues(string(hub.PoolCirculating)).Set(float64(state.CirculatingSupply))
	hubPools.WithLabelValues(string(hub.PoolReserve)).Set(float64(state.ReserveSupply))
	hubPools.WithLabelValues(string(hub.PoolHolding)).Set(float64(state.HoldingSupply))
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHTTP wraps a handler with request counting and latency tracking.
func InstrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
