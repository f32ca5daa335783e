// Package metrics exposes the daemon's Prometheus collectors, adapted
// from the teacher's pkg/metrics: a private Registry, package-level
// vectors registered once in init, and small Record* helpers called from
// the dispatcher and its collaborators rather than handlers touching
// prometheus types directly.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Azure/azsecret/internal/record"
)

var (
	// Registry holds azsecret's Prometheus collectors, isolated from the
	// global default registry so tests can construct independent ones.
	Registry = prometheus.NewRegistry()

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azsecret",
			Name:      "requests_total",
			Help:      "Total number of secret operations handled, by operation and outcome code.",
		},
		[]string{"operation", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "azsecret",
			Name:      "request_duration_seconds",
			Help:      "Duration of secret operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	inflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "azsecret",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight secret operations admitted by the dispatcher.",
		},
	)

	keyServiceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azsecret",
			Subsystem: "key_service",
			Name:      "errors_total",
			Help:      "Total Key Service RPC errors, by error kind.",
		},
		[]string{"kind"},
	)

	vaultFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "azsecret",
			Subsystem: "vault",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of remote vault fetch calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		requestsTotal,
		requestDuration,
		inflightRequests,
		keyServiceErrors,
		vaultFetchDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRequest records the outcome and duration of one dispatcher
// request.
func RecordRequest(op record.Operation, statusCode int, dur time.Duration) {
	requestsTotal.WithLabelValues(string(op), strconv.Itoa(statusCode)).Inc()
	requestDuration.WithLabelValues(string(op)).Observe(dur.Seconds())
}

// InflightGauge returns the current-in-flight gauge so the dispatcher's
// admission control can Inc/Dec it around each request.
func InflightGauge() prometheus.Gauge {
	return inflightRequests
}

// RecordKeyServiceError increments the Key Service error counter for kind.
func RecordKeyServiceError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	keyServiceErrors.WithLabelValues(kind).Inc()
}

// RecordVaultFetch records the duration and outcome ("ok" or "error") of
// a remote vault fetch.
func RecordVaultFetch(err error, dur time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	vaultFetchDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}
