package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exchange_core",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exchange_core",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ordersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Total number of orders accepted into pending state.",
		},
		[]string{"type"},
	)

	orderDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Subsystem: "orders",
			Name:      "decisions_total",
			Help:      "Total number of admin order decisions applied.",
		},
		[]string{"action"},
	)

	kycDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Subsystem: "kyc",
			Name:      "decisions_total",
			Help:      "Total number of admin KYC decisions applied.",
		},
		[]string{"action"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ordersCreated,
		orderDecisions,
		kycDecisions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOrderCreated counts an accepted order by type.
func RecordOrderCreated(orderType string) {
	ordersCreated.WithLabelValues(orderType).Inc()
}

// RecordOrderDecision counts an applied order decision.
func RecordOrderDecision(action string) {
	orderDecisions.WithLabelValues(action).Inc()
}

// RecordKYCDecision counts an applied KYC decision.
func RecordKYCDecision(action string) {
	kycDecisions.WithLabelValues(action).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// canonicalPath collapses resource identifiers so metrics cardinality stays
// bounded: /v1/orders/123/decision becomes /v1/orders/:id/decision. Segments
// alternate resource/identifier after the version prefix.
func canonicalPath(path string) string {
	parts := strings.Split(path, "/")
	start := 2
	if len(parts) > 1 && (parts[1] == "v1" || parts[1] == "admin") {
		start = 3
	}
	if len(parts) > 2 && parts[1] == "v1" && parts[2] == "admin" {
		start = 4
	}
	for i := start; i < len(parts); i += 2 {
		if parts[i] != "" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
