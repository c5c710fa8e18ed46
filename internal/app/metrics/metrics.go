// Package metrics exposes the platform's Prometheus instrumentation on a
// dedicated registry.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campuslance"

// Metrics bundles the registry and the collectors the services update.
type Metrics struct {
	registry *prometheus.Registry

	requestsInFlight prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec

	PaymentsReleased     prometheus.Counter
	DuplicateReleases    prometheus.Counter
	WalletCreditsApplied prometheus.Counter
	NotificationsDropped prometheus.Counter
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		PaymentsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_released_total",
			Help:      "Escrow payments released to student wallets.",
		}),
		DuplicateReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_releases_suppressed_total",
			Help:      "Release attempts suppressed because the payment was already released.",
		}),
		WalletCreditsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_credits_applied_total",
			Help:      "Wallet credits actually applied.",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications that could not be delivered.",
		}),
	}

	registry.MustRegister(
		m.requestsInFlight,
		m.requestsTotal,
		m.requestDuration,
		m.PaymentsReleased,
		m.DuplicateReleases,
		m.WalletCreditsApplied,
		m.NotificationsDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps next with request counting and latency tracking.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		path := canonicalPath(r.URL.Path)
		m.requestsTotal.WithLabelValues(r.Method, path, httpStatusLabel(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func httpStatusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// canonicalPath collapses entity ids so the path label stays low-cardinality.
func canonicalPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if i == 0 || part == "" {
			continue
		}
		switch parts[i-1] {
		case "tasks", "bids", "payments", "students", "task":
			if !isVerb(part) {
				parts[i] = ":id"
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isVerb(part string) bool {
	switch part {
	case "recommended", "mine", "assigned", "submit", "approve", "decline",
		"rate", "feedback", "accept", "status", "wallet", "task":
		return true
	}
	return false
}
