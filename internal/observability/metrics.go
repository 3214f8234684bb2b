package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several runtimes can coexist in one process (tests, serverless warm starts).
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	tradeTransitions    *prometheus.CounterVec
	tokensIssued        *prometheus.CounterVec
	tokensRejected      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		tradeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trade_transitions_total",
			Help: "Trade status transitions by outcome.",
		}, []string{"from", "to", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Signed tokens by key class.",
		}, []string{"class"}),
		tokensRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_rejected_total",
			Help: "Rejected bearer tokens by key class and reason.",
		}, []string{"class", "reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tradeTransitions,
		m.tokensIssued,
		m.tokensRejected,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// ServeMux fills Pattern on the shared request; unmatched paths collapse into one series.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(recorder.statusCode)

		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

func (m *Metrics) ObserveTransition(from, to, outcome string) {
	m.tradeTransitions.WithLabelValues(from, to, outcome).Inc()
}

func (m *Metrics) TokenIssued(class string) {
	m.tokensIssued.WithLabelValues(class).Inc()
}

func (m *Metrics) TokenRejected(class, reason string) {
	m.tokensRejected.WithLabelValues(class, reason).Inc()
}
