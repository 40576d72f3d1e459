// Package observability owns the Prometheus registry the portal exposes on /metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/schoolhub/portal/internal/jobs"
)

// Metrics collects the portal's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backendTotal    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	payments        *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_http_requests_total",
		Help: "HTTP requests served, by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	backendTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_backend_requests_total",
		Help: "Calls to the school API, by endpoint and status code.",
	}, []string{"endpoint", "code"})
	backendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_backend_request_duration_seconds",
		Help:    "School API call latency per endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_payments_total",
		Help: "Completed payment attempts by result.",
	}, []string{"result"})
	sessionsEnded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_sessions_ended_total",
		Help: "Ended sessions, split into explicit logouts and forced logouts after a rejected credential.",
	}, []string{"reason"})
	registry.MustRegister(requests, duration, backendTotal, backendDuration, payments, sessionsEnded)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		backendTotal:    backendTotal,
		backendDuration: backendDuration,
		payments:        payments,
		sessionsEnded:   sessionsEnded,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records a count and a latency for every request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveBackendCall implements backend.Observer. Transport failures carry status 0.
func (m *Metrics) ObserveBackendCall(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.backendTotal.WithLabelValues(endpoint, code).Inc()
	m.backendDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObservePayment implements payment.Recorder.
func (m *Metrics) ObservePayment(result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(result).Inc()
}

// ObserveSessionEnd counts a logout; expired marks a forced one.
func (m *Metrics) ObserveSessionEnd(expired bool) {
	if m == nil {
		return
	}
	reason := "logout"
	if expired {
		reason = "expired"
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

// Jobs exposes the background job collectors registered on the same registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
