package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/bevflow/bevflow/internal/jobs"
)

// Metrics collects the Prometheus metrics of the application.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rbacDecisions      *prometheus.CounterVec
	guardDecisions     *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	jobs               *jobmetrics.Metrics
}

// NewMetrics initialises the registry and the collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bevflow_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bevflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	rbacDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bevflow_rbac_decisions_total",
		Help: "Permission checks by result and reason.",
	}, []string{"result", "reason"})
	guardDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bevflow_guard_decisions_total",
		Help: "Route guard outcomes.",
	}, []string{"decision"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bevflow_session_transitions_total",
		Help: "Session monitor state changes by target state.",
	}, []string{"state"})
	registry.MustRegister(requests, duration, rbacDecisions, guardDecisions, transitions)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		rbacDecisions:      rbacDecisions,
		guardDecisions:     guardDecisions,
		sessionTransitions: transitions,
		jobs:               jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the http.Handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route.
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

// ObservePermission counts one evaluator decision.
func (m *Metrics) ObservePermission(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.rbacDecisions.WithLabelValues(result, reason).Inc()
}

// ObserveGuardDecision counts one guard outcome.
func (m *Metrics) ObserveGuardDecision(decision string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(decision).Inc()
}

// ObserveSessionState counts a monitor transition into state.
func (m *Metrics) ObserveSessionState(state string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(state).Inc()
}

// Jobs exposes the background job collectors registered on this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
