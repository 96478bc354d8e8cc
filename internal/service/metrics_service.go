package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// authentication endpoints and core session lifecycle operations.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	registrations prometheus.Counter
	loginSuccess  prometheus.Counter
	loginFailure  prometheus.Counter
	lockouts      prometheus.Counter
	rotations     prometheus.Counter
	rotationReuse prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	registrations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_registrations_total",
		Help: "Total number of accounts registered",
	})

	loginSuccess := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_login_success_total",
		Help: "Total number of successful logins",
	})

	loginFailure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_login_failure_total",
		Help: "Total number of failed login attempts",
	})

	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Total number of login lockouts triggered",
	})

	rotations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Total number of refresh token rotations",
	})

	rotationReuse := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_total",
		Help: "Total number of revoked refresh tokens presented again",
	})

	registry.MustRegister(requestDuration, requestTotal, registrations, loginSuccess, loginFailure, lockouts, rotations, rotationReuse)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		registrations:   registrations,
		loginSuccess:    loginSuccess,
		loginFailure:    loginFailure,
		lockouts:        lockouts,
		rotations:       rotations,
		rotationReuse:   rotationReuse,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	return m.handler
}

// ObserveHTTPRequest records one HTTP request observation.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": httpStatusLabel(status)}
	m.requestDuration.With(labels).Observe(duration.Seconds())
	m.requestTotal.With(labels).Inc()
}

// IncRegistration counts a completed registration.
func (m *MetricsService) IncRegistration() { m.registrations.Inc() }

// IncLoginSuccess counts a successful login.
func (m *MetricsService) IncLoginSuccess() { m.loginSuccess.Inc() }

// IncLoginFailure counts a rejected login attempt.
func (m *MetricsService) IncLoginFailure() { m.loginFailure.Inc() }

// IncLockout counts a lockout transition.
func (m *MetricsService) IncLockout() { m.lockouts.Inc() }

// IncRotation counts a successful refresh rotation.
func (m *MetricsService) IncRotation() { m.rotations.Inc() }

// IncRotationReuse counts a revoked token being presented again.
func (m *MetricsService) IncRotationReuse() { m.rotationReuse.Inc() }

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
