// Package metrics exposes Prometheus counters for logins, registrations and
// device handshakes, and HTTP request instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements the Observer interfaces of the audit, restaurant and
// device services. A nil *Metrics records nothing.
type Metrics struct {
	loginAttempts *prometheus.CounterVec
	registrations *prometheus.CounterVec
	handshakes    prometheus.Counter
	httpInFlight  prometheus.Gauge
	httpDuration  *prometheus.HistogramVec
	gatherer      prometheus.Gatherer
}

// New registers the collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_registrations_total",
			Help: "Registration calls, split by whether a new identity was created.",
		}, []string{"created"}),
		handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_device_handshakes_total",
			Help: "Successful device handshakes.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "identity_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}
	reg.MustRegister(m.loginAttempts, m.registrations, m.handshakes, m.httpInFlight, m.httpDuration)
	return m
}

func (m *Metrics) LoginOutcome(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registration(created bool) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(strconv.FormatBool(created)).Inc()
}

func (m *Metrics) Handshake() {
	if m == nil {
		return
	}
	m.handshakes.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records latency per chi route pattern, so path parameters do
// not explode label cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
