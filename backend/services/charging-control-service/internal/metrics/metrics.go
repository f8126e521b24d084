package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "charging"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	reservations *prometheus.CounterVec
	lockWait     *prometheus.HistogramVec
	sessions     *prometheus.CounterVec
	events       *prometheus.CounterVec
	httpRequests *prometheus.HistogramVec
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_requests_total",
			Help:      "Reservation mutations by operation and outcome.",
		}, []string{"operation", "result"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "point_lock_wait_seconds",
			Help:      "Time spent waiting for a point lock.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
		}, []string{"result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Charging session transitions by target status.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Published events by type and delivery result.",
		}, []string{"type", "result"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reservations,
		m.lockWait,
		m.sessions,
		m.events,
		m.httpRequests,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Reservation counts a reservation operation outcome.
func (m *Metrics) Reservation(operation, result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(operation, result).Inc()
}

// LockWait observes lock acquisition latency.
func (m *Metrics) LockWait(waited time.Duration, err error) {
	if m == nil {
		return
	}
	result := "acquired"
	if err != nil {
		result = "failed"
	}
	m.lockWait.WithLabelValues(result).Observe(waited.Seconds())
}

// SessionTransition counts a session moving to status.
func (m *Metrics) SessionTransition(status string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(status).Inc()
}

// Event counts an event delivery result.
func (m *Metrics) Event(eventType, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, result).Inc()
}

// HTTPRequest observes a served request.
func (m *Metrics) HTTPRequest(method, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Observe(took.Seconds())
}
