// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "consultation"

type Metrics struct {
	registry *prometheus.Registry

	Claims            *prometheus.CounterVec
	BookingsCreated   prometheus.Counter
	Transitions       *prometheus.CounterVec
	Promotions        *prometheus.CounterVec
	RetentionDeleted  *prometheus.CounterVec
	RetentionFailures *prometheus.CounterVec
	Provisioning      *prometheus.CounterVec
	PaymentExceptions prometheus.Counter
	SweepDuration     *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "slot_claims_total",
			Help: "Slot claim attempts by result.",
		}, []string{"result"}),
		BookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bookings_created_total",
			Help: "Bookings created after a confirmed payment.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "booking_transitions_total",
			Help: "Booking status transitions by source, target and outcome.",
		}, []string{"from", "to", "outcome"}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bookings_promoted_missed_total",
			Help: "Bookings moved to missed by the promotion sweep.",
		}, []string{"from"}),
		RetentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_deleted_total",
			Help: "Rows deleted by the retention sweep.",
		}, []string{"kind"}),
		RetentionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_failures_total",
			Help: "Rows the retention sweep failed to delete.",
		}, []string{"kind"}),
		Provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "meeting_provisioning_total",
			Help: "Meeting link provisioning attempts by outcome.",
		}, []string{"outcome"}),
		PaymentExceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_exceptions_total",
			Help: "Paid checkouts that could not be booked.",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
			Help:    "Duration of background sweeps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Claims, m.BookingsCreated, m.Transitions, m.Promotions,
		m.RetentionDeleted, m.RetentionFailures, m.Provisioning,
		m.PaymentExceptions, m.SweepDuration, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// ObserveSweep times a sweep run.
func (m *Metrics) ObserveSweep(name string, start time.Time) {
	m.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
