// Package monitoring exposes seccompd Prometheus metrics.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

const namespace = "seccompd"

// Metrics holds the service's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	Operations  *prometheus.CounterVec
	Clicks      *prometheus.CounterVec
	AuditEvents *prometheus.CounterVec
	ReapedPIDs  prometheus.Counter

	startTime time.Time
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "route"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-process rate limit",
			},
		),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Registry operations by result code",
			},
			[]string{"operation", "code"},
		),
		Clicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Click reports by outcome",
			},
			[]string{"state"},
		),
		AuditEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_total",
				Help:      "Audit events emitted",
			},
			[]string{"event", "kind"},
		),
		ReapedPIDs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaped_processes_total",
				Help:      "Dead processes cleared by the process monitor",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RateLimited,
		m.Operations, m.Clicks, m.AuditEvents, m.ReapedPIDs,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Service uptime in seconds",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an API request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordOperation records a registry operation result.
func (m *Metrics) RecordOperation(op string, err error) {
	m.Operations.WithLabelValues(op, strconv.Itoa(int(domain.CodeOf(err)))).Inc()
}

// RecordClick records a click outcome.
func (m *Metrics) RecordClick(state domain.ClickState) {
	m.Clicks.WithLabelValues(string(state)).Inc()
}

// Middleware records request count and latency per route.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// AuditCounter counts audit events on their way to the next sink.
type AuditCounter struct {
	Metrics *Metrics
	Next    domain.AuditSink
}

// Emit counts and forwards the event.
func (a AuditCounter) Emit(event domain.AuditEvent) {
	a.Metrics.AuditEvents.WithLabelValues(event.Name, string(event.Kind)).Inc()
	if a.Next != nil {
		a.Next.Emit(event)
	}
}
