package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attendance_engine"

// Metrics stores Prometheus collectors for the API, the dispatcher and the
// two ticker loops. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	deliveriesTotal       *prometheus.CounterVec
	deliveryErrorsTotal   *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec
	feedbackTotal         *prometheus.CounterVec
	entriesPlannedTotal   *prometheus.CounterVec
	interventionsTotal    *prometheus.CounterVec
	recoveryAttemptsTotal *prometheus.CounterVec
	recoverySessionsTotal *prometheus.CounterVec
	recoveryRevenueTotal  prometheus.Counter
	loopDuration          *prometheus.HistogramVec
	loopDueItems          *prometheus.CounterVec
	transitionFailures    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Provider send attempts by channel, provider and outcome.",
			},
			[]string{"channel", "provider", "outcome"},
		),
		deliveryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_errors_total",
				Help:      "Failed sends by channel, provider and error class.",
			},
			[]string{"channel", "provider", "class"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Provider send latency in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel", "provider"},
		),
		feedbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_events_total",
				Help:      "Normalized provider feedback events by channel and status.",
			},
			[]string{"channel", "status"},
		),
		entriesPlannedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_entries_planned_total",
				Help:      "Schedule entries created by the planner, by channel.",
			},
			[]string{"channel"},
		),
		interventionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interventions_total",
				Help:      "Interventions scheduled by risk level.",
			},
			[]string{"risk"},
		),
		recoveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_attempts_total",
				Help:      "Recovery ladder rungs by stage and outcome (sent, failed, skipped).",
			},
			[]string{"stage", "outcome"},
		),
		recoverySessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_sessions_total",
				Help:      "Abandoned sessions tracked and recovered.",
			},
			[]string{"state"},
		),
		recoveryRevenueTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_revenue_total",
				Help:      "Sum of recovered session values.",
			},
		),
		loopDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loop_tick_duration_seconds",
				Help:      "Duration of one scheduler tick by loop.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"loop"},
		),
		loopDueItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_due_items_total",
				Help:      "Due items picked up by each loop.",
			},
			[]string{"loop"},
		),
		transitionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transition_publish_failures_total",
				Help:      "Transitions that could not be emitted to the external sink.",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesTotal,
		m.deliveryErrorsTotal,
		m.deliveryDuration,
		m.feedbackTotal,
		m.entriesPlannedTotal,
		m.interventionsTotal,
		m.recoveryAttemptsTotal,
		m.recoverySessionsTotal,
		m.recoveryRevenueTotal,
		m.loopDuration,
		m.loopDueItems,
		m.transitionFailures,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveDelivery(channel, provider string, success bool, errorClass string, duration time.Duration) {
	if m == nil {
		return
	}
	ch, prov := label(channel), label(provider)
	outcome := "success"
	if !success {
		outcome = "failure"
		m.deliveryErrorsTotal.WithLabelValues(ch, prov, label(errorClass)).Inc()
	}
	m.deliveriesTotal.WithLabelValues(ch, prov, outcome).Inc()
	m.deliveryDuration.WithLabelValues(ch, prov).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncFeedback(channel, status string) {
	if m == nil {
		return
	}
	m.feedbackTotal.WithLabelValues(label(channel), label(status)).Inc()
}

func (m *Metrics) IncEntriesPlanned(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.entriesPlannedTotal.WithLabelValues(label(channel)).Add(float64(n))
}

func (m *Metrics) IncIntervention(risk string) {
	if m == nil {
		return
	}
	m.interventionsTotal.WithLabelValues(label(risk)).Inc()
}

func (m *Metrics) IncRecoveryAttempt(stage, outcome string) {
	if m == nil {
		return
	}
	m.recoveryAttemptsTotal.WithLabelValues(label(stage), label(outcome)).Inc()
}

func (m *Metrics) IncSessionTracked() {
	if m == nil {
		return
	}
	m.recoverySessionsTotal.WithLabelValues("tracked").Inc()
}

func (m *Metrics) IncSessionRecovered(value float64) {
	if m == nil {
		return
	}
	m.recoverySessionsTotal.WithLabelValues("recovered").Inc()
	if value > 0 {
		m.recoveryRevenueTotal.Add(value)
	}
}

func (m *Metrics) ObserveLoopTick(loop string, due int, duration time.Duration) {
	if m == nil {
		return
	}
	m.loopDuration.WithLabelValues(label(loop)).Observe(max(duration.Seconds(), 0))
	if due > 0 {
		m.loopDueItems.WithLabelValues(label(loop)).Add(float64(due))
	}
}

func (m *Metrics) IncTransitionFailure(kind string) {
	if m == nil {
		return
	}
	m.transitionFailures.WithLabelValues(label(kind)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func label(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
