// Package metrics provides Prometheus metrics collection for Medic.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics exposed by Medic.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Monitor loop
	HeartbeatsTotal  *prometheus.CounterVec
	ServicesDown     prometheus.Gauge
	AlertsDispatched *prometheus.CounterVec

	// Playbook execution
	PlaybookExecutionsTotal    *prometheus.CounterVec
	PlaybookExecutionDuration  *prometheus.HistogramVec
	PlaybookStepsTotal         *prometheus.CounterVec
	CircuitBreakerOpenTotal    *prometheus.CounterVec
	WebhookDeliveriesTotal     *prometheus.CounterVec
	WebhookDeliveryDuration    *prometheus.HistogramVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		HeartbeatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_heartbeats_total",
				Help: "Total number of heartbeats received, by service and status",
			},
			[]string{"service", "status"},
		),
		ServicesDown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "medic_services_down",
				Help: "Current number of services considered down past their grace period",
			},
		),
		AlertsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_alerts_dispatched_total",
				Help: "Total number of alert notifications dispatched, by target type and outcome",
			},
			[]string{"target_type", "outcome"},
		),

		PlaybookExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_playbook_executions_total",
				Help: "Total number of playbook executions started, by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		PlaybookExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medic_playbook_execution_duration_seconds",
				Help:    "Playbook execution duration in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service"},
		),
		PlaybookStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_playbook_steps_total",
				Help: "Total number of playbook steps executed, by step type and outcome",
			},
			[]string{"step_type", "outcome"},
		),
		CircuitBreakerOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_circuit_breaker_open_total",
				Help: "Total number of times the playbook circuit breaker refused an execution",
			},
			[]string{"service"},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medic_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts, by outcome",
			},
			[]string{"outcome"},
		),
		WebhookDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medic_webhook_delivery_duration_seconds",
				Help:    "Webhook delivery attempt duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),

		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.HeartbeatsTotal,
			m.ServicesDown,
			m.AlertsDispatched,
			m.PlaybookExecutionsTotal,
			m.PlaybookExecutionDuration,
			m.PlaybookStepsTotal,
			m.CircuitBreakerOpenTotal,
			m.WebhookDeliveriesTotal,
			m.WebhookDeliveryDuration,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", environment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordHeartbeat records a received heartbeat.
func (m *Metrics) RecordHeartbeat(service, status string) {
	m.HeartbeatsTotal.WithLabelValues(service, status).Inc()
}

// SetServicesDown sets the current gauge of services past their grace period.
func (m *Metrics) SetServicesDown(count int) {
	m.ServicesDown.Set(float64(count))
}

// RecordAlertDispatched records an alert notification attempt.
func (m *Metrics) RecordAlertDispatched(targetType, outcome string) {
	m.AlertsDispatched.WithLabelValues(targetType, outcome).Inc()
}

// RecordPlaybookExecution records a completed playbook execution.
func (m *Metrics) RecordPlaybookExecution(service, outcome string, duration time.Duration) {
	m.PlaybookExecutionsTotal.WithLabelValues(service, outcome).Inc()
	m.PlaybookExecutionDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordPlaybookStep records a single playbook step outcome.
func (m *Metrics) RecordPlaybookStep(stepType, outcome string) {
	m.PlaybookStepsTotal.WithLabelValues(stepType, outcome).Inc()
}

// RecordCircuitBreakerOpen records a refused playbook execution.
func (m *Metrics) RecordCircuitBreakerOpen(service string) {
	m.CircuitBreakerOpenTotal.WithLabelValues(service).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func (m *Metrics) RecordWebhookDelivery(outcome string, duration time.Duration) {
	m.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	m.WebhookDeliveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDatabaseQuery records a database query.
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections.
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("MEDIC_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

func isProduction() bool {
	return environment() == "production"
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !isProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
