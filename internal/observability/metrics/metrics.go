package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics holds the domain counters exposed on /metrics.
type Metrics struct {
	usageRecorded       *prometheus.CounterVec
	limitNotifications  *prometheus.CounterVec
	activationRequests  *prometheus.CounterVec
	deviceReviews       *prometheus.CounterVec
	alertsRaised        *prometheus.CounterVec
	notificationsSent   *prometheus.CounterVec
	resetRuns           *prometheus.CounterVec
	resetRows           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	rateLimitedRequests *prometheus.CounterVec
}

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New returns the process-wide metrics registered on the default registerer.
func New(cfg Config) *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewWithRegisterer(prometheus.DefaultRegisterer, cfg)
	})
	return defaultMetrics
}

// NewWithRegisterer builds a Metrics bound to registerer. Tests pass a fresh
// prometheus.NewRegistry so series do not leak between cases.
func NewWithRegisterer(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "saasguard"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		usageRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_usage_records_total",
			Help:        "Usage records appended by metric type.",
			ConstLabels: constLabels,
		}, []string{"metric_type"}),
		limitNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_usage_limit_notifications_total",
			Help:        "Usage limit notifications by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		activationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_device_activation_requests_total",
			Help:        "Device activation requests by resulting status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		deviceReviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_device_reviews_total",
			Help:        "Admin device review decisions by action and result.",
			ConstLabels: constLabels,
		}, []string{"action", "result"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_security_alerts_total",
			Help:        "Security alerts raised by type and severity.",
			ConstLabels: constLabels,
		}, []string{"alert_type", "severity"}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_notifications_total",
			Help:        "Notification deliveries by template and result.",
			ConstLabels: constLabels,
		}, []string{"template", "result"}),
		resetRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_usage_reset_runs_total",
			Help:        "Usage limit reset runs by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		resetRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_usage_reset_rows_total",
			Help:        "Usage limit rows zeroed by reset period.",
			ConstLabels: constLabels,
		}, []string{"reset_period"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "saasguard_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		rateLimitedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "saasguard_rate_limited_requests_total",
			Help:        "Requests rejected by the token bucket limiter.",
			ConstLabels: constLabels,
		}, []string{"scope"}),
	}

	registerer.MustRegister(
		m.usageRecorded,
		m.limitNotifications,
		m.activationRequests,
		m.deviceReviews,
		m.alertsRaised,
		m.notificationsSent,
		m.resetRuns,
		m.resetRows,
		m.jobDuration,
		m.rateLimitedRequests,
	)
	return m
}

// The recorders below are nil-safe so services built without metrics in
// tests do not need a registry.

func (m *Metrics) RecordUsage(metricType string) {
	if m == nil {
		return
	}
	m.usageRecorded.WithLabelValues(normalizeLabel(metricType)).Inc()
}

func (m *Metrics) RecordLimitNotification(status string) {
	if m == nil {
		return
	}
	m.limitNotifications.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) RecordActivation(status string) {
	if m == nil {
		return
	}
	m.activationRequests.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) RecordDeviceReview(action, result string) {
	if m == nil {
		return
	}
	m.deviceReviews.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

func (m *Metrics) RecordAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(normalizeLabel(alertType), normalizeLabel(severity)).Inc()
}

func (m *Metrics) RecordNotification(template, result string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(normalizeLabel(template), normalizeLabel(result)).Inc()
}

func (m *Metrics) RecordReset(result string, rowsByPeriod map[string]int64) {
	if m == nil {
		return
	}
	m.resetRuns.WithLabelValues(normalizeLabel(result)).Inc()
	for period, rows := range rowsByPeriod {
		if rows <= 0 {
			continue
		}
		m.resetRows.WithLabelValues(normalizeLabel(period)).Add(float64(rows))
	}
}

func (m *Metrics) ObserveJob(job string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(normalizeLabel(job)).Observe(seconds)
}

func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimitedRequests.WithLabelValues(normalizeLabel(scope)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
