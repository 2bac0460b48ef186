package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/timmy/loadgate/internal/validation"
)

const namespace = "loadgate"

// Collector holds all metrics of the load pipeline. A nil *Collector is
// valid and records nothing.
type Collector struct {
	// Validation
	recordsValidated   *prometheus.CounterVec
	ruleFailures       *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	filesValidated     *prometheus.CounterVec

	// Threshold
	thresholdDecisions *prometheus.CounterVec

	// Staging
	recordsStaged      *prometheus.CounterVec
	stagingTransitions *prometheus.CounterVec
	staleResets        *prometheus.CounterVec

	// Loader
	loaderAttempts *prometheus.CounterVec
	loaderDuration prometheus.Histogram
	loaderRetries  *prometheus.CounterVec

	// Executions
	activeExecutions prometheus.Gauge

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates and registers the metrics on reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		recordsValidated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "records_total",
			Help:      "Records validated, by configuration and verdict",
		}, []string{"config_id", "result"}),
		ruleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "rule_failures_total",
			Help:      "Failing rule outcomes by rule type and severity",
		}, []string{"config_id", "rule_type", "severity"}),
		validationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "file_duration_seconds",
			Help:      "Time to validate one file",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"config_id"}),
		filesValidated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "files_total",
			Help:      "Files validated, by final status",
		}, []string{"config_id", "status"}),

		thresholdDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threshold",
			Name:      "decisions_total",
			Help:      "Threshold check results by action",
		}, []string{"config_id", "action"}),

		recordsStaged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "records_staged_total",
			Help:      "Records inserted into staging",
		}, []string{"config_id"}),
		stagingTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "transitions_total",
			Help:      "Staging status transitions by target status",
		}, []string{"status"}),
		staleResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "stale_resets_total",
			Help:      "Stale PROCESSING records handled by the sweeper, by outcome",
		}, []string{"outcome"}),

		loaderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "attempts_total",
			Help:      "Loader invocations by outcome",
		}, []string{"outcome"}),
		loaderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "duration_seconds",
			Help:      "Duration of one loader invocation",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		loaderRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "retry_decisions_total",
			Help:      "Retry policy decisions",
		}, []string{"retry"}),

		activeExecutions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Executions currently running",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveRecord counts one record result. It fits validation.RecordSink.
func (c *Collector) ObserveRecord(configID string, r *validation.RecordResult) {
	if c == nil {
		return
	}
	result := "valid"
	if !r.Valid {
		result = "invalid"
	}
	c.recordsValidated.WithLabelValues(configID, result).Inc()
	for _, o := range r.Outcomes {
		if !o.Passed {
			c.ruleFailures.WithLabelValues(configID, string(o.RuleType), string(o.Severity)).Inc()
		}
	}
}

// RecordSink returns a validation.RecordSink bound to configID.
func (c *Collector) RecordSink(configID string) validation.RecordSink {
	if c == nil {
		return nil
	}
	return func(r *validation.RecordResult) { c.ObserveRecord(configID, r) }
}

// ObserveSummary records the final status and duration of a file.
func (c *Collector) ObserveSummary(s *validation.Summary) {
	if c == nil {
		return
	}
	c.filesValidated.WithLabelValues(s.ConfigID, string(s.Status)).Inc()
	c.validationDuration.WithLabelValues(s.ConfigID).Observe(s.Duration.Seconds())
}

// ThresholdDecision counts a threshold check result.
func (c *Collector) ThresholdDecision(configID, action string) {
	if c == nil {
		return
	}
	c.thresholdDecisions.WithLabelValues(configID, action).Inc()
}

// RecordsStaged counts inserted staging rows.
func (c *Collector) RecordsStaged(configID string, n int) {
	if c == nil {
		return
	}
	c.recordsStaged.WithLabelValues(configID).Add(float64(n))
}

// Transition counts a staging status change.
func (c *Collector) Transition(status string) {
	if c == nil {
		return
	}
	c.stagingTransitions.WithLabelValues(status).Inc()
}

// StaleReset counts a sweeper outcome ("requeued", "failed" or "conflict").
func (c *Collector) StaleReset(outcome string) {
	if c == nil {
		return
	}
	c.staleResets.WithLabelValues(outcome).Inc()
}

// LoaderAttempt counts one loader call and its duration. outcome is
// "success", "partial" or "error".
func (c *Collector) LoaderAttempt(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.loaderAttempts.WithLabelValues(outcome).Inc()
	c.loaderDuration.Observe(d.Seconds())
}

// RetryDecision counts a retry policy verdict.
func (c *Collector) RetryDecision(retry bool) {
	if c == nil {
		return
	}
	label := "false"
	if retry {
		label = "true"
	}
	c.loaderRetries.WithLabelValues(label).Inc()
}

// ExecutionStarted increments the active execution gauge.
func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}
	c.activeExecutions.Inc()
}

// ExecutionFinished decrements the active execution gauge.
func (c *Collector) ExecutionFinished() {
	if c == nil {
		return
	}
	c.activeExecutions.Dec()
}

// ObserveHTTP records one API request.
func (c *Collector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
