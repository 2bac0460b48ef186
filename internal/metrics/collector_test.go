package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/validation"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	sink := c.RecordSink("TXN")
	sink(&validation.RecordResult{Valid: true})
	sink(&validation.RecordResult{Valid: false, Outcomes: []validation.Outcome{
		{RuleType: domain.RuleTypeLength, Severity: domain.SeverityError},
		{RuleType: domain.RuleTypeRequired, Severity: domain.SeverityError, Passed: true},
	}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordsValidated.WithLabelValues("TXN", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordsValidated.WithLabelValues("TXN", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleFailures.WithLabelValues("TXN", "LENGTH", "ERROR")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ruleFailures.WithLabelValues("TXN", "REQUIRED", "ERROR")))

	c.ObserveSummary(&validation.Summary{ConfigID: "TXN", Status: validation.StatusFailed, Duration: time.Second})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.filesValidated.WithLabelValues("TXN", "FAILED")))

	c.ThresholdDecision("TXN", "STOP_PROCESSING")
	c.RecordsStaged("TXN", 25)
	c.Transition("COMPLETED")
	c.Transition("COMPLETED")
	c.StaleReset("requeued")
	c.LoaderAttempt("success", 2*time.Second)
	c.RetryDecision(true)
	c.ExecutionStarted()
	c.ExecutionStarted()
	c.ExecutionFinished()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.thresholdDecisions.WithLabelValues("TXN", "STOP_PROCESSING")))
	assert.Equal(t, 25.0, testutil.ToFloat64(c.recordsStaged.WithLabelValues("TXN")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stagingTransitions.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleResets.WithLabelValues("requeued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loaderAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loaderRetries.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeExecutions))

	c.ObserveHTTP("GET", "/health", 200, 3*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/health", "200")))

	n, err := testutil.GatherAndCount(reg, "loadgate_loader_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ThresholdDecision("X", "CONTINUE")
		c.LoaderAttempt("error", time.Millisecond)
		c.ExecutionStarted()
		c.ObserveHTTP("GET", "/", 200, time.Millisecond)
	})
	assert.Nil(t, c.RecordSink("X"))
}
