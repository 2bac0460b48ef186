// Package loader runs batches of staged records through the external bulk
// loader and decides whether a failed attempt should be retried.
package loader

import (
	"time"
)

// Compliance summarizes the outcome of a load attempt.
type Compliance string

const (
	Compliant             Compliance = "COMPLIANT"
	CompliantWithWarnings Compliance = "COMPLIANT_WITH_WARNINGS"
	NonCompliant          Compliance = "NON_COMPLIANT"
)

// ReturnCodeNotRun marks an attempt that produced no loader result, such as
// a process that could not be started or was killed.
const ReturnCodeNotRun = -1

// Rejection is one record refused by the loader. Record is the 1-based
// position of the record in the batch.
type Rejection struct {
	Record  int    `json:"record"`
	Message string `json:"message"`
}

// LoadResult describes one loader attempt. ReturnCode is the loader's exit
// status; Success is derived from it by CompleteExecution.
type LoadResult struct {
	ExecutionID   string `json:"execution_id"`
	ConfigID      string `json:"config_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	PartitionKey  string `json:"partition_key,omitempty"`

	ReturnCode int  `json:"return_code"`
	Success    bool `json:"success"`

	TotalRecords      int64 `json:"total_records"`
	SuccessfulRecords int64 `json:"successful_records"`
	RejectedRecords   int64 `json:"rejected_records"`
	DiscardedRecords  int64 `json:"discarded_records"`
	ErrorCount        int64 `json:"error_count"`
	WarningCount      int64 `json:"warning_count"`
	RetryCount        int   `json:"retry_count"`

	Errors     []string    `json:"errors,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Rejections []Rejection `json:"rejections,omitempty"`

	StartTime           time.Time  `json:"start_time"`
	EndTime             time.Time  `json:"end_time"`
	DurationMs          int64      `json:"duration_ms"`
	ThroughputPerSecond float64    `json:"throughput_per_second"`
	AvgRecordMs         float64    `json:"avg_record_ms"`
	Compliance          Compliance `json:"compliance_status"`
}

// AddError records an error message and bumps ErrorCount.
func (r *LoadResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.ErrorCount++
}

// AddWarning records a warning message and bumps WarningCount.
func (r *LoadResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
	r.WarningCount++
}

// Succeeded reports the success flag set by CompleteExecution.
func (r *LoadResult) Succeeded() bool {
	return r.Success
}

// FailedRecords is the number of records the loader rejected or discarded.
func (r *LoadResult) FailedRecords() int64 {
	return r.RejectedRecords + r.DiscardedRecords
}

// SuccessRate is SuccessfulRecords as a percentage of TotalRecords.
func (r *LoadResult) SuccessRate() float64 {
	if r.TotalRecords <= 0 {
		return 0
	}
	return float64(r.SuccessfulRecords) / float64(r.TotalRecords) * 100
}

// ErrorRate is the larger of ErrorCount and FailedRecords as a percentage of
// TotalRecords, capped at 100. An attempt with errors and no records counts
// as entirely failed.
func (r *LoadResult) ErrorRate() float64 {
	failed := max(r.ErrorCount, r.FailedRecords())
	if r.TotalRecords <= 0 {
		if failed > 0 {
			return 100
		}
		return 0
	}
	rate := float64(failed) / float64(r.TotalRecords) * 100
	if rate > 100 {
		return 100
	}
	return rate
}

// ShouldRetry applies DefaultRetryPolicy.
func (r *LoadResult) ShouldRetry(maxRetries int) bool {
	return DefaultRetryPolicy().ShouldRetry(r, maxRetries)
}

// CompleteExecution fixes the timing and derived fields. Explicitly set
// EndTime and DurationMs are kept, so calling it again changes nothing.
// Success needs a zero return code and every record loaded without error.
func (r *LoadResult) CompleteExecution() {
	r.completeAt(time.Now())
}

func (r *LoadResult) completeAt(now time.Time) {
	if r.EndTime.IsZero() {
		r.EndTime = now
	}
	if r.DurationMs == 0 && !r.StartTime.IsZero() {
		r.DurationMs = r.EndTime.Sub(r.StartTime).Milliseconds()
	}

	r.ThroughputPerSecond = 0
	if r.DurationMs > 0 {
		r.ThroughputPerSecond = float64(r.SuccessfulRecords) / (float64(r.DurationMs) / 1000)
	}
	r.AvgRecordMs = 0
	if r.TotalRecords > 0 {
		r.AvgRecordMs = float64(r.DurationMs) / float64(r.TotalRecords)
	}

	r.Success = r.ReturnCode == 0 && r.ErrorCount == 0 &&
		r.FailedRecords() == 0 && r.SuccessfulRecords == r.TotalRecords

	switch {
	case r.ErrorCount > 0:
		r.Compliance = NonCompliant
	case r.WarningCount > 0:
		r.Compliance = CompliantWithWarnings
	default:
		r.Compliance = Compliant
	}
}
