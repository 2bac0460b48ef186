package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFullySuccessfulLoadIsCompliant(t *testing.T) {
	r := &LoadResult{TotalRecords: 1000, SuccessfulRecords: 1000, StartTime: time.Now().Add(-2 * time.Second)}
	r.CompleteExecution()

	assert.Equal(t, 100.0, r.SuccessRate())
	assert.Equal(t, Compliant, r.Compliance)
	assert.True(t, r.Succeeded())
	assert.False(t, r.ShouldRetry(3))
}

func TestRates(t *testing.T) {
	r := &LoadResult{TotalRecords: 200, SuccessfulRecords: 150, ErrorCount: 50}
	assert.Equal(t, 75.0, r.SuccessRate())
	assert.Equal(t, 25.0, r.ErrorRate())

	empty := &LoadResult{}
	assert.Zero(t, empty.SuccessRate())
	assert.Zero(t, empty.ErrorRate())

	empty.AddError("ORA-03113: end-of-file on communication channel")
	assert.Equal(t, 100.0, empty.ErrorRate())

	over := &LoadResult{TotalRecords: 2, ErrorCount: 5}
	assert.Equal(t, 100.0, over.ErrorRate())
}

func TestErrorRateCountsFailedRecords(t *testing.T) {
	// one summary error for forty rejected rows
	r := &LoadResult{TotalRecords: 100, SuccessfulRecords: 50, RejectedRecords: 40, DiscardedRecords: 10, ErrorCount: 1}
	assert.Equal(t, int64(50), r.FailedRecords())
	assert.Equal(t, 50.0, r.ErrorRate())
	assert.False(t, r.ShouldRetry(3))
}

func TestSuccessFlag(t *testing.T) {
	cases := []struct {
		name    string
		result  LoadResult
		success bool
	}{
		{"everything loaded", LoadResult{TotalRecords: 4, SuccessfulRecords: 4}, true},
		{"warnings only", LoadResult{TotalRecords: 4, SuccessfulRecords: 4, WarningCount: 1}, true},
		{"non-zero return code", LoadResult{TotalRecords: 4, SuccessfulRecords: 4, ReturnCode: 2}, false},
		{"loader never ran", LoadResult{TotalRecords: 4, ReturnCode: ReturnCodeNotRun}, false},
		{"rejected rows", LoadResult{TotalRecords: 4, SuccessfulRecords: 3, RejectedRecords: 1}, false},
		{"discarded rows", LoadResult{TotalRecords: 4, SuccessfulRecords: 3, DiscardedRecords: 1}, false},
		{"errors", LoadResult{TotalRecords: 4, SuccessfulRecords: 4, ErrorCount: 1}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.result
			r.CompleteExecution()
			assert.Equal(t, tc.success, r.Success)
			assert.Equal(t, tc.success, r.Succeeded())
		})
	}
}

func TestCompleteExecutionIsIdempotent(t *testing.T) {
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Second)
	r := &LoadResult{TotalRecords: 100, SuccessfulRecords: 80, WarningCount: 1, StartTime: start, EndTime: end}

	r.completeAt(start.Add(time.Hour))
	assert.Equal(t, end, r.EndTime)
	assert.Equal(t, int64(4000), r.DurationMs)
	assert.Equal(t, 20.0, r.ThroughputPerSecond)
	assert.Equal(t, 40.0, r.AvgRecordMs)
	assert.Equal(t, CompliantWithWarnings, r.Compliance)

	r.completeAt(start.Add(2 * time.Hour))
	assert.Equal(t, end, r.EndTime)
	assert.Equal(t, int64(4000), r.DurationMs)
	assert.Equal(t, 20.0, r.ThroughputPerSecond)
}

func TestCompleteExecutionSetsEndTimeOnce(t *testing.T) {
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	r := &LoadResult{TotalRecords: 10, StartTime: start}
	r.AddError("boom")

	r.completeAt(start.Add(time.Second))
	assert.Equal(t, start.Add(time.Second), r.EndTime)
	assert.Equal(t, int64(1000), r.DurationMs)
	assert.Equal(t, NonCompliant, r.Compliance)

	r.completeAt(start.Add(time.Minute))
	assert.Equal(t, start.Add(time.Second), r.EndTime)
	assert.Equal(t, int64(1000), r.DurationMs)
}

func TestRetryPolicy(t *testing.T) {
	failed := func(total, errs int64, retries int, msgs ...string) *LoadResult {
		r := &LoadResult{TotalRecords: total, SuccessfulRecords: total - errs, RejectedRecords: errs, ErrorCount: errs, RetryCount: retries}
		r.Errors = msgs
		return r
	}

	cases := []struct {
		name   string
		result *LoadResult
		max    int
		retry  bool
		marker string
	}{
		{"budget exhausted", failed(100, 1, 3, "ORA-00054: resource busy"), 3, false, ""},
		{"succeeded", &LoadResult{TotalRecords: 5, SuccessfulRecords: 5, Success: true}, 3, false, ""},
		{"loader never ran", &LoadResult{TotalRecords: 1, ReturnCode: ReturnCodeNotRun, ErrorCount: 1, Errors: []string{"exec: not started"}}, 3, true, ""},
		{"loader never ran with a fatal marker", &LoadResult{TotalRecords: 1, ReturnCode: ReturnCodeNotRun, ErrorCount: 1, Errors: []string{"ORA-01031: insufficient privileges"}}, 3, false, "ORA-01031"},
		{"missing table", failed(100, 1, 0, "ORA-00942: table or view does not exist"), 3, false, "ORA-00942"},
		{"privileges", failed(100, 1, 0, "ORA-01031: insufficient privileges"), 3, false, "ORA-01031"},
		{"control file syntax", failed(100, 1, 0, "SQL*Loader-350: Syntax error at line 4."), 3, false, "SQL*Loader-350"},
		{"non-retryable wins", failed(100, 2, 0, "ORA-00054: resource busy", "ORA-00955: name is already used"), 3, false, "ORA-00955"},
		{"resource busy at high error rate", failed(100, 90, 0, "ORA-00054: resource busy"), 3, true, "ORA-00054"},
		{"connect timeout", failed(100, 100, 1, "ORA-12170: TNS:Connect timeout occurred"), 3, true, "ORA-12170"},
		{"unclassified low rate", failed(100, 10, 0, "ORA-01400: cannot insert NULL"), 3, true, ""},
		{"unclassified at cutoff", failed(100, 50, 0, "ORA-01400: cannot insert NULL"), 3, false, ""},
		{"unclassified majority", failed(100, 80, 0), 3, false, ""},
	}

	p := DefaultRetryPolicy()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Decide(tc.result, tc.max)
			assert.Equal(t, tc.retry, d.Retry, d.Reason)
			assert.Equal(t, tc.marker, d.Marker)
			assert.Equal(t, tc.retry, tc.result.ShouldRetry(tc.max))
		})
	}
}

func TestRetryPolicyCustomCutoff(t *testing.T) {
	r := &LoadResult{TotalRecords: 100, SuccessfulRecords: 70, RejectedRecords: 30, ErrorCount: 30}
	assert.True(t, DefaultRetryPolicy().ShouldRetry(r, 3))

	strict := DefaultRetryPolicy()
	strict.ErrorRateCutoff = 20
	assert.False(t, strict.ShouldRetry(r, 3))

	custom := RetryPolicy{Retryable: []string{"DEADLOCK"}, ErrorRateCutoff: 1}
	r.Errors = []string{"DEADLOCK detected"}
	assert.True(t, custom.ShouldRetry(r, 3))
}
