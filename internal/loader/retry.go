package loader

import "strings"

// DefaultErrorRateCutoff is the error rate (percent) at or above which an
// unclassified failure is not retried.
const DefaultErrorRateCutoff = 50.0

// RetryPolicy classifies failed attempts by scanning their error messages.
type RetryPolicy struct {
	// NonRetryable markers stop retries regardless of error rate.
	NonRetryable []string
	// Retryable markers indicate a transient failure.
	Retryable []string
	// ErrorRateCutoff applies when no marker matches: retry only below it.
	ErrorRateCutoff float64
}

// DefaultRetryPolicy returns the built-in Oracle / SQL*Loader classification.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		NonRetryable: []string{
			"ORA-00942",      // table or view does not exist
			"ORA-00955",      // name is already used by an existing object
			"ORA-01031",      // insufficient privileges
			"SQL*Loader-350", // syntax error in control file
		},
		Retryable: []string{
			"ORA-00054", // resource busy
			"ORA-12170", // connect timeout
			"ORA-03113", // end-of-file on communication channel
			"ORA-04031", // unable to allocate shared memory
		},
		ErrorRateCutoff: DefaultErrorRateCutoff,
	}
}

// Decision explains a retry verdict.
type Decision struct {
	Retry  bool   `json:"retry"`
	Reason string `json:"reason"`
	Marker string `json:"marker,omitempty"`
}

// ShouldRetry reports whether r deserves another attempt.
func (p RetryPolicy) ShouldRetry(r *LoadResult, maxRetries int) bool {
	return p.Decide(r, maxRetries).Retry
}

// Decide classifies r. Non-retryable markers win over retryable ones, and an
// attempt that never produced a loader result is retried regardless of its
// size.
func (p RetryPolicy) Decide(r *LoadResult, maxRetries int) Decision {
	if r.RetryCount >= maxRetries {
		return Decision{Reason: "retry budget exhausted"}
	}
	if r.Succeeded() {
		return Decision{Reason: "attempt succeeded"}
	}
	if m := findMarker(r.Errors, p.NonRetryable); m != "" {
		return Decision{Reason: "non-retryable error", Marker: m}
	}
	if m := findMarker(r.Errors, p.Retryable); m != "" {
		return Decision{Retry: true, Reason: "transient error", Marker: m}
	}
	if r.ReturnCode == ReturnCodeNotRun {
		return Decision{Retry: true, Reason: "loader produced no result"}
	}

	cutoff := p.ErrorRateCutoff
	if cutoff <= 0 {
		cutoff = DefaultErrorRateCutoff
	}
	if r.ErrorRate() < cutoff {
		return Decision{Retry: true, Reason: "error rate below cutoff"}
	}
	return Decision{Reason: "error rate at or above cutoff"}
}

func findMarker(messages, markers []string) string {
	for _, marker := range markers {
		for _, msg := range messages {
			if strings.Contains(msg, marker) {
				return marker
			}
		}
	}
	return ""
}
