package domain

import (
	"errors"
	"fmt"
)

// ProcessingStatus is the state of a StagingRecord.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
	StatusRetrying   ProcessingStatus = "RETRYING"
)

// AllStatuses lists every processing status in lifecycle order.
var AllStatuses = []ProcessingStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusRetrying,
}

// transitions is the legality matrix for staging status changes.
//
//	PENDING    -> PROCESSING                         claim
//	PROCESSING -> COMPLETED | FAILED | RETRYING      outcome
//	PROCESSING -> PENDING                            stale reset
//	RETRYING   -> PENDING | PROCESSING | FAILED      re-queue, direct re-claim, budget exhausted
//	FAILED     -> RETRYING                           operator retry
var transitions = map[ProcessingStatus]map[ProcessingStatus]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusRetrying:  true,
		StatusPending:   true,
	},
	StatusRetrying: {
		StatusPending:    true,
		StatusProcessing: true,
		StatusFailed:     true,
	},
	StatusFailed: {
		StatusRetrying: true,
	},
	StatusCompleted: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to ProcessingStatus) bool {
	return transitions[from][to]
}

// IsValid reports whether s is a known status.
func (s ProcessingStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s ProcessingStatus) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// Claimable reports whether a worker may move a record in this status to PROCESSING.
func (s ProcessingStatus) Claimable() bool {
	return CanTransition(s, StatusProcessing)
}

var (
	// ErrIllegalTransition is wrapped by every TransitionError.
	ErrIllegalTransition = errors.New("illegal staging status transition")

	// ErrRetryBudgetExhausted is returned by MarkForRetry once the retry cap is reached.
	ErrRetryBudgetExhausted = errors.New("staging retry budget exhausted")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	StagingID string
	From      ProcessingStatus
	To        ProcessingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("staging record %s: cannot move from %s to %s", e.StagingID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}
