package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/timmy/loadgate/internal/audit"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
)

var (
	// ErrNoLoader is returned by operations that need a configured loader.
	ErrNoLoader = errors.New("no loader configured")
	// ErrExecutionActive is returned when an execution is still running.
	ErrExecutionActive = errors.New("execution is still running")
)

// RequeueStats counts the outcome of RequeueFailed.
type RequeueStats struct {
	Requeued  int `json:"requeued"`
	Exhausted int `json:"exhausted"`
	Conflicts int `json:"conflicts"`
}

// RequeueFailed moves the FAILED records of an execution back to RETRYING,
// spending one unit of their retry budget. Records without budget stay FAILED.
// The next Run of the execution picks the requeued records up.
func (p *WorkerPool) RequeueFailed(ctx context.Context, executionID, correlationID string) (*RequeueStats, error) {
	recs, err := p.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging records: %w", err)
	}

	stats := &RequeueStats{}
	for _, rec := range recs {
		if rec.ExecutionID != executionID || rec.ProcessingStatus != domain.StatusFailed {
			continue
		}
		if !rec.CanRetry() {
			stats.Exhausted++
			continue
		}
		if err := rec.MarkForRetry("operator retry after: " + rec.ErrorMessage); err != nil {
			return stats, err
		}
		err := p.store.Transition(ctx, rec, domain.StatusFailed)
		switch {
		case errors.Is(err, domain.ErrConcurrentModification):
			stats.Conflicts++
			continue
		case err != nil:
			return stats, fmt.Errorf("failed to requeue %s: %w", rec.StagingID, err)
		}
		p.metrics.Transition(string(rec.ProcessingStatus))
		stats.Requeued++
	}
	return stats, nil
}

// RetryReport is the outcome of LoadService.Retry.
type RetryReport struct {
	Execution *domain.LoadExecution `json:"execution"`
	Requeue   *RequeueStats         `json:"requeue"`
	Load      *LoadStats            `json:"load,omitempty"`
}

// Retry gives the FAILED records of a finished execution another load attempt.
// When nothing could be requeued the execution is left untouched.
func (s *LoadService) Retry(ctx context.Context, executionID string) (*RetryReport, error) {
	if s.pool == nil {
		return nil, ErrNoLoader
	}
	exec, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !exec.Finished() {
		return nil, fmt.Errorf("execution %s is %s: %w", exec.ID, exec.Status, ErrExecutionActive)
	}
	ctx = logger.ForExecution(ctx, exec.ID, exec.ConfigID, exec.CorrelationID)

	cfg, err := s.provider.LoadConfig(ctx, exec.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", exec.ConfigID, err)
	}

	report := &RetryReport{Execution: exec}
	report.Requeue, err = s.pool.RequeueFailed(ctx, exec.ID, exec.CorrelationID)
	if err != nil {
		return report, err
	}
	if report.Requeue.Requeued == 0 {
		s.log(ctx).WithField("exhausted", report.Requeue.Exhausted).Info("No failed records to retry")
		return report, nil
	}

	e := audit.NewEvent(audit.EventRetryDecision, fmt.Sprintf("operator retry of %d failed records", report.Requeue.Requeued)).
		With("retry", "true").
		With("requeued", strconv.Itoa(report.Requeue.Requeued))
	s.stamp(&e, exec)
	s.sink.Emit(ctx, e)

	exec.ErrorLog = ""
	s.setStatus(ctx, exec, domain.ExecutionLoading)
	load, err := s.pool.Run(ctx, LoadJob{
		ExecutionID:   exec.ID,
		ConfigID:      cfg.ID,
		CorrelationID: exec.CorrelationID,
		TargetTable:   cfg.TargetTable,
		MaxRetries:    cfg.MaxRetries,
	})
	report.Load = load
	if load != nil {
		exec.LoadedRecords += int(load.Completed)
		exec.RejectedRecords = max(exec.RejectedRecords-report.Requeue.Requeued, 0) + int(load.Failed)
	}
	if err != nil {
		return report, s.fail(ctx, exec, fmt.Errorf("retry load failed: %w", err))
	}
	s.setStatus(ctx, exec, domain.ExecutionCompleted)
	return report, nil
}
