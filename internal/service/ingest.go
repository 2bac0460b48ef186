package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/loadgate/internal/audit"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/metrics"
	"github.com/timmy/loadgate/internal/source"
	"github.com/timmy/loadgate/internal/threshold"
	"github.com/timmy/loadgate/internal/validation"
	"golang.org/x/sync/errgroup"
)

// LoadService runs inbound files through validation, the error threshold,
// staging and the loader.
type LoadService struct {
	provider   validation.ConfigurationProvider
	validator  *validation.FileValidator
	thresholds *threshold.Manager
	stager     *Stager
	pool       *WorkerPool
	executions ExecutionStore
	sink       audit.Sink
	metrics    *metrics.Collector
	logger     *logger.Logger
	cfg        RunConfig
}

// RunConfig holds configuration for the load service.
type RunConfig struct {
	// StopOnMaxErrors aborts reading a file once its errors exceed the
	// configuration's MaxErrors.
	StopOnMaxErrors bool
	// FileWorkers is the number of files processed concurrently by RunSource.
	FileWorkers int
}

// LoadDeps bundles the collaborators of a LoadService. Pool may be nil, in
// which case runs stop after staging.
type LoadDeps struct {
	Provider   validation.ConfigurationProvider
	Validator  *validation.FileValidator
	Thresholds *threshold.Manager
	Stager     *Stager
	Pool       *WorkerPool
	Executions ExecutionStore
	Sink       audit.Sink
	Metrics    *metrics.Collector
	Logger     *logger.Logger
}

// NewLoadService creates a new load service.
func NewLoadService(deps LoadDeps, cfg RunConfig) *LoadService {
	if cfg.FileWorkers <= 0 {
		cfg.FileWorkers = 1
	}
	sink := deps.Sink
	if sink == nil {
		sink = audit.Nop
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	return &LoadService{
		provider:   deps.Provider,
		validator:  deps.Validator,
		thresholds: deps.Thresholds,
		stager:     deps.Stager,
		pool:       deps.Pool,
		executions: deps.Executions,
		sink:       sink,
		metrics:    deps.Metrics,
		logger:     log,
		cfg:        cfg,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *LoadService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// RunRequest describes one inbound file.
type RunRequest struct {
	ConfigID          string
	Path              string
	BusinessDate      time.Time
	TransactionTypeID string
	CorrelationID     string
	// SkipLoad stops after staging.
	SkipLoad bool
}

// RunReport is the outcome of one run.
type RunReport struct {
	Execution *domain.LoadExecution  `json:"execution"`
	Summary   *validation.Summary    `json:"summary,omitempty"`
	Threshold *threshold.CheckResult `json:"threshold,omitempty"`
	Stage     *StageStats            `json:"stage,omitempty"`
	Load      *LoadStats             `json:"load,omitempty"`
}

// Halted reports whether the error threshold stopped the run.
func (r *RunReport) Halted() bool {
	return r.Execution != nil && r.Execution.Status == domain.ExecutionHalted
}

// Run validates one file and, when the error threshold permits, stages its
// valid records and loads them. A STOP_PROCESSING decision halts the
// execution before anything is staged; this is reported through the
// execution status, not as an error.
func (s *LoadService) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	now := time.Now()
	exec := &domain.LoadExecution{
		ID:                uuid.New().String(),
		ConfigID:          req.ConfigID,
		FilePath:          req.Path,
		BusinessDate:      req.BusinessDate,
		TransactionTypeID: req.TransactionTypeID,
		CorrelationID:     req.CorrelationID,
		Status:            domain.ExecutionPending,
		StartedAt:         &now,
	}
	if exec.CorrelationID == "" {
		exec.CorrelationID = uuid.New().String()
	}
	report := &RunReport{Execution: exec}

	ctx = logger.ForExecution(ctx, exec.ID, exec.ConfigID, exec.CorrelationID)
	if err := s.executions.Create(ctx, exec); err != nil {
		return report, fmt.Errorf("failed to create execution: %w", err)
	}
	s.metrics.ExecutionStarted()
	defer s.metrics.ExecutionFinished()

	s.log(ctx).WithField(logger.FieldFile, req.Path).Info("Starting load execution")

	// Validate
	s.setStatus(ctx, exec, domain.ExecutionValidating)
	cfg, catalog, err := s.loadCatalog(ctx, req.ConfigID)
	if err != nil {
		return report, s.fail(ctx, exec, err)
	}
	if exec.TransactionTypeID == "" {
		exec.TransactionTypeID = cfg.TransactionTypeID
	}
	// counters are scoped to one execution of the config
	s.thresholds.ResetThresholds(ctx, cfg.ID)

	opts := []validation.RunOption{validation.WithRecordSink(s.metrics.RecordSink(cfg.ID))}
	if s.cfg.StopOnMaxErrors && cfg.MaxErrors > 0 {
		opts = append(opts, validation.WithStopFunc(s.thresholds.StopFunc(ctx, cfg.ID, cfg.MaxErrors)))
	}
	summary, err := s.validator.ValidateFile(ctx, cfg, catalog, req.Path, opts...)
	report.Summary = summary
	if summary != nil {
		s.metrics.ObserveSummary(summary)
		s.applySummary(exec, summary)
		s.emitValidation(ctx, exec, summary)
	}
	if err != nil {
		return report, s.fail(ctx, exec, err)
	}

	// Threshold
	check := s.thresholds.CheckThreshold(ctx, cfg.ID, cfg, summary)
	report.Threshold = &check
	exec.ThresholdAction = string(check.Action)
	s.metrics.ThresholdDecision(cfg.ID, string(check.Action))
	if check.ShouldStop() {
		s.halt(ctx, exec, check)
		return report, nil
	}

	// Stage
	s.setStatus(ctx, exec, domain.ExecutionStaging)
	stats, err := s.stager.Stage(ctx, StageRequest{
		ExecutionID:       exec.ID,
		CorrelationID:     exec.CorrelationID,
		Config:            cfg,
		BusinessDate:      req.BusinessDate,
		TransactionTypeID: exec.TransactionTypeID,
		Path:              req.Path,
		Summary:           summary,
	})
	report.Stage = stats
	if stats != nil {
		exec.StagedRecords = int(stats.Staged)
	}
	if err != nil {
		return report, s.fail(ctx, exec, fmt.Errorf("staging failed: %w", err))
	}

	// Load
	if s.pool != nil && !req.SkipLoad && stats.Staged > 0 {
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
			exec.LoadedRecords = int(load.Completed)
			exec.RejectedRecords = int(load.Failed)
		}
		if err != nil {
			return report, s.fail(ctx, exec, fmt.Errorf("load failed: %w", err))
		}
	}

	s.setStatus(ctx, exec, domain.ExecutionCompleted)
	logger.With(logger.Fields{
		logger.FieldStatus: string(exec.Status),
		"staged":           exec.StagedRecords,
		"loaded":           exec.LoadedRecords,
		"rejected":         exec.RejectedRecords,
	}).Info(ctx, "Load execution completed")
	return report, nil
}

func (s *LoadService) loadCatalog(ctx context.Context, configID string) (*domain.LoadConfig, *validation.Catalog, error) {
	cfg, err := s.provider.LoadConfig(ctx, configID)
	if err != nil {
		return nil, nil, &validation.ResourceError{Kind: validation.ResourceConfiguration, Path: configID, Err: err}
	}
	rules, err := s.provider.RuleCatalog(ctx, configID)
	if err != nil {
		return nil, nil, &validation.ResourceError{Kind: validation.ResourceConfiguration, Path: configID, Err: err}
	}
	return cfg, validation.NewCatalog(configID, rules), nil
}

func (s *LoadService) applySummary(exec *domain.LoadExecution, summary *validation.Summary) {
	exec.ValidationStatus = string(summary.Status)
	exec.TotalRecords = int(summary.TotalRecords)
	exec.ValidRecords = int(summary.ValidRecords)
	exec.InvalidRecords = int(summary.InvalidRecords)
	exec.ErrorCount = int(summary.ErrorCount)
	exec.WarningCount = int(summary.WarningCount)
}

// setStatus moves the execution to status, persists it and emits a
// STATE_TRANSITION event.
func (s *LoadService) setStatus(ctx context.Context, exec *domain.LoadExecution, status domain.ExecutionStatus) {
	from := exec.Status
	exec.Status = status
	if exec.Finished() {
		now := time.Now()
		exec.CompletedAt = &now
	}
	if err := s.executions.Update(ctx, exec); err != nil {
		s.log(ctx).WithError(err).Error("Failed to persist execution status")
	}

	e := audit.NewEvent(audit.EventStateTransition, fmt.Sprintf("execution %s: %s -> %s", exec.ID, from, status)).
		With("from", string(from)).
		With("to", string(status))
	s.stamp(&e, exec)
	s.sink.Emit(ctx, e)
}

func (s *LoadService) fail(ctx context.Context, exec *domain.LoadExecution, err error) error {
	exec.ErrorLog = err.Error()
	s.setStatus(ctx, exec, domain.ExecutionFailed)
	s.log(ctx).WithError(err).Error("Load execution failed")
	return err
}

func (s *LoadService) halt(ctx context.Context, exec *domain.LoadExecution, check threshold.CheckResult) {
	exec.ErrorLog = check.Message
	s.setStatus(ctx, exec, domain.ExecutionHalted)

	e := audit.NewEvent(audit.EventExecutionHalted, check.Message).
		With("errors", strconv.FormatInt(check.CurrentErrors, 10)).
		With("max_errors", strconv.FormatInt(check.MaxErrors, 10))
	s.stamp(&e, exec)
	e.Severity = string(domain.SeverityCritical)
	s.sink.Emit(ctx, e)

	s.log(ctx).WithField(logger.FieldErrorCount, check.CurrentErrors).Warn("Load execution halted by error threshold")
}

func (s *LoadService) emitValidation(ctx context.Context, exec *domain.LoadExecution, summary *validation.Summary) {
	e := audit.NewEvent(audit.EventValidationCompleted, fmt.Sprintf("validation %s: %d of %d records valid", summary.Status, summary.ValidRecords, summary.TotalRecords)).
		With("status", string(summary.Status)).
		With("errors", strconv.FormatInt(summary.ErrorCount, 10)).
		With("warnings", strconv.FormatInt(summary.WarningCount, 10)).
		With("aborted", strconv.FormatBool(summary.Aborted))
	s.stamp(&e, exec)
	s.sink.Emit(ctx, e)
}

func (s *LoadService) stamp(e *audit.Event, exec *domain.LoadExecution) {
	e.ExecutionID = exec.ID
	e.ConfigID = exec.ConfigID
	e.CorrelationID = exec.CorrelationID
}

// SourceStats holds statistics for a RunSource call.
type SourceStats struct {
	TotalItems     int64
	ProcessedItems int64
	HaltedItems    int64
	FailedItems    int64
	StartTime      time.Time
	EndTime        time.Time
}

// RunSource runs every file of src, up to limit files (limit <= 0 means no
// limit). Completed and halted files are marked done on the source; failed
// files are left for the next run.
func (s *LoadService) RunSource(ctx context.Context, src source.Source, limit int) (*SourceStats, error) {
	stats := &SourceStats{StartTime: time.Now()}
	s.log(ctx).WithFields(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  limit,
	}).Info("Starting source run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FileWorkers)

	cursor := ""
	fetched := 0
	for gctx.Err() == nil {
		batchLimit := 50
		if limit > 0 {
			if fetched >= limit {
				break
			}
			batchLimit = min(batchLimit, limit-fetched)
		}

		items, next, err := src.FetchBatch(gctx, cursor, batchLimit)
		if err != nil {
			_ = g.Wait()
			return stats, fmt.Errorf("failed to fetch from %s: %w", src.GetSourceID(), err)
		}
		if len(items) == 0 {
			break
		}
		fetched += len(items)
		atomic.AddInt64(&stats.TotalItems, int64(len(items)))

		for _, item := range items {
			item := item
			g.Go(func() error {
				s.runItem(gctx, src, item, stats)
				return nil
			})
		}

		if next == "" {
			break
		}
		cursor = next
	}
	_ = g.Wait()
	stats.EndTime = time.Now()

	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"halted":    stats.HaltedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Source run completed")
	return stats, ctx.Err()
}

func (s *LoadService) runItem(ctx context.Context, src source.Source, item source.InboundFile, stats *SourceStats) {
	report, err := s.Run(ctx, RunRequest{
		ConfigID:          item.ConfigID,
		Path:              item.Path,
		BusinessDate:      item.BusinessDate,
		TransactionTypeID: item.TransactionTypeID,
	})
	if err != nil {
		atomic.AddInt64(&stats.FailedItems, 1)
		var rerr *validation.ResourceError
		if errors.As(err, &rerr) {
			s.log(ctx).WithField(logger.FieldFile, item.Path).Warnf("Skipping %s: %v", item.ID, rerr)
		}
		return
	}
	if report.Halted() {
		atomic.AddInt64(&stats.HaltedItems, 1)
	} else {
		atomic.AddInt64(&stats.ProcessedItems, 1)
	}
	if err := src.MarkDone(ctx, item); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldFile, item.Path).Error("Failed to mark inbound file done")
	}
}
