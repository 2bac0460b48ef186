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
	"github.com/timmy/loadgate/internal/loader"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	Workers    int
	PageSize   int
	MaxRetries int
	Policy     loader.RetryPolicy
}

// LoadJob identifies the staged records to load.
type LoadJob struct {
	ExecutionID   string
	ConfigID      string
	CorrelationID string
	TargetTable   string
	// MaxRetries overrides PoolConfig.MaxRetries when positive.
	MaxRetries int
}

// LoadStats holds statistics for one WorkerPool run.
type LoadStats struct {
	Batches   int64 `json:"batches"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Conflicts int64 `json:"conflicts"`
	Rounds    int   `json:"rounds"`
}

// WorkerPool loads the staged records of an execution. Every worker visits
// every open partition, starting at a different one, and drains it by
// claiming pages of PENDING records. Claims are atomic, so several workers
// share a partition without overlap.
type WorkerPool struct {
	store   StagingStore
	invoker loader.Invoker
	cfg     PoolConfig
	sink    audit.Sink
	metrics *metrics.Collector
}

// NewWorkerPool creates a WorkerPool. Zero values in cfg fall back to one
// worker, pages of 100 records, three retries and the default retry policy.
func NewWorkerPool(store StagingStore, invoker loader.Invoker, cfg PoolConfig, sink audit.Sink, m *metrics.Collector) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries > domain.MaxRetryCount {
		cfg.MaxRetries = domain.MaxRetryCount
	}
	if cfg.Policy.NonRetryable == nil && cfg.Policy.Retryable == nil {
		cfg.Policy = loader.DefaultRetryPolicy()
	}
	if sink == nil {
		sink = audit.Nop
	}
	return &WorkerPool{store: store, invoker: invoker, cfg: cfg, sink: sink, metrics: m}
}

// Run processes the execution until no PENDING or RETRYING record is left.
// Each round first returns the RETRYING records of every open partition to
// PENDING, then lets the workers drain the partitions. A round in which
// nothing could be claimed ends the run, leaving the remaining records to
// whoever holds them.
func (p *WorkerPool) Run(ctx context.Context, job LoadJob) (*LoadStats, error) {
	maxRetries := p.cfg.MaxRetries
	if job.MaxRetries > 0 {
		maxRetries = min(job.MaxRetries, domain.MaxRetryCount)
	}

	stats := &LoadStats{}
	log := logger.FromContext(ctx).WithField(logger.FieldExecutionID, job.ExecutionID)
	start := time.Now()

	for {
		partitions, err := p.store.Partitions(ctx, job.ExecutionID)
		if err != nil {
			return stats, fmt.Errorf("failed to list partitions: %w", err)
		}
		if len(partitions) == 0 {
			break
		}
		stats.Rounds++

		for _, pk := range partitions {
			n, err := p.store.BulkUpdateStatus(ctx, pk, domain.StatusRetrying, domain.StatusPending)
			if err != nil {
				return stats, fmt.Errorf("failed to requeue partition %s: %w", pk, err)
			}
			if n > 0 {
				log.WithFields(logger.Fields{
					logger.FieldPartitionKey: pk,
					logger.FieldCount:        n,
				}).Debug("Requeued retrying records")
			}
		}

		before := atomic.LoadInt64(&stats.Batches)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < p.cfg.Workers; i++ {
			i := i
			workerID := fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:8])
			g.Go(func() error {
				for j := range partitions {
					pk := partitions[(i+j)%len(partitions)]
					if err := p.drain(gctx, job, pk, workerID, maxRetries, stats); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		if atomic.LoadInt64(&stats.Batches) == before {
			log.Warnf("No records could be claimed in %d open partitions, stopping", len(partitions))
			break
		}
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"batches":              stats.Batches,
		"completed":            stats.Completed,
		"failed":               stats.Failed,
		"retried":              stats.Retried,
		"rounds":               stats.Rounds,
	}).Info(log.WithContext(ctx), "Load finished")
	return stats, nil
}

// drain claims pages of the partition until none is left.
func (p *WorkerPool) drain(ctx context.Context, job LoadJob, partitionKey, workerID string, maxRetries int, stats *LoadStats) error {
	ctx = logger.ForPartition(ctx, partitionKey, workerID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := p.store.ClaimPending(ctx, partitionKey, workerID, p.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		for range recs {
			p.metrics.Transition(string(domain.StatusProcessing))
		}
		atomic.AddInt64(&stats.Batches, 1)
		p.process(ctx, job, partitionKey, recs, maxRetries, stats)
	}
}

// process invokes the loader for one claimed page and persists the outcome of
// every record.
func (p *WorkerPool) process(ctx context.Context, job LoadJob, partitionKey string, recs []*domain.StagingRecord, maxRetries int, stats *LoadStats) {
	batch := loader.Batch{
		ExecutionID:   job.ExecutionID,
		ConfigID:      job.ConfigID,
		CorrelationID: job.CorrelationID,
		PartitionKey:  partitionKey,
		TargetTable:   job.TargetTable,
		Rows:          make([]loader.Row, len(recs)),
	}
	for i, r := range recs {
		batch.Rows[i] = loader.Row{StagingID: r.StagingID, Sequence: r.SequenceNumber, Payload: r.SourceData}
		batch.Attempt = max(batch.Attempt, r.RetryCount)
	}

	start := time.Now()
	res, err := p.invoker.Invoke(ctx, batch)
	elapsed := time.Since(start)
	if err != nil {
		res = loader.NewResult(batch)
		res.StartTime = start
		res.AddError(err.Error())
		res.ReturnCode = loader.ReturnCodeNotRun
	}
	res.CompleteExecution()

	failed := rejectedPositions(res, len(recs))
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case len(failed) > 0:
		outcome = "partial"
	}
	p.metrics.LoaderAttempt(outcome, elapsed)

	var decision loader.Decision
	if len(failed) > 0 {
		decision = p.cfg.Policy.Decide(res, maxRetries)
		p.metrics.RetryDecision(decision.Retry)
		p.emitDecision(ctx, job, partitionKey, res, decision)
	}

	for i, rec := range recs {
		from := rec.ProcessingStatus
		msg, rejected := failed[i+1]
		var terr error
		switch {
		case !rejected:
			terr = rec.MarkAsCompleted(rec.SourceData)
		case decision.Retry && rec.RetryCount < maxRetries:
			terr = rec.MarkForRetry(msg)
			if errors.Is(terr, domain.ErrRetryBudgetExhausted) {
				terr = rec.MarkAsFailed(msg)
			}
		default:
			terr = rec.MarkAsFailed(msg)
		}
		if terr != nil {
			logger.FromContext(ctx).WithError(terr).Error("Illegal staging transition")
			continue
		}
		p.persist(ctx, rec, from, stats)
	}
}

func (p *WorkerPool) persist(ctx context.Context, rec *domain.StagingRecord, from domain.ProcessingStatus, stats *LoadStats) {
	if err := p.store.Transition(ctx, rec, from); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			atomic.AddInt64(&stats.Conflicts, 1)
			logger.FromContext(ctx).WithField("staging_id", rec.StagingID).Warn("Staging record changed concurrently, outcome dropped")
			return
		}
		logger.FromContext(ctx).WithError(err).WithField("staging_id", rec.StagingID).Error("Failed to persist staging outcome")
		return
	}
	p.metrics.Transition(string(rec.ProcessingStatus))
	switch rec.ProcessingStatus {
	case domain.StatusCompleted:
		atomic.AddInt64(&stats.Completed, 1)
	case domain.StatusFailed:
		atomic.AddInt64(&stats.Failed, 1)
	case domain.StatusRetrying:
		atomic.AddInt64(&stats.Retried, 1)
	}
}

func (p *WorkerPool) emitDecision(ctx context.Context, job LoadJob, partitionKey string, res *loader.LoadResult, d loader.Decision) {
	e := audit.NewEvent(audit.EventRetryDecision, d.Reason).
		With("partition_key", partitionKey).
		With("retry", strconv.FormatBool(d.Retry)).
		With("error_rate", strconv.FormatFloat(res.ErrorRate(), 'f', 2, 64)).
		With("attempt", strconv.Itoa(res.RetryCount))
	if d.Marker != "" {
		e = e.With("marker", d.Marker)
	}
	e.ExecutionID = job.ExecutionID
	e.ConfigID = job.ConfigID
	e.CorrelationID = job.CorrelationID
	e.Severity = string(res.Compliance)
	p.sink.Emit(ctx, e)
}

// rejectedPositions maps the 1-based batch positions of failed records to
// their error message. An unsuccessful attempt without per-record rejections
// fails the whole batch.
func rejectedPositions(res *loader.LoadResult, n int) map[int]string {
	failed := make(map[int]string)
	for _, r := range res.Rejections {
		if r.Record >= 1 && r.Record <= n {
			failed[r.Record] = r.Message
		}
	}
	if len(failed) > 0 || res.Succeeded() {
		return failed
	}
	if res.SuccessfulRecords >= int64(n) && res.ErrorCount == 0 {
		return failed
	}
	msg := "load attempt failed"
	if len(res.Errors) > 0 {
		msg = res.Errors[0]
	}
	for i := 1; i <= n; i++ {
		failed[i] = msg
	}
	return failed
}
