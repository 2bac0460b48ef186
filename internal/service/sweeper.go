package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/timmy/loadgate/internal/audit"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/metrics"
)

// DefaultStaleWindow is how long a record may stay PROCESSING before the
// sweeper reclaims it.
const DefaultStaleWindow = 30 * time.Minute

const sweepPageSize = 500

// SweepStats counts what one sweep did.
type SweepStats struct {
	Found     int `json:"found"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Sweeper returns stale PROCESSING records to the pool. A record with retry
// budget left goes PROCESSING -> RETRYING -> PENDING; one without goes to
// FAILED.
type Sweeper struct {
	store   StagingStore
	window  time.Duration
	sink    audit.Sink
	metrics *metrics.Collector
	now     func() time.Time
}

// NewSweeper creates a Sweeper. window <= 0 uses DefaultStaleWindow.
func NewSweeper(store StagingStore, window time.Duration, sink audit.Sink, m *metrics.Collector) *Sweeper {
	if window <= 0 {
		window = DefaultStaleWindow
	}
	if sink == nil {
		sink = audit.Nop
	}
	return &Sweeper{store: store, window: window, sink: sink, metrics: m, now: time.Now}
}

// Window returns the staleness window.
func (s *Sweeper) Window() time.Duration { return s.window }

// FindStale lists up to limit stale records without changing them.
func (s *Sweeper) FindStale(ctx context.Context, limit int) ([]*domain.StagingRecord, error) {
	return s.store.FindStale(ctx, s.window, s.now(), limit)
}

// Sweep handles every stale record found at call time.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepStats, error) {
	ctx = logger.SetComponent(ctx, "sweeper")
	stats := &SweepStats{}
	now := s.now()
	seen := make(map[string]bool)

	for {
		recs, err := s.store.FindStale(ctx, s.window, now, sweepPageSize)
		if err != nil {
			return stats, fmt.Errorf("failed to find stale records: %w", err)
		}
		fresh := 0
		for _, rec := range recs {
			if seen[rec.StagingID] {
				continue
			}
			seen[rec.StagingID] = true
			fresh++
			stats.Found++
			s.reset(ctx, rec, stats)
		}
		if fresh == 0 || len(recs) < sweepPageSize {
			break
		}
	}

	if stats.Found > 0 {
		logger.With(logger.Fields{
			logger.FieldCount: stats.Found,
			"requeued":        stats.Requeued,
			"failed":          stats.Failed,
			"conflicts":       stats.Conflicts,
		}).Warn(ctx, "Reclaimed stale records older than %s", s.window)
	}
	return stats, nil
}

func (s *Sweeper) reset(ctx context.Context, rec *domain.StagingRecord, stats *SweepStats) {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldExecutionID:  rec.ExecutionID,
		logger.FieldPartitionKey: rec.PartitionKey,
		"staging_id":             rec.StagingID,
		"thread_id":              rec.ThreadID,
	})
	msg := fmt.Sprintf("stale: processing for more than %s by %s", s.window, rec.ThreadID)

	if err := rec.MarkForRetry(msg); err != nil {
		if !errors.Is(err, domain.ErrRetryBudgetExhausted) {
			log.WithError(err).Error("Cannot reset stale record")
			return
		}
		if err := rec.MarkAsFailed(msg + ", retry budget exhausted"); err != nil {
			log.WithError(err).Error("Cannot fail stale record")
			return
		}
		if !s.persist(ctx, rec, domain.StatusProcessing, stats) {
			return
		}
		stats.Failed++
		s.metrics.StaleReset("failed")
		s.emit(ctx, rec, "failed")
		return
	}
	if !s.persist(ctx, rec, domain.StatusProcessing, stats) {
		return
	}

	if err := rec.ResetForRetry(); err != nil {
		log.WithError(err).Error("Cannot requeue stale record")
		return
	}
	if !s.persist(ctx, rec, domain.StatusRetrying, stats) {
		return
	}
	stats.Requeued++
	s.metrics.StaleReset("requeued")
	s.emit(ctx, rec, "requeued")
}

func (s *Sweeper) persist(ctx context.Context, rec *domain.StagingRecord, from domain.ProcessingStatus, stats *SweepStats) bool {
	err := s.store.Transition(ctx, rec, from)
	if err == nil {
		s.metrics.Transition(string(rec.ProcessingStatus))
		return true
	}
	if errors.Is(err, domain.ErrConcurrentModification) {
		stats.Conflicts++
		s.metrics.StaleReset("conflict")
		logger.FromContext(ctx).WithField("staging_id", rec.StagingID).Info("Stale record changed concurrently, skipped")
		return false
	}
	logger.FromContext(ctx).WithError(err).WithField("staging_id", rec.StagingID).Error("Failed to persist stale reset")
	return false
}

func (s *Sweeper) emit(ctx context.Context, rec *domain.StagingRecord, outcome string) {
	e := audit.NewEvent(audit.EventStaleReset, rec.ErrorMessage).
		With("outcome", outcome).
		With("retry_count", strconv.Itoa(rec.RetryCount)).
		With("partition_key", rec.PartitionKey)
	e.ExecutionID = rec.ExecutionID
	e.CorrelationID = rec.CorrelationID
	e.StagingID = rec.StagingID
	e.Severity = string(domain.SeverityWarning)
	s.sink.Emit(ctx, e)
}
