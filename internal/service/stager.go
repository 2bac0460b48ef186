package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/metrics"
	"github.com/timmy/loadgate/internal/validation"
)

// DefaultInsertBatchSize is the number of records buffered per InsertBatch call.
const DefaultInsertBatchSize = 500

// ErrSummaryIncomplete is returned when staging is asked to use a summary from
// a validation pass that did not read the whole file.
var ErrSummaryIncomplete = errors.New("validation summary does not cover the whole file")

// StageRequest describes one file to stage.
type StageRequest struct {
	ExecutionID       string
	CorrelationID     string
	Config            *domain.LoadConfig
	BusinessDate      time.Time
	TransactionTypeID string
	Path              string
	// Summary is the result of validating Path. Records it marks invalid are
	// not staged.
	Summary *validation.Summary
}

// StageStats counts what Stage did.
type StageStats struct {
	Staged           int64 `json:"staged"`
	SkippedInvalid   int64 `json:"skipped_invalid"`
	SkippedDuplicate int64 `json:"skipped_duplicate"`
	FirstSequence    int64 `json:"first_sequence"`
	LastSequence     int64 `json:"last_sequence"`
}

// Stager inserts the valid records of a validated file as PENDING staging rows.
type Stager struct {
	store     StagingStore
	batchSize int
	metrics   *metrics.Collector
}

// NewStager creates a Stager. batchSize <= 0 uses DefaultInsertBatchSize.
func NewStager(store StagingStore, batchSize int, m *metrics.Collector) *Stager {
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}
	return &Stager{store: store, batchSize: batchSize, metrics: m}
}

// Stage re-reads the file and inserts every record the summary did not mark
// invalid. Sequence numbers continue after the highest one already stored for
// the execution; records whose data hash is already staged are skipped.
func (s *Stager) Stage(ctx context.Context, req StageRequest) (*StageStats, error) {
	if req.Summary == nil || !req.Summary.Finalized() || req.Summary.Aborted {
		return nil, ErrSummaryIncomplete
	}
	if !req.Summary.TracksInvalid() && req.Summary.InvalidRecords > 0 {
		return nil, fmt.Errorf("%w: invalid records were not tracked", ErrSummaryIncomplete)
	}
	if req.Config == nil {
		return nil, errors.New("stage: load configuration is required")
	}

	businessDate := req.BusinessDate
	if businessDate.IsZero() {
		businessDate = time.Now().UTC().Truncate(24 * time.Hour)
	}
	txType := req.TransactionTypeID
	if txType == "" {
		txType = req.Config.TransactionTypeID
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for staging: %w", req.Path, err)
	}
	defer f.Close()

	seq, err := s.store.MaxSequence(ctx, req.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read max sequence: %w", err)
	}

	stats := &StageStats{}
	seen := make(map[string]bool)
	pending := make([]*domain.StagingRecord, 0, s.batchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		hashes := make([]string, len(pending))
		for i, r := range pending {
			hashes[i] = r.DataHash
		}
		existing, err := s.store.ExistingHashes(ctx, req.ExecutionID, hashes)
		if err != nil {
			return fmt.Errorf("failed to check staged hashes: %w", err)
		}

		batch := pending[:0]
		for _, r := range pending {
			if existing[r.DataHash] {
				stats.SkippedDuplicate++
				continue
			}
			seq++
			r.SequenceNumber = seq
			if stats.FirstSequence == 0 {
				stats.FirstSequence = seq
			}
			stats.LastSequence = seq
			batch = append(batch, r)
		}
		if err := s.store.InsertBatch(ctx, batch); err != nil {
			return err
		}
		stats.Staged += int64(len(batch))
		s.metrics.RecordsStaged(req.Config.ID, len(batch))
		pending = pending[:0]
		return nil
	}

	reader := validation.NewReader(f, req.Config)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}
		if rec.ParseError != "" || req.Summary.IsInvalid(rec.Number) {
			stats.SkippedInvalid++
			continue
		}

		r := domain.NewStagingRecord(req.ExecutionID, txType, businessDate, 0, rec.Raw, req.CorrelationID)
		if seen[r.DataHash] {
			stats.SkippedDuplicate++
			continue
		}
		seen[r.DataHash] = true

		pending = append(pending, r)
		if len(pending) >= s.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	logger.With(logger.Fields{
		logger.FieldCount:   stats.Staged,
		"skipped_invalid":   stats.SkippedInvalid,
		"skipped_duplicate": stats.SkippedDuplicate,
	}).Info(ctx, "Staged records %d..%d", stats.FirstSequence, stats.LastSequence)
	return stats, nil
}
