package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/loadgate/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StagingRepository persists staging records. Every status change is a
// compare-and-set on the expected status and row version.
type StagingRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewStagingRepository creates a new StagingRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - batchSize: rows per INSERT statement; <= 0 uses 500.
// Returns:
//   - *StagingRepository: repository instance bound to db.
func NewStagingRepository(db *gorm.DB, batchSize int) *StagingRepository {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &StagingRepository{db: db, batchSize: batchSize}
}

// InsertBatch inserts records in chunks inside one transaction.
func (r *StagingRepository) InsertBatch(ctx context.Context, records []*domain.StagingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(records, r.batchSize).Error; err != nil {
		return fmt.Errorf("failed to insert %d staging records: %w", len(records), err)
	}
	return nil
}

// MaxSequence returns the highest sequence number of an execution, 0 when empty.
func (r *StagingRepository) MaxSequence(ctx context.Context, executionID string) (int64, error) {
	var maxSeq int64
	err := r.db.WithContext(ctx).Model(&domain.StagingRecord{}).
		Where("execution_id = ?", executionID).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq, nil
}

// ExistingHashes returns which of hashes are already staged for the execution.
func (r *StagingRepository) ExistingHashes(ctx context.Context, executionID string, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(hashes); start += inChunk {
		end := min(start+inChunk, len(hashes))
		var got []string
		err := r.db.WithContext(ctx).Model(&domain.StagingRecord{}).
			Where("execution_id = ? AND data_hash IN ?", executionID, hashes[start:end]).
			Distinct().
			Pluck("data_hash", &got).Error
		if err != nil {
			return nil, err
		}
		for _, h := range got {
			found[h] = true
		}
	}
	return found, nil
}

// Partitions lists the partitions of an execution that still hold PENDING or
// RETRYING records.
func (r *StagingRepository) Partitions(ctx context.Context, executionID string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&domain.StagingRecord{}).
		Where("execution_id = ? AND processing_status IN ?", executionID,
			[]domain.ProcessingStatus{domain.StatusPending, domain.StatusRetrying}).
		Distinct().
		Order("partition_key").
		Pluck("partition_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ClaimPending moves up to limit PENDING records of a partition to PROCESSING
// for workerID and returns them. Records claimed by a concurrent worker are
// never returned twice.
func (r *StagingRepository) ClaimPending(ctx context.Context, partitionKey, workerID string, limit int) ([]*domain.StagingRecord, error) {
	var claimed []*domain.StagingRecord
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.StagingRecord{}).
			Where("partition_key = ? AND processing_status = ?", partitionKey, domain.StatusPending).
			Order("created_timestamp ASC, sequence_number ASC").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var ids []string
		if err := q.Pluck("staging_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Model(&domain.StagingRecord{}).
			Where("staging_id IN ? AND processing_status = ?", ids, domain.StatusPending).
			Updates(map[string]interface{}{
				"processing_status":   domain.StatusProcessing,
				"thread_id":           workerID,
				"processed_timestamp": now,
				"version":             gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Where("staging_id IN ? AND processing_status = ? AND thread_id = ?", ids, domain.StatusProcessing, workerID).
			Order("sequence_number ASC").
			Find(&claimed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim partition %s: %w", partitionKey, err)
	}
	return claimed, nil
}

// Transition persists rec after an in-memory status change. The update only
// applies while the row is still in status from at rec's version; otherwise
// domain.ErrConcurrentModification is returned and rec is left unchanged.
func (r *StagingRepository) Transition(ctx context.Context, rec *domain.StagingRecord, from domain.ProcessingStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.StagingRecord{}).
		Where("staging_id = ? AND processing_status = ? AND version = ?", rec.StagingID, from, rec.Version).
		Updates(map[string]interface{}{
			"processing_status":   rec.ProcessingStatus,
			"processed_data":      rec.ProcessedData,
			"thread_id":           rec.ThreadID,
			"retry_count":         rec.RetryCount,
			"error_message":       rec.ErrorMessage,
			"processed_timestamp": rec.ProcessedTimestamp,
			"version":             rec.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update staging record %s: %w", rec.StagingID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("staging record %s %s->%s: %w", rec.StagingID, from, rec.ProcessingStatus, domain.ErrConcurrentModification)
	}
	rec.Version++
	return nil
}

// FindStale returns PROCESSING records created before now-window, oldest first.
func (r *StagingRepository) FindStale(ctx context.Context, window time.Duration, now time.Time, limit int) ([]*domain.StagingRecord, error) {
	var recs []*domain.StagingRecord
	q := r.db.WithContext(ctx).
		Where("processing_status = ? AND created_timestamp < ?", domain.StatusProcessing, now.Add(-window)).
		Order("created_timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// FindByCorrelationID returns all records sharing a correlation id in sequence order.
func (r *StagingRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]*domain.StagingRecord, error) {
	var recs []*domain.StagingRecord
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("sequence_number ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Get returns one record.
func (r *StagingRepository) Get(ctx context.Context, stagingID string) (*domain.StagingRecord, error) {
	var rec domain.StagingRecord
	if err := r.db.WithContext(ctx).First(&rec, "staging_id = ?", stagingID).Error; err != nil {
		return nil, notFound(err, "staging record", stagingID)
	}
	return &rec, nil
}

// BulkUpdateStatus moves every record of a partition from one status to
// another and returns the number of rows changed. Moving to PENDING also
// releases the owning worker.
func (r *StagingRepository) BulkUpdateStatus(ctx context.Context, partitionKey string, from, to domain.ProcessingStatus) (int64, error) {
	if !domain.CanTransition(from, to) {
		return 0, &domain.TransitionError{StagingID: partitionKey, From: from, To: to}
	}
	updates := map[string]interface{}{
		"processing_status": to,
		"version":           gorm.Expr("version + 1"),
	}
	if to == domain.StatusPending {
		updates["thread_id"] = ""
		updates["processed_timestamp"] = nil
	}
	res := r.db.WithContext(ctx).Model(&domain.StagingRecord{}).
		Where("partition_key = ? AND processing_status = ?", partitionKey, from).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CountByStatus returns record counts per status for an execution. Every
// status is present in the result.
func (r *StagingRepository) CountByStatus(ctx context.Context, executionID string) (map[domain.ProcessingStatus]int64, error) {
	var rows []struct {
		ProcessingStatus domain.ProcessingStatus
		Count            int64
	}
	err := r.db.WithContext(ctx).Model(&domain.StagingRecord{}).
		Select("processing_status, COUNT(*) AS count").
		Where("execution_id = ?", executionID).
		Group("processing_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.ProcessingStatus]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.ProcessingStatus] = row.Count
	}
	return counts, nil
}
