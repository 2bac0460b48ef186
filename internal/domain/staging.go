package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxRetryCount caps StagingRecord.RetryCount.
const MaxRetryCount = 10

// BusinessDateLayout is the layout used for business dates in files and APIs.
const BusinessDateLayout = "2006-01-02"

// StagingRecord is one transaction row awaiting, under or after processing.
// A record is owned by the worker that moved it to PROCESSING until it leaves
// that state.
type StagingRecord struct {
	StagingID          string           `gorm:"type:text;primaryKey" json:"staging_id"`
	ExecutionID        string           `gorm:"type:text;not null;index:idx_staging_exec_seq,priority:1" json:"execution_id"`
	TransactionTypeID  string           `gorm:"type:text;not null" json:"transaction_type_id"`
	SequenceNumber     int64            `gorm:"not null;index:idx_staging_exec_seq,priority:2" json:"sequence_number"`
	SourceData         string           `gorm:"type:text" json:"source_data"`
	ProcessedData      *string          `gorm:"type:text" json:"processed_data,omitempty"`
	ProcessingStatus   ProcessingStatus `gorm:"type:text;not null;default:PENDING;index:idx_staging_partition_status,priority:2" json:"processing_status"`
	CorrelationID      string           `gorm:"type:text;index" json:"correlation_id"`
	PartitionKey       string           `gorm:"type:text;not null;index:idx_staging_partition_status,priority:1" json:"partition_key"`
	BusinessDate       time.Time        `gorm:"type:date;not null" json:"business_date"`
	ThreadID           string           `gorm:"type:text" json:"thread_id,omitempty"`
	RetryCount         int              `gorm:"default:0" json:"retry_count"`
	DataHash           string           `gorm:"type:text;index" json:"data_hash"`
	ErrorMessage       string           `gorm:"type:text" json:"error_message,omitempty"`
	CreatedTimestamp   time.Time        `gorm:"not null;index" json:"created_timestamp"`
	ProcessedTimestamp *time.Time       `json:"processed_timestamp,omitempty"`
	Version            int64            `gorm:"default:0" json:"version"`
}

// TableName returns the database table name for StagingRecord.
func (StagingRecord) TableName() string {
	return "staging_records"
}

// NewStagingRecord builds a PENDING record with id, hash and partition key derived.
func NewStagingRecord(executionID, transactionTypeID string, businessDate time.Time, seq int64, sourceData, correlationID string) *StagingRecord {
	r := &StagingRecord{
		StagingID:         uuid.New().String(),
		ExecutionID:       executionID,
		TransactionTypeID: transactionTypeID,
		SequenceNumber:    seq,
		SourceData:        sourceData,
		ProcessingStatus:  StatusPending,
		CorrelationID:     correlationID,
		BusinessDate:      businessDate,
		DataHash:          HashData(sourceData),
		CreatedTimestamp:  time.Now(),
	}
	r.PartitionKey = PartitionKey(executionID, businessDate, transactionTypeID)
	return r
}

// BeforeCreate fills derived columns. The partition key is always recomputed from
// its inputs.
func (r *StagingRecord) BeforeCreate(tx *gorm.DB) error {
	if r.StagingID == "" {
		r.StagingID = uuid.New().String()
	}
	if r.ProcessingStatus == "" {
		r.ProcessingStatus = StatusPending
	}
	if r.DataHash == "" {
		r.DataHash = HashData(r.SourceData)
	}
	if r.CreatedTimestamp.IsZero() {
		r.CreatedTimestamp = time.Now()
	}
	r.PartitionKey = PartitionKey(r.ExecutionID, r.BusinessDate, r.TransactionTypeID)
	return nil
}

// PartitionKey derives executionId_yyyyMMdd_transactionTypeId.
func PartitionKey(executionID string, businessDate time.Time, transactionTypeID string) string {
	return fmt.Sprintf("%s_%s_%s", executionID, businessDate.Format("20060102"), transactionTypeID)
}

// HashData returns the hex sha256 of a source payload.
func HashData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (r *StagingRecord) transition(to ProcessingStatus) error {
	if !CanTransition(r.ProcessingStatus, to) {
		return &TransitionError{StagingID: r.StagingID, From: r.ProcessingStatus, To: to}
	}
	r.ProcessingStatus = to
	return nil
}

// MarkAsProcessing claims the record for threadID. Allowed from PENDING or RETRYING.
func (r *StagingRecord) MarkAsProcessing(threadID string) error {
	if err := r.transition(StatusProcessing); err != nil {
		return err
	}
	now := time.Now()
	r.ThreadID = threadID
	r.ProcessedTimestamp = &now
	return nil
}

// MarkAsCompleted stores the processed payload and clears any previous error.
func (r *StagingRecord) MarkAsCompleted(payload string) error {
	if r.ProcessingStatus != StatusProcessing {
		return &TransitionError{StagingID: r.StagingID, From: r.ProcessingStatus, To: StatusCompleted}
	}
	r.ProcessingStatus = StatusCompleted
	now := time.Now()
	r.ProcessedData = &payload
	r.ErrorMessage = ""
	r.ProcessedTimestamp = &now
	return nil
}

// MarkAsFailed records an unretryable failure. Allowed from PROCESSING only.
func (r *StagingRecord) MarkAsFailed(message string) error {
	if r.ProcessingStatus != StatusProcessing {
		return &TransitionError{StagingID: r.StagingID, From: r.ProcessingStatus, To: StatusFailed}
	}
	r.ProcessingStatus = StatusFailed
	now := time.Now()
	r.ErrorMessage = message
	r.ProcessedTimestamp = &now
	return nil
}

// MarkForRetry moves the record to RETRYING and spends one unit of retry budget.
// Once RetryCount reaches MaxRetryCount it returns ErrRetryBudgetExhausted and the
// caller must route the record to FAILED instead.
func (r *StagingRecord) MarkForRetry(message string) error {
	if r.RetryCount >= MaxRetryCount {
		return fmt.Errorf("staging record %s: %w", r.StagingID, ErrRetryBudgetExhausted)
	}
	if err := r.transition(StatusRetrying); err != nil {
		return err
	}
	now := time.Now()
	r.RetryCount++
	r.ErrorMessage = message
	r.ProcessedTimestamp = &now
	return nil
}

// MarkRetryExhausted moves a RETRYING record to FAILED.
func (r *StagingRecord) MarkRetryExhausted(message string) error {
	if r.ProcessingStatus != StatusRetrying {
		return &TransitionError{StagingID: r.StagingID, From: r.ProcessingStatus, To: StatusFailed}
	}
	r.ProcessingStatus = StatusFailed
	now := time.Now()
	r.ErrorMessage = message
	r.ProcessedTimestamp = &now
	return nil
}

// ResetForRetry returns the record to the pool. The owning thread id and processed
// timestamp are cleared immediately.
func (r *StagingRecord) ResetForRetry() error {
	if err := r.transition(StatusPending); err != nil {
		return err
	}
	r.ThreadID = ""
	r.ProcessedTimestamp = nil
	return nil
}

// CanRetry reports whether the record is FAILED or RETRYING with budget left.
func (r *StagingRecord) CanRetry() bool {
	return (r.ProcessingStatus == StatusFailed || r.ProcessingStatus == StatusRetrying) &&
		r.RetryCount < MaxRetryCount
}

// IsStale reports whether a PROCESSING record was created before now-window.
func (r *StagingRecord) IsStale(window time.Duration, now time.Time) bool {
	if r.ProcessingStatus != StatusProcessing {
		return false
	}
	return r.CreatedTimestamp.Before(now.Add(-window))
}
