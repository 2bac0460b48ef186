package service

import (
	"context"
	"time"

	"github.com/timmy/loadgate/internal/domain"
)

// StagingStore persists staging records. Implementations must make ClaimPending
// and Transition compare-and-set operations so that concurrent workers never
// process the same record twice.
type StagingStore interface {
	InsertBatch(ctx context.Context, records []*domain.StagingRecord) error
	MaxSequence(ctx context.Context, executionID string) (int64, error)
	ExistingHashes(ctx context.Context, executionID string, hashes []string) (map[string]bool, error)
	Partitions(ctx context.Context, executionID string) ([]string, error)
	ClaimPending(ctx context.Context, partitionKey, workerID string, limit int) ([]*domain.StagingRecord, error)
	Transition(ctx context.Context, rec *domain.StagingRecord, from domain.ProcessingStatus) error
	FindStale(ctx context.Context, window time.Duration, now time.Time, limit int) ([]*domain.StagingRecord, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]*domain.StagingRecord, error)
	BulkUpdateStatus(ctx context.Context, partitionKey string, from, to domain.ProcessingStatus) (int64, error)
	CountByStatus(ctx context.Context, executionID string) (map[domain.ProcessingStatus]int64, error)
}

// ExecutionStore persists load executions.
type ExecutionStore interface {
	Create(ctx context.Context, exec *domain.LoadExecution) error
	Update(ctx context.Context, exec *domain.LoadExecution) error
	GetByID(ctx context.Context, id string) (*domain.LoadExecution, error)
}
