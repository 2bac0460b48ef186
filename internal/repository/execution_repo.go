package repository

import (
	"context"
	"time"

	"github.com/timmy/loadgate/internal/domain"
	"gorm.io/gorm"
)

// ExecutionRepository handles load execution records.
type ExecutionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts a new execution.
func (r *ExecutionRepository) Create(ctx context.Context, exec *domain.LoadExecution) error {
	return r.db.WithContext(ctx).Create(exec).Error
}

// Update saves all fields of an execution.
func (r *ExecutionRepository) Update(ctx context.Context, exec *domain.LoadExecution) error {
	return r.db.WithContext(ctx).Save(exec).Error
}

// UpdateStatus changes only the status, stamping completion for final states.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id string, status domain.ExecutionStatus) error {
	updates := map[string]interface{}{"status": status}
	if (&domain.LoadExecution{Status: status}).Finished() {
		updates["completed_at"] = time.Now()
	}
	res := r.db.WithContext(ctx).Model(&domain.LoadExecution{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "execution", id)
	}
	return nil
}

// GetByID retrieves an execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*domain.LoadExecution, error) {
	var exec domain.LoadExecution
	if err := r.db.WithContext(ctx).First(&exec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "execution", id)
	}
	return &exec, nil
}

// ListRecent returns the latest executions, optionally for one configuration.
func (r *ExecutionRepository) ListRecent(ctx context.Context, configID string, limit int) ([]domain.LoadExecution, error) {
	var execs []domain.LoadExecution
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if configID != "" {
		q = q.Where("config_id = ?", configID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}
