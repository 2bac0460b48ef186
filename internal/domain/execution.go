package domain

import "time"

// ExecutionStatus represents the status of a load execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionValidating ExecutionStatus = "validating"
	ExecutionStaging    ExecutionStatus = "staging"
	ExecutionLoading    ExecutionStatus = "loading"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	// ExecutionHalted means the error threshold stopped the run before staging.
	ExecutionHalted ExecutionStatus = "halted"
)

// LoadExecution is one run of one inbound file through validation, staging and load.
type LoadExecution struct {
	ID                string          `gorm:"type:text;primaryKey" json:"id"`
	ConfigID          string          `gorm:"type:text;not null;index" json:"config_id"`
	FilePath          string          `gorm:"type:text" json:"file_path"`
	BusinessDate      time.Time       `gorm:"type:date" json:"business_date"`
	TransactionTypeID string          `gorm:"type:text" json:"transaction_type_id"`
	CorrelationID     string          `gorm:"type:text;index" json:"correlation_id"`
	Status            ExecutionStatus `gorm:"type:text;default:pending" json:"status"`
	ValidationStatus  string          `gorm:"type:text" json:"validation_status,omitempty"`
	ThresholdAction   string          `gorm:"type:text" json:"threshold_action,omitempty"`
	TotalRecords      int             `gorm:"default:0" json:"total_records"`
	ValidRecords      int             `gorm:"default:0" json:"valid_records"`
	InvalidRecords    int             `gorm:"default:0" json:"invalid_records"`
	ErrorCount        int             `gorm:"default:0" json:"error_count"`
	WarningCount      int             `gorm:"default:0" json:"warning_count"`
	StagedRecords     int             `gorm:"default:0" json:"staged_records"`
	LoadedRecords     int             `gorm:"default:0" json:"loaded_records"`
	RejectedRecords   int             `gorm:"default:0" json:"rejected_records"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ErrorLog          string          `gorm:"type:text" json:"error_log,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName returns the database table name for LoadExecution.
func (LoadExecution) TableName() string {
	return "load_executions"
}

// Finished reports whether the execution reached a final status.
func (e *LoadExecution) Finished() bool {
	switch e.Status {
	case ExecutionCompleted, ExecutionFailed, ExecutionHalted:
		return true
	}
	return false
}
