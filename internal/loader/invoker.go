package loader

import "context"

// Row is one staged record handed to the loader.
type Row struct {
	StagingID string
	Sequence  int64
	Payload   string
}

// Batch is a page of records from one partition.
type Batch struct {
	ExecutionID   string
	ConfigID      string
	CorrelationID string
	PartitionKey  string
	TargetTable   string
	Attempt       int
	Rows          []Row
}

// Invoker runs the external loader for a batch. A returned error means the
// loader could not run at all; record-level failures are reported in the
// LoadResult.
type Invoker interface {
	Invoke(ctx context.Context, batch Batch) (*LoadResult, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, batch Batch) (*LoadResult, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, batch Batch) (*LoadResult, error) {
	return f(ctx, batch)
}

// NewResult returns a LoadResult seeded from batch.
func NewResult(batch Batch) *LoadResult {
	return &LoadResult{
		ExecutionID:   batch.ExecutionID,
		ConfigID:      batch.ConfigID,
		CorrelationID: batch.CorrelationID,
		PartitionKey:  batch.PartitionKey,
		TotalRecords:  int64(len(batch.Rows)),
		RetryCount:    batch.Attempt,
	}
}
