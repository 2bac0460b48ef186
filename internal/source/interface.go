package source

import (
	"context"
	"time"
)

// InboundFile is one file waiting to be validated and loaded.
type InboundFile struct {
	ID                string    // Unique ID within the source
	Path              string    // Local file path, empty until fetched
	ObjectKey         string    // Object storage key for remote sources
	ConfigID          string    // Load configuration to apply
	BusinessDate      time.Time // Business date of the file's records
	TransactionTypeID string    // Overrides the configuration's transaction type when set
}

// Source defines the interface for inbound file sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch fetches a batch of inbound files starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of files to fetch.
	// Returns:
	//   - items: batch of inbound files.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []InboundFile, nextCursor string, err error)

	// MarkDone records that a file was processed so incremental sources skip
	// it next time.
	MarkDone(ctx context.Context, item InboundFile) error

	// SupportsIncremental returns true if this source remembers processed files.
	SupportsIncremental() bool
}
