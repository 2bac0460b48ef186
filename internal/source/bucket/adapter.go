package bucket

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/source"
	"github.com/timmy/loadgate/internal/storage"
)

// Adapter implements the Source interface for inbound files in object
// storage. Files are downloaded on fetch and archived on MarkDone.
type Adapter struct {
	inbound *storage.Inbound

	mu     sync.Mutex
	keys   []storage.InboundKey
	loaded bool
}

// NewAdapter creates a bucket adapter over inbound.
func NewAdapter(inbound *storage.Inbound) *Adapter {
	return &Adapter{inbound: inbound}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "bucket:" + a.inbound.Prefix()
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Object storage (%s)", a.inbound.Prefix())
}

// SupportsIncremental returns true: processed files are moved to the archive prefix.
func (a *Adapter) SupportsIncremental() bool {
	return true
}

// FetchBatch lists inbound objects once and downloads each returned file.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.InboundFile, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		keys, err := a.inbound.List(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list inbound objects: %w", err)
		}
		a.keys = keys
		a.loaded = true
	}

	start := 0
	if cursor != "" {
		var err error
		if start, err = strconv.Atoi(cursor); err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
	}
	if start >= len(a.keys) {
		return []source.InboundFile{}, "", nil
	}
	end := min(start+limit, len(a.keys))

	items := make([]source.InboundFile, 0, end-start)
	for _, k := range a.keys[start:end] {
		local, err := a.inbound.Fetch(ctx, k.Key)
		if err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldFile, k.Key).Error("Failed to fetch inbound object")
			continue
		}
		items = append(items, source.InboundFile{
			ID:           k.Key,
			Path:         local,
			ObjectKey:    k.Key,
			ConfigID:     k.ConfigID,
			BusinessDate: k.BusinessDate,
		})
	}

	next := ""
	if end < len(a.keys) {
		next = strconv.Itoa(end)
	}
	return items, next, nil
}

// MarkDone archives the object.
func (a *Adapter) MarkDone(ctx context.Context, item source.InboundFile) error {
	dst, err := a.inbound.Archive(ctx, item.ObjectKey)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).WithField("archive_key", dst).Info("Archived inbound object")
	return nil
}
