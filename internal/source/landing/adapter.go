package landing

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/source"
)

const (
	// ManifestFileName is the default JSONL manifest file name in a landing directory.
	ManifestFileName = "manifest.jsonl"
	// CursorFileName is the default JSONL file recording processed manifest ids.
	CursorFileName = ".processed.jsonl"
)

// ManifestItem represents an item in the manifest file.
type ManifestItem struct {
	ID              string `json:"id"`
	File            string `json:"file"`
	ConfigID        string `json:"config_id"`
	BusinessDate    string `json:"business_date"`
	TransactionType string `json:"transaction_type"`
}

type cursorEntry struct {
	ID     string    `json:"id"`
	DoneAt time.Time `json:"done_at"`
}

// Adapter implements the Source interface for a landing directory described
// by a JSONL manifest.
type Adapter struct {
	dir          string
	manifestPath string
	cursorPath   string

	mu     sync.Mutex
	items  []source.InboundFile
	loaded bool
}

// NewAdapter creates a new landing adapter.
// Parameters:
//   - dir: landing directory holding the inbound files.
//   - manifest: manifest path, relative to dir unless absolute; empty uses ManifestFileName.
//   - cursor: processed-file log, relative to dir unless absolute; empty uses CursorFileName.
// Returns:
//   - *Adapter: initialized landing adapter.
func NewAdapter(dir, manifest, cursor string) *Adapter {
	if manifest == "" {
		manifest = ManifestFileName
	}
	if cursor == "" {
		cursor = CursorFileName
	}
	return &Adapter{
		dir:          dir,
		manifestPath: resolve(dir, manifest),
		cursorPath:   resolve(dir, cursor),
	}
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "landing:" + filepath.Base(a.dir)
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Landing (%s)", a.dir)
}

// SupportsIncremental returns true: processed ids are remembered in the cursor file.
func (a *Adapter) SupportsIncremental() bool {
	return true
}

// FetchBatch fetches a batch of unprocessed files from the manifest.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of items to fetch.
// Returns:
//   - []source.InboundFile: batch of inbound files.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.InboundFile, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Load all items on first call
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to load landing manifest: %w", err)
		}
		a.loaded = true
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
	}
	if startIndex >= len(a.items) {
		return []source.InboundFile{}, "", nil
	}

	endIndex := min(startIndex+limit, len(a.items))
	batch := a.items[startIndex:endIndex]

	nextCursor := ""
	if endIndex < len(a.items) {
		nextCursor = strconv.Itoa(endIndex)
	}
	return batch, nextCursor, nil
}

// MarkDone appends the item id to the cursor file.
func (a *Adapter) MarkDone(ctx context.Context, item source.InboundFile) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.cursorPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open cursor file: %w", err)
	}
	line, err := json.Marshal(cursorEntry{ID: item.ID, DoneAt: time.Now().UTC()})
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to write cursor file: %w", err)
	}
	return f.Close()
}

// loadItems loads all unprocessed items from the manifest file.
func (a *Adapter) loadItems(ctx context.Context) error {
	if _, err := os.Stat(a.manifestPath); os.IsNotExist(err) {
		return fmt.Errorf("manifest file not found: %s", a.manifestPath)
	}

	done, err := a.readCursor()
	if err != nil {
		return err
	}

	file, err := os.Open(a.manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	log := logger.FromContext(ctx).WithField(logger.FieldFile, a.manifestPath)
	a.items = []source.InboundFile{}

	// Read line by line (JSON Lines format)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			log.WithError(err).Warnf("Skipping malformed manifest line %d", lineNo)
			continue
		}
		if item.ID == "" || item.File == "" || item.ConfigID == "" {
			log.Warnf("Skipping manifest line %d: id, file and config_id are required", lineNo)
			continue
		}
		if done[item.ID] {
			continue
		}

		var businessDate time.Time
		if item.BusinessDate != "" {
			businessDate, err = time.Parse(domain.BusinessDateLayout, item.BusinessDate)
			if err != nil {
				log.WithError(err).Warnf("Skipping manifest line %d: bad business date", lineNo)
				continue
			}
		}

		localPath := resolve(a.dir, item.File)
		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			log.Warnf("Skipping manifest line %d: %s does not exist", lineNo, localPath)
			continue
		}

		a.items = append(a.items, source.InboundFile{
			ID:                item.ID,
			Path:              localPath,
			ConfigID:          item.ConfigID,
			BusinessDate:      businessDate,
			TransactionTypeID: item.TransactionType,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	// Oldest business date first, then id
	sort.SliceStable(a.items, func(i, j int) bool {
		if !a.items[i].BusinessDate.Equal(a.items[j].BusinessDate) {
			return a.items[i].BusinessDate.Before(a.items[j].BusinessDate)
		}
		return a.items[i].ID < a.items[j].ID
	})
	return nil
}

func (a *Adapter) readCursor() (map[string]bool, error) {
	done := make(map[string]bool)
	f, err := os.Open(a.cursorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return done, nil
		}
		return nil, fmt.Errorf("failed to open cursor file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e cursorEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil && e.ID != "" {
			done[e.ID] = true
		}
	}
	return done, scanner.Err()
}

// GetTotalCount returns the number of unprocessed files.
func (a *Adapter) GetTotalCount(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return 0, err
		}
		a.loaded = true
	}
	return len(a.items), nil
}
