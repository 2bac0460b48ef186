package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timmy/loadgate/internal/audit"
	"github.com/timmy/loadgate/internal/domain"
)

// memStore is an in-memory StagingStore with the same compare-and-set
// semantics as the gorm repository.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*domain.StagingRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*domain.StagingRecord)}
}

func clone(r *domain.StagingRecord) *domain.StagingRecord {
	c := *r
	return &c
}

func (m *memStore) InsertBatch(_ context.Context, records []*domain.StagingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.recs[r.StagingID] = clone(r)
	}
	return nil
}

func (m *memStore) MaxSequence(_ context.Context, executionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var maxSeq int64
	for _, r := range m.recs {
		if r.ExecutionID == executionID && r.SequenceNumber > maxSeq {
			maxSeq = r.SequenceNumber
		}
	}
	return maxSeq, nil
}

func (m *memStore) ExistingHashes(_ context.Context, executionID string, hashes []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		want[h] = true
	}
	found := make(map[string]bool)
	for _, r := range m.recs {
		if r.ExecutionID == executionID && want[r.DataHash] {
			found[r.DataHash] = true
		}
	}
	return found, nil
}

func (m *memStore) Partitions(_ context.Context, executionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool)
	for _, r := range m.recs {
		if r.ExecutionID == executionID &&
			(r.ProcessingStatus == domain.StatusPending || r.ProcessingStatus == domain.StatusRetrying) {
			set[r.PartitionKey] = true
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) sorted(match func(*domain.StagingRecord) bool) []*domain.StagingRecord {
	var out []*domain.StagingRecord
	for _, r := range m.recs {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

func (m *memStore) ClaimPending(_ context.Context, partitionKey, workerID string, limit int) ([]*domain.StagingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var claimed []*domain.StagingRecord
	for _, r := range m.sorted(func(r *domain.StagingRecord) bool {
		return r.PartitionKey == partitionKey && r.ProcessingStatus == domain.StatusPending
	}) {
		if len(claimed) == limit {
			break
		}
		r.ProcessingStatus = domain.StatusProcessing
		r.ThreadID = workerID
		r.ProcessedTimestamp = &now
		r.Version++
		claimed = append(claimed, clone(r))
	}
	return claimed, nil
}

func (m *memStore) Transition(_ context.Context, rec *domain.StagingRecord, from domain.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.recs[rec.StagingID]
	if !ok || stored.ProcessingStatus != from || stored.Version != rec.Version {
		return domain.ErrConcurrentModification
	}
	rec.Version++
	m.recs[rec.StagingID] = clone(rec)
	return nil
}

func (m *memStore) FindStale(_ context.Context, window time.Duration, now time.Time, limit int) ([]*domain.StagingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StagingRecord
	for _, r := range m.sorted(func(r *domain.StagingRecord) bool { return r.IsStale(window, now) }) {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, clone(r))
	}
	return out, nil
}

func (m *memStore) FindByCorrelationID(_ context.Context, correlationID string) ([]*domain.StagingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StagingRecord
	for _, r := range m.sorted(func(r *domain.StagingRecord) bool { return r.CorrelationID == correlationID }) {
		out = append(out, clone(r))
	}
	return out, nil
}

func (m *memStore) BulkUpdateStatus(_ context.Context, partitionKey string, from, to domain.ProcessingStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.recs {
		if r.PartitionKey == partitionKey && r.ProcessingStatus == from {
			r.ProcessingStatus = to
			r.Version++
			if to == domain.StatusPending {
				r.ThreadID = ""
				r.ProcessedTimestamp = nil
			}
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountByStatus(_ context.Context, executionID string) (map[domain.ProcessingStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.ProcessingStatus]int64)
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for _, r := range m.recs {
		if r.ExecutionID == executionID {
			counts[r.ProcessingStatus]++
		}
	}
	return counts, nil
}

func (m *memStore) all() []*domain.StagingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StagingRecord
	for _, r := range m.sorted(func(*domain.StagingRecord) bool { return true }) {
		out = append(out, clone(r))
	}
	return out
}

type memExecutions struct {
	mu    sync.Mutex
	execs map[string]domain.LoadExecution
}

func newMemExecutions() *memExecutions {
	return &memExecutions{execs: make(map[string]domain.LoadExecution)}
}

func (m *memExecutions) Create(_ context.Context, exec *domain.LoadExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[exec.ID] = *exec
	return nil
}

func (m *memExecutions) Update(ctx context.Context, exec *domain.LoadExecution) error {
	return m.Create(ctx, exec)
}

func (m *memExecutions) GetByID(_ context.Context, id string) (*domain.LoadExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t audit.EventType) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type staticProvider struct {
	cfg   *domain.LoadConfig
	rules []domain.ValidationRule
}

func (p staticProvider) LoadConfig(_ context.Context, id string) (*domain.LoadConfig, error) {
	if p.cfg == nil || p.cfg.ID != id {
		return nil, domain.ErrNotFound
	}
	c := *p.cfg
	return &c, nil
}

func (p staticProvider) RuleCatalog(_ context.Context, id string) ([]domain.ValidationRule, error) {
	if p.cfg == nil || p.cfg.ID != id {
		return nil, domain.ErrNotFound
	}
	return p.rules, nil
}
