package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/validation"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

var businessDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func stage(t *testing.T, repo *StagingRepository, exec, tt string, n int) []*domain.StagingRecord {
	t.Helper()
	recs := make([]*domain.StagingRecord, n)
	for i := range recs {
		recs[i] = domain.NewStagingRecord(exec, tt, businessDate, int64(i+1), fmt.Sprintf("%s|%s|%d", exec, tt, i), "corr-"+exec)
	}
	require.NoError(t, repo.InsertBatch(context.Background(), recs))
	return recs
}

func TestConfigRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewConfigRepository(db)
	ctx := context.Background()

	maxLen := 10
	cfg := &domain.LoadConfig{ID: "TXN", Name: "transactions", FileType: domain.FileTypeDelimited, MaxErrors: 5, Enabled: true,
		Columns: domain.ColumnSpecs{{Name: "ACCT"}, {Name: "NAME"}}}
	rules := []domain.ValidationRule{
		{ID: "R2", FieldName: "NAME", RuleType: domain.RuleTypeLength, Severity: domain.SeverityError, ExecutionOrder: 2, MaxLength: &maxLen, Enabled: true},
		{ID: "R1", FieldName: "ACCT", RuleType: domain.RuleTypeRequired, Severity: domain.SeverityError, ExecutionOrder: 1, Enabled: true},
		{ID: "R3", FieldName: "ACCT", RuleType: domain.RuleTypePattern, Pattern: `\d+`, Severity: domain.SeverityError, ExecutionOrder: 3, Enabled: false},
	}
	require.NoError(t, repo.UpsertConfig(ctx, cfg, rules))

	got, err := repo.LoadConfig(ctx, "TXN")
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxErrors)
	assert.Equal(t, []string{"ACCT", "NAME"}, got.Columns.Names())

	catalog, err := repo.RuleCatalog(ctx, "TXN")
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	assert.Equal(t, "R1", catalog[0].ID)
	assert.Equal(t, 10, *catalog[1].MaxLength)

	// replacing the rule set drops rules no longer listed
	require.NoError(t, repo.UpsertConfig(ctx, cfg, rules[1:2]))
	catalog, err = repo.RuleCatalog(ctx, "TXN")
	require.NoError(t, err)
	require.Len(t, catalog, 1)

	_, err = repo.LoadConfig(ctx, "MISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cfg.Enabled = false
	require.NoError(t, repo.UpsertConfig(ctx, cfg, nil))
	_, err = repo.LoadConfig(ctx, "TXN")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := repo.ListConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStagingInsertAndQueries(t *testing.T) {
	db := newTestDB(t)
	repo := NewStagingRepository(db, 3)
	ctx := context.Background()

	seq, err := repo.MaxSequence(ctx, "E1")
	require.NoError(t, err)
	assert.Zero(t, seq)

	recs := stage(t, repo, "E1", "TT1", 7)
	stage(t, repo, "E1", "TT2", 2)

	seq, err = repo.MaxSequence(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	parts, err := repo.Partitions(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, []string{"E1_20240315_TT1", "E1_20240315_TT2"}, parts)

	byCorr, err := repo.FindByCorrelationID(ctx, "corr-E1")
	require.NoError(t, err)
	assert.Len(t, byCorr, 9)

	hashes, err := repo.ExistingHashes(ctx, "E1", []string{recs[0].DataHash, domain.HashData("unknown")})
	require.NoError(t, err)
	assert.True(t, hashes[recs[0].DataHash])
	assert.Len(t, hashes, 1)

	got, err := repo.Get(ctx, recs[2].StagingID)
	require.NoError(t, err)
	assert.Equal(t, "E1_20240315_TT1", got.PartitionKey)
	assert.Equal(t, domain.StatusPending, got.ProcessingStatus)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	counts, err := repo.CountByStatus(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), counts[domain.StatusPending])
	assert.Equal(t, int64(0), counts[domain.StatusCompleted])
}

func TestClaimPendingIsDisjoint(t *testing.T) {
	db := newTestDB(t)
	repo := NewStagingRepository(db, 0)
	ctx := context.Background()
	stage(t, repo, "E1", "TT1", 40)
	partition := domain.PartitionKey("E1", businessDate, "TT1")

	var (
		mu   sync.Mutex
		seen = map[string]string{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		worker := fmt.Sprintf("worker-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := repo.ClaimPending(ctx, partition, worker, 3)
				if !assert.NoError(t, err) || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, r := range claimed {
					if owner, dup := seen[r.StagingID]; dup {
						t.Errorf("record %s claimed by %s and %s", r.StagingID, owner, worker)
					}
					seen[r.StagingID] = worker
					assert.Equal(t, domain.StatusProcessing, r.ProcessingStatus)
					assert.Equal(t, worker, r.ThreadID)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 40)
	counts, err := repo.CountByStatus(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), counts[domain.StatusProcessing])
}

func TestTransitionCompareAndSet(t *testing.T) {
	db := newTestDB(t)
	repo := NewStagingRepository(db, 0)
	ctx := context.Background()
	stage(t, repo, "E1", "TT1", 1)

	claimed, err := repo.ClaimPending(ctx, domain.PartitionKey("E1", businessDate, "TT1"), "w1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	rec := claimed[0]

	// a second copy of the same row, as another worker would hold it
	stale := *rec

	require.NoError(t, rec.MarkAsCompleted("loaded"))
	require.NoError(t, repo.Transition(ctx, rec, domain.StatusProcessing))

	require.NoError(t, stale.MarkAsFailed("late failure"))
	err = repo.Transition(ctx, &stale, domain.StatusProcessing)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	got, err := repo.Get(ctx, rec.StagingID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.ProcessingStatus)
	require.NotNil(t, got.ProcessedData)
	assert.Equal(t, "loaded", *got.ProcessedData)
	assert.Equal(t, rec.Version, got.Version)
}

func TestFindStaleAndBulkUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewStagingRepository(db, 0)
	ctx := context.Background()
	recs := stage(t, repo, "E1", "TT1", 3)
	partition := domain.PartitionKey("E1", businessDate, "TT1")

	_, err := repo.ClaimPending(ctx, partition, "w1", 2)
	require.NoError(t, err)

	stale, err := repo.FindStale(ctx, time.Minute, recs[0].CreatedTimestamp.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	fresh, err := repo.FindStale(ctx, time.Minute, recs[0].CreatedTimestamp, 0)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	n, err := repo.BulkUpdateStatus(ctx, partition, domain.StatusProcessing, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.Get(ctx, stale[0].StagingID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.ProcessingStatus)
	assert.Empty(t, got.ThreadID)
	assert.Nil(t, got.ProcessedTimestamp)

	_, err = repo.BulkUpdateStatus(ctx, partition, domain.StatusCompleted, domain.StatusPending)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestExecutionRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	exec := &domain.LoadExecution{ID: "E1", ConfigID: "TXN", Status: domain.ExecutionPending}
	require.NoError(t, repo.Create(ctx, exec))

	exec.TotalRecords = 10
	require.NoError(t, repo.Update(ctx, exec))
	require.NoError(t, repo.UpdateStatus(ctx, "E1", domain.ExecutionCompleted))

	got, err := repo.GetByID(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalRecords)
	assert.Equal(t, domain.ExecutionCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "nope", domain.ExecutionFailed), domain.ErrNotFound)
	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := repo.ListRecent(ctx, "TXN", 5)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLookupChecker(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE branches (code TEXT PRIMARY KEY, active INTEGER)").Error)
	require.NoError(t, db.Exec("INSERT INTO branches (code, active) VALUES ('001', 1), ('002', 0), ('003', 1)").Error)

	lc := NewLookupChecker(db)
	checkers := lc.Checkers()
	ctx := context.Background()
	val := func(s string) *string { return &s }

	ref := &domain.ValidationRule{ID: "RI", RuleType: domain.RuleTypeReferentialIntegrity, Expression: "branches.code"}
	res, err := checkers.Referential.Check(ctx, validation.CheckRequest{Field: "BRANCH", Value: val("001"), Rule: ref})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	res, err = checkers.Referential.Check(ctx, validation.CheckRequest{Field: "BRANCH", Value: val("999"), Rule: ref})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	uniq := &domain.ValidationRule{ID: "U", RuleType: domain.RuleTypeUnique, Expression: "branches.code"}
	res, err = checkers.Unique.Check(ctx, validation.CheckRequest{Field: "BRANCH", Value: val("001"), Rule: uniq})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	q := &domain.ValidationRule{ID: "Q", RuleType: domain.RuleTypeCustomQuery, Expression: "SELECT COUNT(*) FROM branches WHERE code = ? AND active = 1"}
	res, err = checkers.CustomQuery.Check(ctx, validation.CheckRequest{Field: "BRANCH", Value: val("002"), Rule: q})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	res, err = checkers.CustomQuery.Check(ctx, validation.CheckRequest{Field: "BRANCH", Value: val("003"), Rule: q})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, err = checkers.CustomQuery.Check(ctx, validation.CheckRequest{Field: "BRANCH", Value: val("003"), Rule: &domain.ValidationRule{Expression: "DELETE FROM branches"}})
	assert.Error(t, err)

	_, err = checkers.Referential.Check(ctx, validation.CheckRequest{Field: "BRANCH", Value: val("1"), Rule: &domain.ValidationRule{Expression: "branches; DROP TABLE x"}})
	assert.Error(t, err)

	missing, err := lc.MissingReferences(ctx, ref, []string{"001", "004", "003", "005"})
	require.NoError(t, err)
	assert.Equal(t, []string{"004", "005"}, missing)
}
