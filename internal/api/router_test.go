package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/loader"
	"github.com/timmy/loadgate/internal/metrics"
	"github.com/timmy/loadgate/internal/repository"
	"github.com/timmy/loadgate/internal/service"
	"github.com/timmy/loadgate/internal/threshold"
	"github.com/timmy/loadgate/internal/validation"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testServer struct {
	router  http.Handler
	staging *repository.StagingRepository
	manager *threshold.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))

	ctx := context.Background()
	maxLen := 5
	configs := repository.NewConfigRepository(db)
	require.NoError(t, configs.UpsertConfig(ctx, &domain.LoadConfig{
		ID:                "ACCT",
		Name:              "Accounts",
		FileType:          domain.FileTypeDelimited,
		Columns:           domain.ColumnSpecs{{Name: "ACCT"}, {Name: "NAME"}},
		MaxErrors:         10,
		TransactionTypeID: "TX01",
		TargetTable:       "STG_ACCOUNTS",
		Enabled:           true,
	}, []domain.ValidationRule{{
		ID: "ACCT_LEN", FieldName: "ACCT", RuleType: domain.RuleTypeLength,
		Severity: domain.SeverityError, MaxLength: &maxLen, ExecutionOrder: 1, Enabled: true,
	}}))

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	staging := repository.NewStagingRepository(db, 100)
	executions := repository.NewExecutionRepository(db)
	manager := threshold.NewManager(threshold.Options{})
	sweeper := service.NewSweeper(staging, time.Minute, nil, m)

	invoker := loader.InvokerFunc(func(_ context.Context, b loader.Batch) (*loader.LoadResult, error) {
		res := loader.NewResult(b)
		res.SuccessfulRecords = res.TotalRecords
		return res, nil
	})
	records := validation.NewRecordValidator(validation.NewFieldValidator(validation.DefaultCheckers()))
	svc := service.NewLoadService(service.LoadDeps{
		Provider:   configs,
		Validator:  validation.NewFileValidator(configs, records, validation.Options{TrackInvalid: true}),
		Thresholds: manager,
		Stager:     service.NewStager(staging, 0, m),
		Pool:       service.NewWorkerPool(staging, invoker, service.PoolConfig{}, nil, m),
		Executions: executions,
		Metrics:    m,
	}, service.RunConfig{})

	router := SetupRouter(Deps{
		LoadService: svc,
		Thresholds:  manager,
		Staging:     staging,
		Sweeper:     sweeper,
		Executions:  executions,
		Scheduler:   service.NewScheduler(),
		DB:          sqlDB,
		Metrics:     m,
		Gatherer:    reg,
	}, "test")
	return &testServer{router: router, staging: staging, manager: manager}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("X-Correlation-ID", "corr-42")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "corr-42", w.Header().Get("X-Correlation-ID"))

	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `loadgate_http_requests_total{code="200",method="GET",route="/health"} 2`)
}

func TestThresholdRoutes(t *testing.T) {
	s := newTestServer(t)
	s.manager.CheckThreshold(context.Background(), "ACCT", &domain.LoadConfig{ID: "ACCT", MaxErrors: 10},
		&validation.Summary{ErrorCount: 4, TotalRecords: 50})

	w, body := s.do(t, http.MethodGet, "/api/v1/thresholds", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["total"])

	w, body = s.do(t, http.MethodGet, "/api/v1/thresholds/ACCT", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4.0, body["errors"])
	assert.Equal(t, 8.0, body["warning_threshold"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/thresholds/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/thresholds/ACCT/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, body["errors"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/thresholds/NOPE/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileRunAndExecutionRoutes(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(t.TempDir(), "accounts.dat")
	require.NoError(t, os.WriteFile(path, []byte("00001|alice\n00002|bob\nTOOLONG|carol\n"), 0o644))

	w, body := s.do(t, http.MethodPost, "/api/v1/files", map[string]any{
		"config_id":      "ACCT",
		"path":           path,
		"business_date":  "2024-03-15",
		"correlation_id": "corr-api",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	exec := body["execution"].(map[string]any)
	assert.Equal(t, "completed", exec["status"])
	assert.Equal(t, 2.0, exec["loaded_records"])
	id := exec["id"].(string)

	w, body = s.do(t, http.MethodGet, "/api/v1/executions/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	counts := body["staging"].(map[string]any)
	assert.Equal(t, 2.0, counts["COMPLETED"])

	w, body = s.do(t, http.MethodGet, "/api/v1/executions?config_id=ACCT", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["total"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/executions/"+id+"/retry", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0.0, body["requeue"].(map[string]any)["requeued"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/executions/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/staging/correlation/corr-api", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, body["total"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/staging/correlation/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	t.Run("bad requests", func(t *testing.T) {
		w, _ := s.do(t, http.MethodPost, "/api/v1/files", map[string]any{"path": path})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, _ = s.do(t, http.MethodPost, "/api/v1/files", map[string]any{"config_id": "ACCT", "path": path, "business_date": "15/03/2024"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, body := s.do(t, http.MethodPost, "/api/v1/files", map[string]any{"config_id": "ACCT", "path": "/nonexistent.dat"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, body["error"], "NOT_FOUND")
	})
}

func TestStagingMaintenanceRoutes(t *testing.T) {
	s := newTestServer(t)
	rec := domain.NewStagingRecord("exec-1", "TX01", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), 1, "00001|alice", "corr-1")
	rec.ProcessingStatus = domain.StatusProcessing
	rec.ThreadID = "worker-0-gone"
	rec.CreatedTimestamp = time.Now().Add(-time.Hour)
	require.NoError(t, s.staging.InsertBatch(context.Background(), []*domain.StagingRecord{rec}))

	w, body := s.do(t, http.MethodGet, "/api/v1/staging/stale?limit=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["total"])
	assert.Equal(t, "1m0s", body["window"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/staging/stale?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/staging/sweep", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["requeued"])

	got, err := s.staging.Get(context.Background(), rec.StagingID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.ProcessingStatus)
	assert.Empty(t, got.ThreadID)
}

func TestRunRoutes(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/api/v1/runs/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["is_running"])

	w, body = s.do(t, http.MethodPost, "/api/v1/runs", map[string]any{"source": "landing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "Unknown source")
}
