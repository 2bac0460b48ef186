package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/service"
	"github.com/timmy/loadgate/internal/source"
	"github.com/timmy/loadgate/internal/validation"
)

// RunHandler triggers load runs.
type RunHandler struct {
	loadService *service.LoadService
	sources     map[string]source.Source

	// Source run state
	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.SourceStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewRunHandler creates a new run handler.
// Parameters:
//   - loadService: load service instance.
//   - sources: map of inbound sources keyed by id.
//
// Returns:
//   - *RunHandler: initialized handler.
func NewRunHandler(loadService *service.LoadService, sources map[string]source.Source) *RunHandler {
	return &RunHandler{
		loadService: loadService,
		sources:     sources,
	}
}

// SourceRunRequest represents the source run API request.
type SourceRunRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"omitempty,min=1,max=10000"`
}

// SourceRunResponse represents the source run API response.
type SourceRunResponse struct {
	Message string               `json:"message"`
	Stats   *service.SourceStats `json:"stats,omitempty"`
}

// RunStatusResponse represents the source run status.
type RunStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.SourceStats `json:"current_stats,omitempty"`
}

// FileRunRequest asks for one local file to be validated and loaded.
type FileRunRequest struct {
	ConfigID          string `json:"config_id" binding:"required"`
	Path              string `json:"path" binding:"required"`
	BusinessDate      string `json:"business_date"`
	TransactionTypeID string `json:"transaction_type_id"`
	CorrelationID     string `json:"correlation_id"`
	SkipLoad          bool   `json:"skip_load"`
}

// TriggerSource handles POST /api/v1/runs. Only one source run may be active
// at a time.
func (h *RunHandler) TriggerSource(c *gin.Context) {
	ctx := c.Request.Context()

	var req SourceRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid run request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, ok := h.sources[req.Source]
	if !ok {
		logger.CtxWarn(ctx, "Unknown source requested: source=%s, client_ip=%s", req.Source, c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source: " + req.Source})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Run request rejected: already running, source=%s", req.Source)
		c.JSON(http.StatusConflict, gin.H{"error": "A source run is already in progress"})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting source run: source=%s, limit=%d", req.Source, req.Limit)

	// The run outlives a client that disconnects.
	runCtx := logger.WithField(context.WithoutCancel(ctx), "source", req.Source)
	startTime := time.Now()
	stats, err := h.loadService.RunSource(runCtx, src, req.Limit)
	duration := time.Since(startTime)

	h.mu.Lock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Source run failed: source=%s, error=%v", req.Source, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: duration.Milliseconds(),
		logger.FieldCount:      stats.ProcessedItems,
	}).Info(ctx, "Source run completed: source=%s, total=%d, processed=%d, halted=%d, failed=%d",
		req.Source, stats.TotalItems, stats.ProcessedItems, stats.HaltedItems, stats.FailedItems)

	c.JSON(http.StatusOK, SourceRunResponse{
		Message: "Source run completed",
		Stats:   stats,
	})
}

// Status handles GET /api/v1/runs/status.
func (h *RunHandler) Status(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := RunStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// RunFile handles POST /api/v1/files. A halted execution is not an error: the
// report carries the halted status and the threshold decision.
func (h *RunHandler) RunFile(c *gin.Context) {
	var req FileRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	run := service.RunRequest{
		ConfigID:          req.ConfigID,
		Path:              req.Path,
		TransactionTypeID: req.TransactionTypeID,
		CorrelationID:     req.CorrelationID,
		SkipLoad:          req.SkipLoad,
	}
	if req.BusinessDate != "" {
		d, err := time.Parse(domain.BusinessDateLayout, req.BusinessDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_date must be YYYY-MM-DD"})
			return
		}
		run.BusinessDate = d
	}

	report, err := h.loadService.Run(context.WithoutCancel(c.Request.Context()), run)
	if err != nil {
		status := http.StatusInternalServerError
		var rerr *validation.ResourceError
		if errors.As(err, &rerr) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// RetryExecution handles POST /api/v1/executions/:id/retry
// Gives the FAILED records of a finished execution another load attempt.
func (h *RunHandler) RetryExecution(c *gin.Context) {
	report, err := h.loadService.Retry(context.WithoutCancel(c.Request.Context()), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrExecutionActive):
			status = http.StatusConflict
		case errors.Is(err, service.ErrNoLoader):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}
