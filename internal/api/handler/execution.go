package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/service"
)

// ExecutionReader reads load executions.
type ExecutionReader interface {
	GetByID(ctx context.Context, id string) (*domain.LoadExecution, error)
	ListRecent(ctx context.Context, configID string, limit int) ([]domain.LoadExecution, error)
}

// ExecutionHandler serves load executions together with the status counts of
// their staged records.
type ExecutionHandler struct {
	executions ExecutionReader
	store      service.StagingStore
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(executions ExecutionReader, store service.StagingStore) *ExecutionHandler {
	return &ExecutionHandler{executions: executions, store: store}
}

// List handles GET /api/v1/executions.
func (h *ExecutionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 500 {
		limit = 20
	}
	execs, err := h.executions.ListRecent(c.Request.Context(), c.Query("config_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list executions: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":      len(execs),
		"executions": execs,
	})
}

// Get handles GET /api/v1/executions/:id.
func (h *ExecutionHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	exec, err := h.executions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	counts, err := h.store.CountByStatus(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count staging records: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution": exec,
		"staging":   counts,
	})
}
