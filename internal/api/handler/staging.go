package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/service"
)

// StagingHandler handles staging maintenance endpoints.
type StagingHandler struct {
	store   service.StagingStore
	sweeper *service.Sweeper
}

// NewStagingHandler creates a new staging handler.
// Parameters:
//   - store: staging record store.
//   - sweeper: stale record sweeper.
//
// Returns:
//   - *StagingHandler: initialized handler.
func NewStagingHandler(store service.StagingStore, sweeper *service.Sweeper) *StagingHandler {
	return &StagingHandler{store: store, sweeper: sweeper}
}

// Stale handles GET /api/v1/staging/stale. It lists records that have been
// PROCESSING longer than the sweeper window without touching them.
func (h *StagingHandler) Stale(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}

	recs, err := h.sweeper.FindStale(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to find stale records: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window":  h.sweeper.Window().String(),
		"total":   len(recs),
		"records": recs,
	})
}

// Sweep handles POST /api/v1/staging/sweep.
func (h *StagingHandler) Sweep(c *gin.Context) {
	ctx := c.Request.Context()
	logger.CtxInfo(ctx, "Manual sweep requested: client_ip=%s", c.ClientIP())

	stats, err := h.sweeper.Sweep(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ByCorrelation handles GET /api/v1/staging/correlation/:id.
func (h *StagingHandler) ByCorrelation(c *gin.Context) {
	id := c.Param("id")
	recs, err := h.store.FindByCorrelationID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load records: " + err.Error()})
		return
	}
	if len(recs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No staging records for correlation id " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"correlation_id": id,
		"total":          len(recs),
		"records":        recs,
	})
}
