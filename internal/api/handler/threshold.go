package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/threshold"
)

// ThresholdHandler exposes the per-configuration error trackers.
type ThresholdHandler struct {
	manager *threshold.Manager
}

// NewThresholdHandler creates a new threshold handler.
func NewThresholdHandler(manager *threshold.Manager) *ThresholdHandler {
	return &ThresholdHandler{manager: manager}
}

// List handles GET /api/v1/thresholds.
func (h *ThresholdHandler) List(c *gin.Context) {
	snaps := h.manager.Snapshots()
	c.JSON(http.StatusOK, gin.H{
		"total":    len(snaps),
		"trackers": snaps,
	})
}

// Get handles GET /api/v1/thresholds/:configId.
func (h *ThresholdHandler) Get(c *gin.Context) {
	configID := c.Param("configId")
	snap, ok := h.manager.Snapshot(configID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No threshold tracker for " + configID})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Reset handles POST /api/v1/thresholds/:configId/reset.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *ThresholdHandler) Reset(c *gin.Context) {
	ctx := c.Request.Context()
	configID := c.Param("configId")

	if !h.manager.ResetThresholds(ctx, configID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No threshold tracker for " + configID})
		return
	}
	logger.CtxInfo(ctx, "Threshold reset requested: config_id=%s, client_ip=%s", configID, c.ClientIP())

	snap, _ := h.manager.Snapshot(configID)
	c.JSON(http.StatusOK, snap)
}
