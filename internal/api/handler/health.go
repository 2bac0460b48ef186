package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/loadgate/internal/service"
)

// Pinger checks a backing dependency.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db        Pinger
	scheduler *service.Scheduler
}

// NewHealthHandler creates a new health handler. Both arguments may be nil.
func NewHealthHandler(db Pinger, scheduler *service.Scheduler) *HealthHandler {
	return &HealthHandler{db: db, scheduler: scheduler}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "degraded",
				"database": err.Error(),
			})
			return
		}
		resp["database"] = "ok"
	}
	if h.scheduler != nil {
		resp["tasks"] = h.scheduler.Tasks()
	}

	c.JSON(http.StatusOK, resp)
}
