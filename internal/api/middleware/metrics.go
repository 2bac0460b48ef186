package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/loadgate/internal/metrics"
)

// Metrics records request counts and latency per route template. Requests
// that match no route are counted under "unmatched".
func Metrics(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
