package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/metrics"
)

// Metrics records request count and latency per route template.
func Metrics(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		metrics.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), serviceName, time.Since(start))
	}
}
