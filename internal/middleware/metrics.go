package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/metrics"
)

// PrometheusMiddleware records API request metrics. Requests to skipPath
// (the scrape endpoint) are not counted; unrouted paths share one label.
func PrometheusMiddleware(skipPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipPath != "" && c.Request.URL.Path == skipPath {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(c.Writer.Status())

		metrics.IncrementAPIRequests(c.Request.Method, endpoint, statusCode)
		metrics.RecordAPIRequestDuration(c.Request.Method, endpoint, duration)
	}
}
