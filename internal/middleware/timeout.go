package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketchat-backend/pkg/constants"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

// TimeoutConfig holds timeout configuration
type TimeoutConfig struct {
	DefaultTimeout time.Duration
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		DefaultTimeout: constants.DefaultTimeout,
	}
}

// TimeoutMiddleware bounds request handling time. It is not installed on
// long-lived WebSocket routes.
type TimeoutMiddleware struct {
	config *TimeoutConfig
}

// NewTimeoutMiddleware creates a new timeout middleware
func NewTimeoutMiddleware(config *TimeoutConfig) *TimeoutMiddleware {
	if config == nil {
		config = DefaultTimeoutConfig()
	}
	return &TimeoutMiddleware{config: config}
}

// Middleware applies the default timeout
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return tm.For(tm.config.DefaultTimeout)
}

// For applies a route-specific timeout, e.g. the longer upload budget
func (tm *TimeoutMiddleware) For(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		startTime := time.Now()

		c.Next()

		if ctx.Err() != context.DeadlineExceeded {
			return
		}

		metrics.RequestTimeoutTotal.Inc()
		logger.FromContext(ctx).Warn("Request timed out",
			zap.Duration("timeout", timeout),
			zap.Duration("duration", time.Since(startTime)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path))

		if !c.Writer.Written() {
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error": "Request timeout",
				"code":  "REQUEST_TIMEOUT",
			})
		}
		c.Abort()
	}
}
