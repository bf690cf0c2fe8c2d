package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/database"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
	"marketchat-backend/pkg/response"
)

// RateLimiter implements a Redis fixed-window limit per user (or client IP
// before authentication). While Redis is degraded it counts in memory; a
// failed Redis call lets the request through.
type RateLimiter struct {
	name     string
	redis    *database.RedisClient
	memory   *InMemoryRateLimiter
	metrics  *metrics.Metrics
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing requests per window. name keeps
// counters of different routes apart.
func NewRateLimiter(name string, redisClient *database.RedisClient, m *metrics.Metrics, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		name:     name,
		redis:    redisClient,
		memory:   NewInMemoryRateLimiter(),
		metrics:  m,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := c.Get("user_id"); ok {
			if id, ok := userID.(uuid.UUID); ok {
				identifier = "user:" + id.String()
			}
		}

		allowed, remaining, resetAt, err := rl.check(c.Request.Context(), identifier)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("Rate limit check failed, allowing request",
				zap.String("limiter", rl.name),
				zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlocked(rl.name)
			}
			c.Header("Retry-After", strconv.FormatInt(max(resetAt-rl.now().Unix(), 1), 10))
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, identifier string) (bool, int, int64, error) {
	now := rl.now()
	windowIndex := now.UnixNano() / int64(rl.window)
	resetAt := time.Unix(0, (windowIndex+1)*int64(rl.window)).Unix()

	var count int64
	if rl.redis == nil || rl.redis.IsDegraded() {
		count = rl.memory.Incr(identifier+":"+rl.name, windowIndex, now)
	} else {
		key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.name, identifier, windowIndex)
		pipe := rl.redis.Client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
		}
		count = incr.Val()
	}

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= rl.requests, remaining, resetAt, nil
}
