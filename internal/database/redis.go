package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketchat-backend/pkg/config"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

// ErrRedisDegraded is returned by Safe* calls while Redis is marked unavailable
var ErrRedisDegraded = errors.New("redis is in degraded mode")

// RedisClient wraps Redis client with degraded mode support
type RedisClient struct {
	Client         *redis.Client
	degradedMode   bool
	degradedModeMu sync.RWMutex
	healthCheckMu  sync.Mutex
}

// NewRedisDB creates a new Redis client from config. A failed initial ping
// starts the client in degraded mode instead of failing startup.
func NewRedisDB(ctx context.Context, cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis host is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})

	r := &RedisClient{Client: client}
	if err := r.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	}
	return r, nil
}

// Close closes the Redis client connection
func (r *RedisClient) Close() {
	r.Client.Close()
}

// StartHealthCheck periodically checks Redis health until ctx is done
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.HealthCheck(ctx); err != nil {
				logger.Warn("Redis health check failed", zap.Error(err))
			}
		}
	}
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedModeMu.RLock()
	defer r.degradedModeMu.RUnlock()
	return r.degradedMode
}

func (r *RedisClient) setDegradedState(degraded bool) {
	r.degradedModeMu.Lock()
	defer r.degradedModeMu.Unlock()

	if r.degradedMode != degraded {
		r.degradedMode = degraded
		metrics.SetRedisDegraded(degraded)
		if degraded {
			logger.Error("Redis entered degraded mode")
		} else {
			logger.Info("Redis recovered from degraded mode")
		}
	}
}

// HealthCheck pings Redis and updates degraded mode.
// The mutex keeps concurrent checks from piling onto a struggling server.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.Client.Ping(healthCtx).Err(); err != nil {
		r.setDegradedState(true)
		metrics.RedisHealthCheckTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("redis health check failed: %w", err)
	}

	r.setDegradedState(false)
	metrics.RedisHealthCheckTotal.WithLabelValues("success").Inc()
	return nil
}

// SafeGet performs a GET operation with degraded mode handling
func (r *RedisClient) SafeGet(ctx context.Context, key string) *redis.StringCmd {
	if r.IsDegraded() {
		return redis.NewStringResult("", ErrRedisDegraded)
	}
	return r.Client.Get(ctx, key)
}

// SafeSet performs a SET operation with degraded mode handling
func (r *RedisClient) SafeSet(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if r.IsDegraded() {
		return redis.NewStatusResult("", ErrRedisDegraded)
	}
	return r.Client.Set(ctx, key, value, expiration)
}

// SafeDel performs a DEL operation with degraded mode handling
func (r *RedisClient) SafeDel(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.Del(ctx, keys...)
}

// SafePublish performs a PUBLISH operation with degraded mode handling
func (r *RedisClient) SafePublish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.Publish(ctx, channel, message)
}

// SafeExpire performs an EXPIRE operation with degraded mode handling
func (r *RedisClient) SafeExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if r.IsDegraded() {
		return redis.NewBoolResult(false, ErrRedisDegraded)
	}
	return r.Client.Expire(ctx, key, expiration)
}

// SafeZAdd performs a ZADD operation with degraded mode handling
func (r *RedisClient) SafeZAdd(ctx context.Context, key string, member interface{}, score float64) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
}

// SafeZRem performs a ZREM operation with degraded mode handling
func (r *RedisClient) SafeZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.ZRem(ctx, key, members...)
}

// SafeZRangeByScoreWithScores performs a ZRANGEBYSCORE WITHSCORES operation with degraded mode handling
func (r *RedisClient) SafeZRangeByScoreWithScores(ctx context.Context, key, min, max string) *redis.ZSliceCmd {
	if r.IsDegraded() {
		return redis.NewZSliceCmdResult(nil, ErrRedisDegraded)
	}
	return r.Client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: min, Max: max})
}

// SafeZRemRangeByScore performs a ZREMRANGEBYSCORE operation with degraded mode handling
func (r *RedisClient) SafeZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.ZRemRangeByScore(ctx, key, min, max)
}

// SafeSRem performs a SREM operation with degraded mode handling
func (r *RedisClient) SafeSRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.SRem(ctx, key, members...)
}

// SafeSMembers performs a SMEMBERS operation with degraded mode handling
func (r *RedisClient) SafeSMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	if r.IsDegraded() {
		return redis.NewStringSliceResult([]string{}, ErrRedisDegraded)
	}
	return r.Client.SMembers(ctx, key)
}

// SafeExists performs an EXISTS operation with degraded mode handling
func (r *RedisClient) SafeExists(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.Exists(ctx, keys...)
}
