package middleware

import (
	"sync"
	"time"
)

// InMemoryRateLimiter counts requests per process while Redis is degraded.
// Limits are per instance, so the effective limit is multiplied by replicas.
type InMemoryRateLimiter struct {
	mu        sync.Mutex
	limits    map[string]*windowCount
	lastSweep time.Time
}

type windowCount struct {
	window int64
	count  int64
	seen   time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limits: make(map[string]*windowCount),
	}
}

// Incr counts one request for identifier in the given window and returns
// the running count
func (im *InMemoryRateLimiter) Incr(identifier string, window int64, now time.Time) int64 {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.sweep(now)

	entry, ok := im.limits[identifier]
	if !ok || entry.window != window {
		entry = &windowCount{window: window}
		im.limits[identifier] = entry
	}
	entry.count++
	entry.seen = now
	return entry.count
}

func (im *InMemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(im.lastSweep) < time.Minute {
		return
	}
	im.lastSweep = now
	for id, entry := range im.limits {
		if now.Sub(entry.seen) > 10*time.Minute {
			delete(im.limits, id)
		}
	}
}
