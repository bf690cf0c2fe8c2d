package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/pkg/logger"
)

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// cacheEntry represents a single cache entry
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
	createdAt time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(defaultTTL time.Duration, maxSize int) *MemoryCache {
	return &MemoryCache{
		data:    make(map[string]*cacheEntry),
		ttl:     defaultTTL,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Set stores a value in the cache with TTL
func (mc *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Use default TTL if not provided
	if ttl == 0 {
		ttl = mc.ttl
	}

	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	now := mc.now()
	mc.data[key] = &cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
}

// Get retrieves a value from the cache
func (mc *MemoryCache) Get(key string) (interface{}, bool) {
	mc.mu.RLock()
	entry, exists := mc.data[key]
	mc.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if mc.now().After(entry.expiresAt) {
		mc.mu.Lock()
		// Re-check: a concurrent Set may have replaced the entry
		if current, ok := mc.data[key]; ok && current == entry {
			delete(mc.data, key)
		}
		mc.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Delete removes a value from the cache
func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.data, key)
}

// Size returns the current number of entries in the cache
func (mc *MemoryCache) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

// evictOldest removes the oldest entry from the cache
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range mc.data {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		logger.Debug("Cache entry evicted",
			zap.String("key", oldestKey),
			zap.Time("created_at", oldestTime),
		)
	}
}

// cleanupExpired removes expired entries from the cache
func (mc *MemoryCache) cleanupExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	expiredCount := 0

	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		logger.Debug("Expired cache entries cleaned up",
			zap.Int("count", expiredCount),
			zap.Int("remaining", len(mc.data)),
		)
	}
}

// StartCleanup starts a goroutine to clean up expired entries
// Returns a stop function that can be called to cancel the cleanup goroutine
func (mc *MemoryCache) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mc.cleanupExpired()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

// Profile is the display data shown next to a user's messages and alerts
type Profile struct {
	UserID      uuid.UUID
	DisplayName string
	PhotoURL    string
}

// ProfileCache wraps MemoryCache for user profile lookups
type ProfileCache struct {
	cache *MemoryCache
}

// NewProfileCache creates a new profile cache
func NewProfileCache(ttl time.Duration, maxSize int) *ProfileCache {
	return &ProfileCache{cache: NewMemoryCache(ttl, maxSize)}
}

// Get returns a cached profile
func (pc *ProfileCache) Get(userID uuid.UUID) (*Profile, bool) {
	value, ok := pc.cache.Get(userID.String())
	if !ok {
		return nil, false
	}
	profile, ok := value.(*Profile)
	return profile, ok
}

// Put stores a profile using the default TTL
func (pc *ProfileCache) Put(profile *Profile) {
	pc.cache.Set(profile.UserID.String(), profile, 0)
}

// Invalidate drops a profile so the next lookup goes to the store
func (pc *ProfileCache) Invalidate(userID uuid.UUID) {
	pc.cache.Delete(userID.String())
}

// StartCleanup starts periodic removal of expired profiles
func (pc *ProfileCache) StartCleanup(interval time.Duration) func() {
	return pc.cache.StartCleanup(interval)
}
