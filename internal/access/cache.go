package access

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/pkg/logger"
	"github.com/tallyhr/accesscore/pkg/metrics"
)

// DefaultTTL is how long a cached decision stays fresh.
const DefaultTTL = 5 * time.Minute

// DefaultGraceBound is the total lifetime of an entry when the serve-stale
// grace policy is enabled. Entries between TTL and this bound are served with
// a staleness warning.
const DefaultGraceBound = 10 * time.Minute

type cacheEntry struct {
	result     PermissionResult
	expiresAt  time.Time
	staleUntil time.Time
}

// Cache is the session-scoped store of permission decisions. Entries expire
// lazily on read; no background sweep is required. Writes follow
// last-write-wins for the same key.
type Cache struct {
	mu      sync.RWMutex
	entries map[Permission]cacheEntry

	now   func() time.Time
	grace time.Duration
	log   *zap.Logger
}

// CacheOption customises cache construction.
type CacheOption func(*Cache)

// WithGrace enables the named serve-stale-on-expiry policy: entries are served
// for up to the supplied extra window after expiry, with a staleness warning
// logged on each such read.
func WithGrace(extra time.Duration) CacheOption {
	return func(c *Cache) {
		if extra > 0 {
			c.grace = extra
		}
	}
}

// WithCacheClock overrides the clock, primarily for testing TTL behaviour.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache constructs an empty permission cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[Permission]cacheEntry),
		now:     time.Now,
		log:     logger.WithModule("permission-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached result for the key. Expired entries are treated as
// absent unless the grace policy admits them, in which case the stale result
// is served and a warning logged.
func (c *Cache) Get(key Permission) (PermissionResult, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return PermissionResult{}, false
	}

	switch {
	case now.Before(entry.expiresAt):
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return entry.result, true
	case c.grace > 0 && now.Before(entry.staleUntil):
		metrics.CacheLookups.WithLabelValues("stale").Inc()
		c.log.Warn("serving stale permission decision",
			zap.String("permission", key.String()),
			zap.Duration("stale_for", now.Sub(entry.expiresAt)))
		return entry.result, true
	}

	c.evictExpired(key, entry.expiresAt)
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return PermissionResult{}, false
}

// Put stores a result under the key with the supplied TTL. A non-positive TTL
// falls back to DefaultTTL.
func (c *Cache) Put(key Permission, result PermissionResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := c.now()
	entry := cacheEntry{
		result:     result,
		expiresAt:  now.Add(ttl),
		staleUntil: now.Add(ttl + c.grace),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate evicts the supplied keys, or every entry when called with none.
// Evicted keys do not reappear until re-evaluated.
func (c *Cache) Invalidate(keys ...Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 {
		c.entries = make(map[Permission]cacheEntry)
		return
	}
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// Len reports the number of stored entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictExpired removes the key only if it still holds the same expired entry,
// so a concurrent overwrite is never lost.
func (c *Cache) evictExpired(key Permission, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.entries[key]; ok && current.expiresAt.Equal(expiresAt) {
		delete(c.entries, key)
	}
}
