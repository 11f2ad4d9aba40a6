package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ============================================================================
// TOOL RESULT CACHE
// LRU-ordered with per-entry TTL. One cache per executor instance; agents
// own their executor, so cache state is never shared across agents.
// ============================================================================

// CacheEntry tracks one cached tool result.
type CacheEntry struct {
	Key          string        `json:"key"`
	Value        ToolResult    `json:"value"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	AccessCount  int64         `json:"access_count"`
	TTL          time.Duration `json:"ttl"`
}

func (e *CacheEntry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// CacheStats is a snapshot of cache effectiveness.
//
// TotalAccesses counts cache hits (the sum of per-entry access counts);
// the name is kept for compatibility with existing dashboards.
type CacheStats struct {
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Expirations   int64   `json:"expirations"`
	HitRate       float64 `json:"hit_rate"`
	TotalAccesses int64   `json:"total_accesses"`
}

// CacheConfig configures a ResultCache.
type CacheConfig struct {
	MaxSize          int
	DefaultTTL       time.Duration
	CleanupThreshold float64       // size fraction that triggers a cleanup pass
	CleanupInterval  time.Duration // minimum spacing between automatic passes
}

func (c *CacheConfig) setDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 60 * time.Second
	}
	if c.CleanupThreshold <= 0 || c.CleanupThreshold > 1 {
		c.CleanupThreshold = 0.8
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
}

// ResultCache caches successful tool results keyed by the canonical
// invocation signature.
type ResultCache struct {
	mu          sync.Mutex
	lru         *simplelru.LRU[string, *CacheEntry]
	cfg         CacheConfig
	lastCleanup time.Time
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewResultCache creates a cache with the given configuration.
func NewResultCache(cfg CacheConfig) (*ResultCache, error) {
	cfg.setDefaults()
	lru, err := simplelru.NewLRU[string, *CacheEntry](cfg.MaxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU store: %w", err)
	}
	return &ResultCache{lru: lru, cfg: cfg, lastCleanup: time.Now()}, nil
}

// CacheKey computes the canonical cache key for an invocation. Parameters
// are canonicalized through JSON (map keys sorted); the digest keeps keys
// bounded while the tool-name prefix keeps per-tool invalidation cheap.
func CacheKey(tool, operation string, params map[string]any, userID, taskID string) string {
	canonical, err := json.Marshal(struct {
		Params map[string]any `json:"params"`
		UserID string         `json:"user_id"`
		TaskID string         `json:"task_id"`
	}{params, userID, taskID})
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v|%s|%s", params, userID, taskID))
	}
	digest := sha256.Sum256(canonical)
	return tool + "|" + operation + "|" + hex.EncodeToString(digest[:16])
}

// Get returns the cached result for key, updating recency and access
// counts. Expired entries are removed and reported as misses.
func (c *ResultCache) Get(key string) (ToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return ToolResult{}, false
	}

	now := time.Now()
	if entry.expired(now) {
		c.lru.Remove(key)
		c.expirations++
		c.misses++
		return ToolResult{}, false
	}

	entry.LastAccessed = now
	entry.AccessCount++
	c.hits++
	return entry.Value, true
}

// Put inserts a successful result with the given TTL (zero = default TTL).
// Insertion may trigger a throttled cleanup pass.
func (c *ResultCache) Put(key string, value ToolResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, &CacheEntry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
	}); evicted {
		c.evictions++
	}

	c.maybeCleanupLocked(now)
}

// Cleanup runs an eviction pass immediately, bypassing the interval
// throttle. Expired entries are dropped first; if size still exceeds the
// threshold, least-recently-accessed entries are evicted until the cache
// is at or below 80% of its maximum.
func (c *ResultCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked(time.Now())
}

func (c *ResultCache) maybeCleanupLocked(now time.Time) {
	if now.Sub(c.lastCleanup) < c.cfg.CleanupInterval {
		return
	}
	if float64(c.lru.Len()) < float64(c.cfg.MaxSize)*c.cfg.CleanupThreshold {
		return
	}
	c.cleanupLocked(now)
}

func (c *ResultCache) cleanupLocked(now time.Time) {
	c.lastCleanup = now

	for _, key := range c.lru.Keys() {
		if entry, ok := c.lru.Peek(key); ok && entry.expired(now) {
			c.lru.Remove(key)
			c.expirations++
		}
	}

	target := int(float64(c.cfg.MaxSize) * 0.8)
	if target < 1 {
		target = 1
	}
	for c.lru.Len() > target {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		c.evictions++
	}
}

// InvalidateTool removes all entries for a tool and returns the count.
func (c *ResultCache) InvalidateTool(toolName string) int {
	return c.invalidate(toolName + "|")
}

// InvalidatePattern removes all entries whose key contains pattern.
func (c *ResultCache) InvalidatePattern(pattern string) int {
	return c.invalidate(pattern)
}

func (c *ResultCache) invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.Contains(key, pattern) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Purge drops every entry and resets counters.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

// Stats returns a snapshot of cache counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:          c.lru.Len(),
		MaxSize:       c.cfg.MaxSize,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Expirations:   c.expirations,
		TotalAccesses: c.hits,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
