package predict

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cache is a small TTL cache for predictions. Pileup state changes every
// 15-second cycle, so entries go stale quickly; the TTL keeps repeated UI
// refreshes within a cycle cheap without serving old evidence.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value   Prediction
	expires time.Time
}

// NewCache creates a cache holding up to maxSize entries for ttlSeconds each.
func NewCache(maxSize, ttlSeconds int) *Cache {
	if maxSize <= 0 {
		maxSize = 500
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 30
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     time.Duration(ttlSeconds) * time.Second,
		now:     time.Now,
	}
}

// Get returns the cached prediction if present and fresh.
func (c *Cache) Get(key string) (Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Prediction{}, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return Prediction{}, false
	}
	return e.value, true
}

// Set stores a prediction. When full, expired entries are evicted first;
// if none have expired the whole cache is reset rather than tracking LRU
// order for a cache this small.
func (c *Cache) Set(key string, value Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		now := c.now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			c.entries = make(map[string]cacheEntry)
		}
	}
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(c.ttl)}
}

// Invalidate removes entries whose key contains substr. Empty substr clears
// everything.
func (c *Cache) Invalidate(substr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if substr == "" {
		c.entries = make(map[string]cacheEntry)
		return
	}
	for k := range c.entries {
		if strings.Contains(k, substr) {
			delete(c.entries, k)
		}
	}
}

// Len reports the current entry count, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey builds a deterministic key from the target, path status, and
// feature snapshot. Feature names are sorted so map order cannot split
// identical requests across entries.
func cacheKey(target, path string, features map[string]any) string {
	var b strings.Builder
	b.WriteString(target)
	b.WriteByte('|')
	b.WriteString(path)

	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "|%s=%v", name, features[name])
	}
	return b.String()
}
