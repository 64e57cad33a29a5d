package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/pkg/timestamp"
)

// ttlCache is a thread-safe cache whose entries expire after a per-entry TTL.
// Expired entries are purged lazily on lookup; there is no background sweep.
type ttlCache[V any] struct {
	mu         sync.RWMutex
	defaultTTL time.Duration
	items      map[string]*Entry[V]
	clock      timestamp.Clock
	stats      *Statistics
	metrics    *cacheMetrics
	evictFn    EvictCallback[V]
}

// NewTTL creates a TTL cache. A defaultTTL <= 0 means entries stored without
// an explicit TTL never expire.
func NewTTL[V any](defaultTTL time.Duration, options ...Option[V]) (Cache[V], error) {
	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewTTL", "metrics registration")
		}
	}

	return &ttlCache[V]{
		defaultTTL: defaultTTL,
		items:      make(map[string]*Entry[V]),
		clock:      timestamp.OrSystem(opts.clock),
		stats:      NewStatistics(),
		metrics:    metrics,
		evictFn:    opts.evictCallback,
	}, nil
}

// Get retrieves a value by key, purging it first if it has expired.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		c.miss()
		return zero, false
	}

	now := c.clock.Now()
	if entry.ExpiredAt(now) {
		c.mu.Lock()
		// Double-check it's still the same expired entry
		current, stillExists := c.items[key]
		purged := stillExists && current == entry
		if purged {
			delete(c.items, key)
		}
		size := len(c.items)
		c.mu.Unlock()

		if purged {
			c.stats.Eviction()
			c.stats.UpdateSize(int64(size))
			if c.metrics != nil {
				c.metrics.recordEviction()
				c.metrics.updateSize(size)
			}
			if c.evictFn != nil {
				c.evictFn(key, entry.Value)
			}
		}

		c.miss()
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.Value, true
}

func (c *ttlCache[V]) miss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

// Set stores a value under the default TTL.
func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	return c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores a value, overwriting any existing entry for the key.
func (c *ttlCache[V]) SetWithTTL(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := c.clock.Now()
	entry := &Entry[V]{Key: key, Value: value, CreatedAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = entry
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}

	return !exists, nil
}

// Delete removes an entry by key.
func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if exists {
		c.removed(size, entry)
	}
	return exists, nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func (c *ttlCache[V]) DeletePrefix(prefix string) int {
	var removed []*Entry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if strings.HasPrefix(key, prefix) {
			removed = append(removed, entry)
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	c.removed(size, removed...)
	return len(removed)
}

// Clear removes all entries from the cache.
func (c *ttlCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]*Entry[V])
	c.mu.Unlock()

	entries := make([]*Entry[V], 0, len(old))
	for _, entry := range old {
		entries = append(entries, entry)
	}
	c.removed(0, entries...)
	return nil
}

func (c *ttlCache[V]) removed(size int, entries ...*Entry[V]) {
	for range entries {
		c.stats.Delete()
		if c.metrics != nil {
			c.metrics.recordDelete()
		}
	}
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.updateSize(size)
	}
	if c.evictFn != nil {
		for _, entry := range entries {
			c.evictFn(entry.Key, entry.Value)
		}
	}
}

// Size returns the number of unexpired entries.
func (c *ttlCache[V]) Size() int {
	return len(c.Keys())
}

// Keys returns the keys of all unexpired entries.
func (c *ttlCache[V]) Keys() []string {
	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !entry.ExpiredAt(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}
