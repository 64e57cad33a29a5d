package decision

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/event"
	"github.com/c360/flexpoint/extension"
	"github.com/c360/flexpoint/metric"
	"github.com/c360/flexpoint/pkg/cache"
	"github.com/c360/flexpoint/pkg/timestamp"
)

// DefaultTTL applies when a decision is stored without a positive TTL.
const DefaultTTL = 30 * time.Minute

const separator = "|"

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for expiry.
func WithClock(clock timestamp.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithMetricsRegistry exports cache statistics under component "decision".
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(c *Cache) { c.registry = registry }
}

// WithPublisher emits a cache.evicted event whenever a decision leaves the cache.
func WithPublisher(publisher event.Publisher) Option {
	return func(c *Cache) { c.publisher = publisher }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Stats summarizes decision cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
	Size    int
}

// Cache remembers which extension a context resolved to, per capability.
// Entries are keyed by capability name and the caller's key and expire
// lazily: an expired decision is purged on lookup and counted as a miss.
type Cache struct {
	entries    cache.Cache[*extension.Extension]
	defaultTTL time.Duration
	clock      timestamp.Clock
	registry   *metric.MetricsRegistry
	publisher  event.Publisher
	logger     *slog.Logger
}

// New creates a decision cache.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		defaultTTL: DefaultTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "decision-cache")

	cacheOpts := []cache.Option[*extension.Extension]{
		cache.WithClock[*extension.Extension](c.clock),
		cache.WithMetrics[*extension.Extension](c.registry, "decision"),
	}
	if c.publisher != nil {
		cacheOpts = append(cacheOpts, cache.WithEvictionCallback(c.evicted))
	}

	entries, err := cache.NewTTL(c.defaultTTL, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "decision", "New", "create cache")
	}
	c.entries = entries
	return c, nil
}

// Key builds the cache key for a capability and a caller key.
func Key(c extension.Capability, key string) string {
	return c.Name() + separator + key
}

// Get returns the cached decision for key.
func (c *Cache) Get(cp extension.Capability, key string) (*extension.Extension, bool) {
	return c.entries.Get(Key(cp, key))
}

// Put stores a decision. A ttl <= 0 uses the cache's default TTL.
func (c *Cache) Put(cp extension.Capability, key string, ext *extension.Extension, ttl time.Duration) error {
	if ext == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	_, err := c.entries.SetWithTTL(Key(cp, key), ext, ttl)
	return err
}

// Invalidate drops the given keys for a capability, or every decision of the
// capability when no key is given. It returns the number of entries removed.
func (c *Cache) Invalidate(cp extension.Capability, keys ...string) int {
	if len(keys) == 0 {
		n := c.entries.DeletePrefix(cp.Name() + separator)
		c.logger.Debug("Decisions invalidated", "capability", cp.Name(), "removed", n)
		return n
	}

	removed := 0
	for _, k := range keys {
		if ok, _ := c.entries.Delete(Key(cp, k)); ok {
			removed++
		}
	}
	return removed
}

// Clear drops every decision.
func (c *Cache) Clear() {
	_ = c.entries.Clear()
}

// Size returns the number of live decisions.
func (c *Cache) Size() int {
	return c.entries.Size()
}

// Stats returns hit/miss counters and the live size.
func (c *Cache) Stats() Stats {
	s := c.entries.Stats()
	return Stats{
		Hits:    s.Hits(),
		Misses:  s.Misses(),
		HitRate: s.HitRatio(),
		Size:    c.entries.Size(),
	}
}

func (c *Cache) evicted(key string, ext *extension.Extension) {
	capName, ctxKey, _ := strings.Cut(key, separator)
	opts := []event.Option{
		event.WithCapability(capName),
		event.WithAttribute("key", ctxKey),
	}
	if ext != nil {
		opts = append(opts, event.WithCode(ext.Code))
	}
	c.publisher.PublishAsync(context.Background(), event.New(event.TypeCacheEvicted, opts...))
}
