package cache

import (
	"fmt"
	"time"

	"github.com/c360/flexpoint/errors"
)

// Cache represents a generic cache interface parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Expired entries are purged and reported as a miss.
	Get(key string) (V, bool)

	// Set stores a value under the default TTL. Returns true if a new entry was created.
	Set(key string, value V) (bool, error)

	// SetWithTTL stores a value with its own TTL. A ttl <= 0 falls back to the default.
	SetWithTTL(key string, value V, ttl time.Duration) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// DeletePrefix removes every entry whose key starts with prefix and
	// returns how many were removed.
	DeletePrefix(prefix string) int

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the number of unexpired entries.
	Size() int

	// Keys returns the keys of all unexpired entries.
	Keys() []string

	// Stats returns cache statistics. Never nil.
	Stats() *Statistics
}

// EvictCallback is called when an entry leaves the cache, whether by expiry,
// deletion or clear. It runs outside the cache lock.
type EvictCallback[V any] func(key string, value V)

// Entry is a point-in-time view of a cached value.
type Entry[V any] struct {
	Key       string
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiration
}

// ExpiredAt reports whether the entry has expired at the given instant.
// An entry is still live at exactly its expiry instant.
func (e *Entry[V]) ExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(fmt.Errorf("empty key"), "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
