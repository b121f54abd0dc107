package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a typed key-value store with per-entry expiration. Contents are
// specific to each instance and are not shared between instances.
type Cache[V any] struct {
	cacheInstance *gocache.Cache
}

// New creates a Cache whose entries expire after defaultTTL unless Put is
// given an explicit TTL. A defaultTTL <= 0 disables expiration.
func New[V any](defaultTTL time.Duration) *Cache[V] {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &Cache[V]{cacheInstance: gocache.New(defaultTTL, time.Minute)}
}

// Put sets a key/value pair in the cache with an optional duration. Passing 0 for
// ttl will cause the default expiration to be used and -1 will not set a ttl.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	c.cacheInstance.Set(key, value, ttl)
}

// Get fetches a value from the cache, returning the value as well as whether
// or not the value was found (semantics similar to map).
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	v, ok := c.cacheInstance.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := v.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

func (c *Cache[V]) Delete(key string) {
	c.cacheInstance.Delete(key)
}

// Flush removes every entry.
func (c *Cache[V]) Flush() {
	c.cacheInstance.Flush()
}

// Len returns the number of entries, which may include expired entries that
// have not yet been cleaned up.
func (c *Cache[V]) Len() int {
	return c.cacheInstance.ItemCount()
}
