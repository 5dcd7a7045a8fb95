package cache

import (
	"context"
	"sync"
	"time"
)

// entry is a memoized upstream response.
type entry struct {
	value     any
	fetchedAt time.Time
	expiresAt time.Time
}

// flight tracks one in-progress fetch for a key. Concurrent callers for the
// same key wait on done and share the recorded outcome instead of issuing a
// duplicate upstream call.
type flight struct {
	done  chan struct{}
	value any
	err   error
}

// Cache is a concurrency-safe TTL memoization layer with single-flight
// deduplication. At most one fetch per key is in progress at any time;
// failures are never stored.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	flights map[string]*flight

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		flights: make(map[string]*flight),
		now:     time.Now,
	}
}

// GetOrFetch returns the live cached value for key, or runs fetch to obtain
// one. If another fetch for the same key is already running, the caller waits
// for it and receives the same outcome. Successful results are stored until
// now+ttl; a ttl <= 0 means the result is returned but never stored.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}

	if f, ok := c.flights[key]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.value, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	c.flights[key] = f
	c.mu.Unlock()

	value, err := fetch(ctx)

	c.mu.Lock()
	if err == nil && ttl > 0 {
		fetchedAt := c.now()
		c.entries[key] = entry{
			value:     value,
			fetchedAt: fetchedAt,
			expiresAt: fetchedAt.Add(ttl),
		}
	}
	delete(c.flights, key)
	f.value, f.err = value, err
	close(f.done)
	c.mu.Unlock()

	return value, err
}

// Invalidate removes the entry for key, if any.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops all entries expired as of now and reports how many were removed.
func (c *Cache) Purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
