// Package cache provides the in-process caches owned by an engine instance.
package cache

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNilValue is returned by GetOrLoad when the loader yields a nil value
// without an error. Nothing is stored.
var ErrNilValue = errors.New("cache: loader returned a nil value")

// Clock returns the current time. Tests inject a manual clock.
type Clock func() time.Time

// Entry is a cached value with its creation time and lifetime.
// A zero TTL never expires.
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is stale at now.
func (e *Entry[T]) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Stats is a snapshot of a cache's contents.
type Stats struct {
	Entries int      `json:"entries"`
	Keys    []string `json:"keys"`
	Hits    uint64   `json:"hits"`
	Misses  uint64   `json:"misses"`
	Fills   uint64   `json:"fills"`
}

// TTLCache maps composite string keys to values. Expired entries read as
// absent and are only removed by Prune or Clear. Concurrent fills of one key
// share a single call to the loader. A fill that started before Clear is
// not stored.
type TTLCache[T any] struct {
	entries map[string]*Entry[T]
	mu      sync.RWMutex
	group   singleflight.Group
	ttl     time.Duration
	now     Clock
	// gen is bumped by Clear.
	gen uint64

	hits, misses, fills uint64
}

// Option configures a TTLCache.
type Option[T any] func(*TTLCache[T])

// WithClock replaces time.Now.
func WithClock[T any](clock Clock) Option[T] {
	return func(c *TTLCache[T]) {
		c.now = clock
	}
}

// New creates a cache whose entries live for ttl. ttl <= 0 disables expiry.
func New[T any](ttl time.Duration, opts ...Option[T]) *TTLCache[T] {
	c := &TTLCache[T]{
		entries: make(map[string]*Entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists && !entry.Expired(c.now()) {
		c.hits++
		return entry.Value, true
	}
	c.misses++
	var zero T
	return zero, false
}

// Set stores value under key with the cache's TTL.
func (c *TTLCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry[T]{
		Value:     value,
		CreatedAt: c.now(),
		TTL:       c.ttl,
	}
}

// GetOrLoad returns the live value for key or calls load once, however many
// callers are waiting on the same key, and stores its result. Errors are not
// cached. The second return value reports whether the value came from the
// cache.
func (c *TTLCache[T]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// Callers arriving after a Clear start a new flight.
	ch := c.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		// Another flight may have filled the key while we queued.
		c.mu.RLock()
		entry, exists := c.entries[key]
		c.mu.RUnlock()
		if exists && !entry.Expired(c.now()) {
			return entry.Value, nil
		}

		// Callers that give up must not abort the shared fill.
		value, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if any(value) == nil {
			return nil, ErrNilValue
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen == gen {
			c.fills++
			c.entries[key] = &Entry[T]{Value: value, CreatedAt: c.now(), TTL: c.ttl}
		}
		return value, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, false, res.Err
		}
		value, ok := res.Val.(T)
		if !ok {
			var zero T
			return zero, false, ErrNilValue
		}
		return value, false, nil
	}
}

// Clear removes all entries and discards the results of fills in flight.
func (c *TTLCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[T])
	c.gen++
}

// Prune removes expired entries and returns how many were dropped.
func (c *TTLCache[T]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns the entry count, sorted keys and counters.
func (c *TTLCache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return Stats{
		Entries: len(c.entries),
		Keys:    keys,
		Hits:    c.hits,
		Misses:  c.misses,
		Fills:   c.fills,
	}
}
