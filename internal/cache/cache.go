// Package cache provides the TTL cache that sits in front of every expensive
// upstream call. Lifetimes are chosen per call site, not per cache.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries bounds the number of stored keys.
const DefaultMaxEntries = 100

type entry struct {
	storedAt time.Time
	gen      uint64
	value    any
}

// Cache maps a request fingerprint to the last successful fetch result.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	seq        uint64

	group  singleflight.Group
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns an empty cache holding at most maxEntries keys.
func New(maxEntries int, logger *zap.Logger, opts ...Option) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds a fingerprint from an endpoint and its parameters. Parameter
// order does not matter.
func Key(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return endpoint + "?" + q.Encode()
}

// Len reports the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Cache) lookup(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) >= ttl {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) nextGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// store writes value unless an entry from a newer fetch is already present.
func (c *Cache) store(key string, gen uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[key]; ok {
		if cur.gen > gen {
			return
		}
	} else if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{storedAt: c.now(), gen: gen, value: value}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.logger.Debug("cache eviction", zap.String("key", oldestKey))
	}
}

// GetOrFetch returns the cached value for key while it is younger than ttl.
// Otherwise it calls fetch, stores a successful result and returns it.
// Failed fetches are returned to the caller and never stored.
//
// Concurrent misses on the same key share one fetch. The fetch does not
// inherit ctx cancellation; a caller whose ctx ends stops waiting and the
// fetch still completes and populates the cache for the next caller.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := c.lookup(key, ttl); ok {
		if tv, ok := v.(T); ok {
			return tv, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (val any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cache: fetch for %s panicked: %v", key, r)
			}
		}()
		gen := c.nextGen()
		v, err := fetch(detached)
		if err != nil {
			return nil, err
		}
		c.store(key, gen, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: %s holds %T", key, res.Val)
		}
		return v, nil
	}
}
