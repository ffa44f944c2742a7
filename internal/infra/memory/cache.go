package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/port"
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a process-local port.CacheStore.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type CacheOption func(*Cache)

// WithClock replaces the time source used for expiry.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{entries: make(map[string]cacheEntry), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, port.ErrCacheMiss
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, port.ErrCacheMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := cacheEntry{value: append([]byte(nil), value...)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *Cache) DeleteByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (c *Cache) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
