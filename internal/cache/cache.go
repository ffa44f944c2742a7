// Package cache is the cache-aside layer in front of the item repository.
// Every store error is logged and downgraded to a miss or a no-op, so the
// read paths stay correct with the store entirely unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"go.uber.org/zap"
)

type Policy struct {
	ItemTTL time.Duration
	ListTTL time.Duration
}

type Cache struct {
	store  port.CacheStore
	policy Policy
	logger *zap.Logger
}

func New(store port.CacheStore, policy Policy, logger *zap.Logger) *Cache {
	return &Cache{store: store, policy: policy, logger: logger.With(zap.String("component", "cache"))}
}

func (c *Cache) Policy() Policy { return c.policy }

// GetJSON decodes the value at key into dest and reports whether it was a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, port.ErrCacheMiss):
		metrics.CacheRequestsTotal.WithLabelValues("get", "miss").Inc()
		return false
	case err != nil:
		metrics.CacheRequestsTotal.WithLabelValues("get", "error").Inc()
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("get", "error").Inc()
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		c.delete(ctx, key)
		return false
	}
	metrics.CacheRequestsTotal.WithLabelValues("get", "hit").Inc()
	return true
}

func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("set", "error").Inc()
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.CacheRequestsTotal.WithLabelValues("set", "ok").Inc()
}

func (c *Cache) delete(ctx context.Context, keys ...string) {
	if err := c.store.Delete(ctx, keys...); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("delete", "error").Inc()
		c.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return
	}
	metrics.CacheRequestsTotal.WithLabelValues("delete", "ok").Inc()
}

// InvalidateItem drops the entity key of itemID and every collection page,
// since any page may contain the item.
func (c *Cache) InvalidateItem(ctx context.Context, itemID string) {
	c.delete(ctx, entity.ItemCacheKey(itemID))
	if err := c.store.DeleteByPrefix(ctx, entity.ItemsKeyPrefix); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("delete_prefix", "error").Inc()
		c.logger.Warn("cache prefix delete failed", zap.String("prefix", entity.ItemsKeyPrefix), zap.Error(err))
		return
	}
	metrics.CacheRequestsTotal.WithLabelValues("delete_prefix", "ok").Inc()
}

// GetOrLoad is the cache-aside read: a hit is returned as is, a miss calls
// load and populates key with ttl. Load errors are returned uncached.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c.GetJSON(ctx, key, &v) {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.SetJSON(ctx, key, v, ttl)
	return v, nil
}
