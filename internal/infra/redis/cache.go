package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	gobreaker "github.com/sony/gobreaker/v2"
)

const scanBatch = 200

type CacheConfig struct {
	// FailureThreshold is the number of consecutive errors that opens the breaker.
	FailureThreshold uint32
	// OpenFor is how long the breaker stays open before probing again.
	OpenFor time.Duration
	// OperationTimeout bounds every single round trip.
	OperationTimeout time.Duration
}

// Cache is a port.CacheStore on Redis strings. A circuit breaker makes calls
// fail fast while Redis is unreachable, so callers degrade to a miss quickly.
type Cache struct {
	rc      *goredis.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	timeout time.Duration
}

func NewCache(rc *goredis.Client, cfg CacheConfig) *Cache {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, port.ErrCacheMiss)
		},
	}
	return &Cache{
		rc:      rc,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		timeout: cfg.OperationTimeout,
	}
}

// State reports the breaker state, for health output.
func (c *Cache) State() string {
	return c.breaker.State().String()
}

func (c *Cache) do(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.do(ctx, func(ctx context.Context) ([]byte, error) {
		b, err := c.rc.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, port.ErrCacheMiss
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		return b, nil
	})
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.do(ctx, func(ctx context.Context) ([]byte, error) {
		if err := c.rc.Set(ctx, key, value, ttl).Err(); err != nil {
			return nil, fmt.Errorf("redis set %s: %w", key, err)
		}
		return nil, nil
	})
	return err
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.do(ctx, func(ctx context.Context) ([]byte, error) {
		if err := c.rc.Unlink(ctx, keys...).Err(); err != nil {
			return nil, fmt.Errorf("redis unlink: %w", err)
		}
		return nil, nil
	})
	return err
}

// DeleteByPrefix walks the keyspace with SCAN rather than KEYS so large
// namespaces never block the server.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) error {
	_, err := c.do(ctx, func(ctx context.Context) ([]byte, error) {
		pattern := escapeGlob(prefix) + "*"
		var cursor uint64
		for {
			keys, next, err := c.rc.Scan(ctx, cursor, pattern, scanBatch).Result()
			if err != nil {
				return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
			}
			if len(keys) > 0 {
				if err := c.rc.Unlink(ctx, keys...).Err(); err != nil {
					return nil, fmt.Errorf("redis unlink: %w", err)
				}
			}
			if next == 0 {
				return nil, nil
			}
			cursor = next
		}
	})
	return err
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
