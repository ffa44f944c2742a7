// Package app builds the backends selected by configuration. One Infra is
// created per process and shared by every component in it, so the memory
// backends are only meaningful when producer and worker share a process.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rohittredhu/stream-flix/internal/cache"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/infra/config"
	"github.com/rohittredhu/stream-flix/internal/infra/memory"
	streamnats "github.com/rohittredhu/stream-flix/internal/infra/nats"
	"github.com/rohittredhu/stream-flix/internal/infra/postgres"
	"github.com/rohittredhu/stream-flix/internal/infra/rabbitmq"
	"github.com/rohittredhu/stream-flix/internal/infra/redis"
	"go.uber.org/zap"
)

const memoryBusBuffer = 256

type Infra struct {
	cfg    *config.Config
	logger *zap.Logger

	mu      sync.Mutex
	redis   *goredis.Client
	pool    *pgxpool.Pool
	queue   port.JobQueue
	bus     port.EventBus
	store   port.CacheStore
	nats    *streamnats.EmbeddedServer
	closers []func() error
}

func New(cfg *config.Config, logger *zap.Logger) *Infra {
	return &Infra{cfg: cfg, logger: logger}
}

func (in *Infra) Config() *config.Config { return in.cfg }

func (in *Infra) redisClient(ctx context.Context) (*goredis.Client, error) {
	if in.redis != nil {
		return in.redis, nil
	}
	rc, err := redis.NewClient(ctx, in.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	in.redis = rc
	in.closers = append(in.closers, rc.Close)
	return rc, nil
}

// Postgres opens the pool and applies pending migrations.
func (in *Infra) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pool != nil {
		return in.pool, nil
	}
	pool, err := pgxpool.New(ctx, in.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	in.pool = pool
	in.closers = append(in.closers, func() error { pool.Close(); return nil })
	return pool, nil
}

func (in *Infra) Queue(ctx context.Context) (port.JobQueue, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.queue != nil {
		return in.queue, nil
	}

	var q port.JobQueue
	switch in.cfg.QueueBackend {
	case config.BackendRedis:
		rc, err := in.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		q = redis.NewQueue(rc, redis.QueueConfig{Name: in.cfg.QueueName, Retention: in.cfg.JobRetention})
	case config.BackendRabbitMQ:
		rq, err := rabbitmq.NewQueue(rabbitmq.QueueConfig{
			URL:      in.cfg.RabbitMQURL,
			Queue:    in.cfg.QueueName,
			Exchange: in.cfg.RabbitMQExchange,
			DLQ:      in.cfg.RabbitMQDLQ,
		}, in.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		q = rq
	case config.BackendMemory:
		q = memory.NewQueue()
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", in.cfg.QueueBackend)
	}

	in.queue = q
	in.closers = append(in.closers, q.Close)
	in.logger.Info("job queue ready", zap.String("backend", in.cfg.QueueBackend), zap.String("queue", in.cfg.QueueName))
	return q, nil
}

func (in *Infra) Bus(ctx context.Context) (port.EventBus, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.bus != nil {
		return in.bus, nil
	}

	var b port.EventBus
	switch in.cfg.BusBackend {
	case config.BackendRedis:
		rc, err := in.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		b = redis.NewBus(rc, in.logger)
	case config.BackendNATS:
		url := in.cfg.NATSURL
		if in.cfg.NATSEmbedded {
			ns, err := streamnats.StartEmbedded(in.cfg.NATSEmbeddedHost, in.cfg.NATSEmbeddedPort)
			if err != nil {
				return nil, fmt.Errorf("start embedded nats: %w", err)
			}
			in.nats = ns
			url = ns.ClientURL()
			in.logger.Info("embedded nats server started", zap.String("url", url))
		}
		nb, err := streamnats.Connect(url, in.cfg.WorkerName, in.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		b = nb
	case config.BackendMemory:
		b = memory.NewBus(memoryBusBuffer)
	default:
		return nil, fmt.Errorf("unsupported bus backend %q", in.cfg.BusBackend)
	}

	in.bus = b
	in.closers = append(in.closers, b.Close)
	in.logger.Info("event bus ready", zap.String("backend", in.cfg.BusBackend))
	return b, nil
}

// Cache returns the cache-aside facade over the configured store. The
// memory store is swept for expired entries until ctx is done.
func (in *Infra) Cache(ctx context.Context) (*cache.Cache, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.store == nil {
		switch in.cfg.CacheBackend {
		case config.BackendRedis:
			rc, err := in.redisClient(ctx)
			if err != nil {
				return nil, err
			}
			in.store = redis.NewCache(rc, redis.CacheConfig{
				FailureThreshold: in.cfg.CacheBreakerFailures,
				OpenFor:          in.cfg.CacheBreakerOpenFor,
				OperationTimeout: in.cfg.CacheOperationTimeout,
			})
		case config.BackendMemory:
			mc := memory.NewCache()
			go mc.RunJanitor(ctx, time.Minute)
			in.store = mc
		default:
			return nil, fmt.Errorf("unsupported cache backend %q", in.cfg.CacheBackend)
		}
	}
	return cache.New(in.store, cache.Policy{ItemTTL: in.cfg.CacheItemTTL, ListTTL: in.cfg.CacheListTTL}, in.logger), nil
}

// Close releases everything in reverse order of creation.
func (in *Infra) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			in.logger.Warn("close backend", zap.Error(err))
		}
	}
	in.closers = nil
	if in.nats != nil {
		in.nats.Shutdown()
		in.nats = nil
	}
}
