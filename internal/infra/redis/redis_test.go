package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	rc, err := NewClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestCacheGetSetExpire(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	c := NewCache(rc, CacheConfig{OpenFor: time.Second, OperationTimeout: time.Second})

	_, err := c.Get(ctx, "item:v1")
	assert.ErrorIs(t, err, port.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "item:v1", []byte(`{"id":"v1"}`), 200*time.Millisecond))
	got, err := c.Get(ctx, "item:v1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"v1"}`, string(got))

	assert.Eventually(t, func() bool {
		_, err := c.Get(ctx, "item:v1")
		return err == port.ErrCacheMiss
	}, 2*time.Second, 50*time.Millisecond)

	// Misses never trip the breaker.
	assert.Equal(t, "closed", c.State())
}

func TestCacheDeleteByPrefix(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	c := NewCache(rc, CacheConfig{OpenFor: time.Second})

	for i := 0; i < 450; i++ {
		key := entity.ItemsPageCacheKey(entity.ListQuery{Page: i + 1, Limit: 10, Status: entity.ItemStatusReady})
		require.NoError(t, c.Set(ctx, key, []byte("page"), time.Minute))
	}
	require.NoError(t, c.Set(ctx, "item:v1", []byte("one"), time.Minute))
	require.NoError(t, c.Set(ctx, "items*literal", []byte("x"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, entity.ItemsKeyPrefix))

	n, err := rc.Exists(ctx, "items:page:1:limit:10:status:ready", "items:page:450:limit:10:status:ready").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.Get(ctx, "item:v1")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "items*literal")
	assert.NoError(t, err, "glob characters in the prefix must be matched literally")

	require.NoError(t, c.Delete(ctx, "item:v1"))
	_, err = c.Get(ctx, "item:v1")
	assert.ErrorIs(t, err, port.ErrCacheMiss)
}

func TestCacheBreakerOpensWhenUnavailable(t *testing.T) {
	rc := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rc.Close()
	c := NewCache(rc, CacheConfig{FailureThreshold: 2, OpenFor: time.Minute, OperationTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Get(ctx, "item:v1")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.State())

	start := time.Now()
	_, err := c.Get(ctx, "item:v1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueClaimIsExclusive(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	q := NewQueue(rc, QueueConfig{Name: "exclusive", Retention: time.Hour})

	const jobs = 40
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, entity.JobKindProcessItem, []byte(`{"itemId":"v","mediaFilePath":"/tmp/x"}`), entity.JobOptions{})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Claim(ctx, "worker")
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
				_ = q.Complete(ctx, job)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestQueueClaimSkipsJobsWithoutHash(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	q := NewQueue(rc, QueueConfig{Name: "orphans"})

	id, err := q.Enqueue(ctx, entity.JobKindProcessItem, []byte(`{}`), entity.JobOptions{})
	require.NoError(t, err)
	// Ids whose hash expired ahead of the live job.
	require.NoError(t, rc.RPush(ctx, q.waitingKey(), "expired-1", "expired-2").Err())

	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)

	n, err := rc.LLen(ctx, q.waitingKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueueRetryThenFail(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	q := NewQueue(rc, QueueConfig{Name: "retry"})

	id, err := q.Enqueue(ctx, entity.JobKindProcessItem, []byte(`{}`), entity.JobOptions{MaxAttempts: 2, BackoffBase: 100 * time.Millisecond})
	require.NoError(t, err)

	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 100*time.Millisecond, job.BackoffBase)
	require.NoError(t, q.Progress(ctx, job, 50))

	require.NoError(t, q.Retry(ctx, job, 300*time.Millisecond, "upload failed"))
	assert.ErrorIs(t, q.Complete(ctx, job), port.ErrJobNotActive)

	next, err := q.Claim(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, next)

	require.Eventually(t, func() bool {
		next, err = q.Claim(ctx, "w2")
		return err == nil && next != nil
	}, 2*time.Second, 50*time.Millisecond)
	assert.Equal(t, id, next.ID)
	assert.Equal(t, 2, next.Attempts)
	assert.Equal(t, "upload failed", next.LastError)

	require.NoError(t, q.Fail(ctx, next, "upload failed again"))

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStateFailed, status.State)
	assert.Equal(t, 50, status.Progress)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)

	_, err = q.Status(ctx, "missing")
	assert.ErrorIs(t, err, port.ErrJobNotFound)
}

func TestQueueCompletedJobExpires(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	q := NewQueue(rc, QueueConfig{Name: "retention", Retention: 200 * time.Millisecond})

	id, err := q.Enqueue(ctx, entity.JobKindProcessItem, []byte(`{}`), entity.JobOptions{})
	require.NoError(t, err)
	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job))

	status, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStateCompleted, status.State)
	assert.Equal(t, 100, status.Progress)

	assert.Eventually(t, func() bool {
		_, err := q.Status(ctx, id)
		return err != nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestBusNoBacklogAndFanout(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	bus := NewBus(rc, zap.NewNop())
	defer bus.Close()

	require.NoError(t, bus.Publish(ctx, "comment-added", []byte("early")))

	got := make(chan string, 4)
	_, err := bus.Subscribe(ctx, "comment-added", func(_ context.Context, data []byte) { got <- "a:" + string(data) })
	require.NoError(t, err)
	sub, err := bus.Subscribe(ctx, "comment-added", func(_ context.Context, data []byte) { got <- "b:" + string(data) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "comment-added", []byte("late")))

	var received []string
	for len(received) < 2 {
		select {
		case msg := <-got:
			received = append(received, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for messages")
		}
	}
	assert.ElementsMatch(t, []string{"a:late", "b:late"}, received)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(ctx, "comment-added", []byte("after")))
	select {
	case msg := <-got:
		assert.Equal(t, "a:after", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
