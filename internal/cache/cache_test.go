package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDown = errors.New("store down")

type downStore struct{}

func (downStore) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (downStore) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (downStore) Delete(context.Context, ...string) error { return errDown }
func (downStore) DeleteByPrefix(context.Context, string) error { return errDown }

var _ port.CacheStore = downStore{}

func testPolicy() Policy { return Policy{ItemTTL: time.Hour, ListTTL: 10 * time.Minute} }

func TestGetOrLoadPopulatesOnMiss(t *testing.T) {
	ctx := context.Background()
	c := New(memory.NewCache(), testPolicy(), zap.NewNop())

	calls := 0
	load := func(context.Context) (*entity.ItemRecord, error) {
		calls++
		return &entity.ItemRecord{ID: "v1", Title: "t"}, nil
	}

	got, err := GetOrLoad(ctx, c, entity.ItemCacheKey("v1"), time.Hour, load)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ID)

	got, err = GetOrLoad(ctx, c, entity.ItemCacheKey("v1"), time.Hour, load)
	require.NoError(t, err)
	assert.Equal(t, "t", got.Title)
	assert.Equal(t, 1, calls)
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := New(memory.NewCache(), testPolicy(), zap.NewNop())

	_, err := GetOrLoad(ctx, c, "item:x", time.Hour, func(context.Context) (int, error) {
		return 0, port.ErrItemNotFound
	})
	assert.ErrorIs(t, err, port.ErrItemNotFound)

	var v int
	assert.False(t, c.GetJSON(ctx, "item:x", &v))
}

func TestInvalidateItemDropsEntityAndPages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCache()
	c := New(store, testPolicy(), zap.NewNop())

	pageKey := entity.ItemsPageCacheKey(entity.ListQuery{Page: 1, Limit: 10, Status: entity.ItemStatusReady})
	c.SetJSON(ctx, entity.ItemCacheKey("v3"), entity.ItemRecord{ID: "v3"}, time.Hour)
	c.SetJSON(ctx, entity.ItemCacheKey("v4"), entity.ItemRecord{ID: "v4"}, time.Hour)
	c.SetJSON(ctx, pageKey, entity.ItemPage{Page: 1}, time.Minute)

	c.InvalidateItem(ctx, "v3")

	var rec entity.ItemRecord
	assert.False(t, c.GetJSON(ctx, entity.ItemCacheKey("v3"), &rec))
	var page entity.ItemPage
	assert.False(t, c.GetJSON(ctx, pageKey, &page))
	assert.True(t, c.GetJSON(ctx, entity.ItemCacheKey("v4"), &rec))
}

func TestUnavailableStoreDegradesToLoad(t *testing.T) {
	ctx := context.Background()
	c := New(downStore{}, testPolicy(), zap.NewNop())

	calls := 0
	for i := 0; i < 3; i++ {
		got, err := GetOrLoad(ctx, c, "item:v1", time.Hour, func(context.Context) (string, error) {
			calls++
			return "fresh", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "fresh", got)
	}
	assert.Equal(t, 3, calls)

	assert.NotPanics(t, func() { c.InvalidateItem(ctx, "v1") })
}

func TestCorruptEntryIsTreatedAsMiss(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCache()
	require.NoError(t, store.Set(ctx, "item:v1", []byte("{not json"), time.Hour))
	c := New(store, testPolicy(), zap.NewNop())

	var rec entity.ItemRecord
	assert.False(t, c.GetJSON(ctx, "item:v1", &rec))
	_, err := store.Get(ctx, "item:v1")
	assert.ErrorIs(t, err, port.ErrCacheMiss)
}
