package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemStatusTransitions(t *testing.T) {
	allowed := [][2]ItemStatus{
		{ItemStatusPending, ItemStatusProcessing},
		{ItemStatusProcessing, ItemStatusProcessing},
		{ItemStatusProcessing, ItemStatusReady},
		{ItemStatusProcessing, ItemStatusFailed},
		{ItemStatusReady, ItemStatusReady},
	}
	for _, tr := range allowed {
		assert.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	rejected := [][2]ItemStatus{
		{ItemStatusPending, ItemStatusReady},
		{ItemStatusPending, ItemStatusFailed},
		{ItemStatusReady, ItemStatusProcessing},
		{ItemStatusFailed, ItemStatusProcessing},
		{ItemStatusFailed, ItemStatusReady},
		{ItemStatusReady, ItemStatusPending},
	}
	for _, tr := range rejected {
		assert.ErrorIs(t, ValidateTransition(tr[0], tr[1]), ErrInvalidTransition, "%s -> %s", tr[0], tr[1])
	}
}

func TestListQueryNormalize(t *testing.T) {
	q := ListQuery{}.Normalize()
	assert.Equal(t, ListQuery{Page: 1, Limit: 10, Status: ItemStatusReady}, q)
	assert.Equal(t, 0, q.Offset())

	q = ListQuery{Page: 3, Limit: 500, Status: ItemStatusPending}.Normalize()
	assert.Equal(t, 100, q.Limit)
	assert.Equal(t, 200, q.Offset())
}

func TestNewItemPage(t *testing.T) {
	page := NewItemPage(nil, ListQuery{Page: 1, Limit: 10}, 21)
	assert.Equal(t, 3, page.TotalPages)
	assert.NotNil(t, page.Items)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "item:v3", ItemCacheKey("v3"))
	key := ItemsPageCacheKey(ListQuery{Page: 2, Limit: 10, Status: ItemStatusReady})
	assert.Equal(t, "items:page:2:limit:10:status:ready", key)
	assert.Contains(t, key, ItemsKeyPrefix)
}
