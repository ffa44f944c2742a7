package entity

import "fmt"

// ItemsKeyPrefix is the namespace of every collection page key.
const ItemsKeyPrefix = "items:"

func ItemCacheKey(id string) string {
	return "item:" + id
}

func ItemsPageCacheKey(q ListQuery) string {
	return fmt.Sprintf("%spage:%d:limit:%d:status:%s", ItemsKeyPrefix, q.Page, q.Limit, q.Status)
}
