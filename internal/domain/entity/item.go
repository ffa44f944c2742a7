package entity

import (
	"errors"
	"fmt"
	"time"
)

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusReady      ItemStatus = "ready"
	ItemStatusFailed     ItemStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid item status transition")

// itemTransitions lists, for every target status, the statuses it may be
// reached from. Self-transitions cover re-claims after a retry and duplicate
// deliveries of an already persisted result.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusProcessing: {ItemStatusPending, ItemStatusProcessing},
	ItemStatusReady:      {ItemStatusProcessing, ItemStatusReady},
	ItemStatusFailed:     {ItemStatusProcessing},
}

// AllowedFrom returns the statuses from which to is reachable.
func AllowedFrom(to ItemStatus) []ItemStatus {
	return itemTransitions[to]
}

func CanTransition(from, to ItemStatus) bool {
	for _, s := range itemTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to ItemStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusReady, ItemStatusFailed:
		return true
	}
	return false
}

func (s ItemStatus) Terminal() bool {
	return s == ItemStatusReady || s == ItemStatusFailed
}

// ItemRecord is the canonical video entity. Status and the media fields are
// written only by the worker; Title and Description only by the HTTP layer.
type ItemRecord struct {
	ID              string     `json:"id"`
	UploaderID      string     `json:"uploaderId"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          ItemStatus `json:"status"`
	MediaURL        string     `json:"mediaUrl,omitempty"`
	MediaObjectKey  string     `json:"mediaObjectKey,omitempty"`
	ThumbnailURL    string     `json:"thumbnailUrl,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	ViewCount       int64      `json:"viewCount"`
	LikeCount       int64      `json:"likeCount"`
	CommentCount    int64      `json:"commentCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ProcessingResult holds the worker-owned fields persisted on success.
type ProcessingResult struct {
	MediaURL        string
	MediaObjectKey  string
	ThumbnailURL    string
	DurationSeconds int
}

// ItemMetadata is a partial update of the HTTP-owned fields.
type ItemMetadata struct {
	Title       *string
	Description *string
}

func (m ItemMetadata) Empty() bool {
	return m.Title == nil && m.Description == nil
}

type ItemPage struct {
	Items      []ItemRecord `json:"items"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	Total      int64        `json:"total"`
	TotalPages int          `json:"totalPages"`
}

type ListQuery struct {
	Page   int
	Limit  int
	Status ItemStatus
}

func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Status == "" {
		q.Status = ItemStatusReady
	}
	return q
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

func NewItemPage(items []ItemRecord, q ListQuery, total int64) *ItemPage {
	pages := 0
	if q.Limit > 0 {
		pages = int((total + int64(q.Limit) - 1) / int64(q.Limit))
	}
	if items == nil {
		items = []ItemRecord{}
	}
	return &ItemPage{Items: items, Page: q.Page, Limit: q.Limit, Total: total, TotalPages: pages}
}

type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	Content   string    `json:"content"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}
