package port

import (
	"context"
	"errors"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
)

var ErrItemNotFound = errors.New("item not found")

type ItemRepository interface {
	// Create inserts a pending item owned by rec.UploaderID.
	Create(ctx context.Context, rec *entity.ItemRecord) error
	FindByID(ctx context.Context, id string) (*entity.ItemRecord, error)
	List(ctx context.Context, q entity.ListQuery) (*entity.ItemPage, error)
	// UpdateStatus moves an item along the status state machine and fails
	// with entity.ErrInvalidTransition when the current status forbids it.
	UpdateStatus(ctx context.Context, id string, to entity.ItemStatus) (*entity.ItemRecord, error)
	// CompleteProcessing overwrites the worker-owned fields and marks the item ready.
	CompleteProcessing(ctx context.Context, id string, res entity.ProcessingResult) (*entity.ItemRecord, error)
	UpdateMetadata(ctx context.Context, id string, meta entity.ItemMetadata) (*entity.ItemRecord, error)
	IncrementViews(ctx context.Context, id string) (*entity.ItemRecord, error)
	ToggleLike(ctx context.Context, itemID, userID string) (bool, error)
	AddComment(ctx context.Context, itemID, userID, content string) (*entity.Comment, error)
}
