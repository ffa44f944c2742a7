package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rohittredhu/stream-flix/internal/cache"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/eventbus"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrEmptyComment          = errors.New("comment content is required")
	ErrInspectionUnsupported = errors.New("job queue does not keep job state")
)

// SubmitRequest describes a freshly uploaded item waiting for ingestion.
type SubmitRequest struct {
	UploaderID        string
	Title             string
	Description       string
	MediaFilePath     string
	ThumbnailFilePath *string
}

// ItemService is the read/write surface over items: cache-aside reads,
// invalidation on every write, and event emission for realtime viewers.
type ItemService struct {
	repo      port.ItemRepository
	queue     port.JobQueue
	inspector port.JobInspector
	cache     *cache.Cache
	events    *eventbus.Publisher
	jobOpts   entity.JobOptions
	logger    *zap.Logger
}

func NewItemService(
	repo port.ItemRepository,
	queue port.JobQueue,
	c *cache.Cache,
	events *eventbus.Publisher,
	jobOpts entity.JobOptions,
	logger *zap.Logger,
) *ItemService {
	s := &ItemService{
		repo:    repo,
		queue:   queue,
		cache:   c,
		events:  events,
		jobOpts: jobOpts,
		logger:  logger.With(zap.String("component", "item_service")),
	}
	if in, ok := queue.(port.JobInspector); ok {
		s.inspector = in
	}
	return s
}

func (s *ItemService) GetItem(ctx context.Context, id string) (*entity.ItemRecord, error) {
	return cache.GetOrLoad(ctx, s.cache, entity.ItemCacheKey(id), s.cache.Policy().ItemTTL,
		func(ctx context.Context) (*entity.ItemRecord, error) {
			return s.repo.FindByID(ctx, id)
		})
}

func (s *ItemService) ListItems(ctx context.Context, q entity.ListQuery) (*entity.ItemPage, error) {
	q = q.Normalize()
	return cache.GetOrLoad(ctx, s.cache, entity.ItemsPageCacheKey(q), s.cache.Policy().ListTTL,
		func(ctx context.Context) (*entity.ItemPage, error) {
			return s.repo.List(ctx, q)
		})
}

func (s *ItemService) UpdateItem(ctx context.Context, id string, meta entity.ItemMetadata) (*entity.ItemRecord, error) {
	item, err := s.repo.UpdateMetadata(ctx, id, meta)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateItem(ctx, id)
	return item, nil
}

func (s *ItemService) IncrementViews(ctx context.Context, id string) (*entity.ItemRecord, error) {
	item, err := s.repo.IncrementViews(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateItem(ctx, id)
	return item, nil
}

func (s *ItemService) ToggleLike(ctx context.Context, itemID, userID string) (bool, error) {
	liked, err := s.repo.ToggleLike(ctx, itemID, userID)
	if err != nil {
		return false, err
	}
	s.cache.InvalidateItem(ctx, itemID)
	s.events.Emit(ctx, entity.LikeToggled{ItemID: itemID, UserID: userID, Liked: liked})
	return liked, nil
}

func (s *ItemService) AddComment(ctx context.Context, itemID, userID, content string) (*entity.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyComment
	}
	c, err := s.repo.AddComment(ctx, itemID, userID, content)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateItem(ctx, itemID)
	s.events.Emit(ctx, entity.NewCommentAdded(*c))
	return c, nil
}

// SubmitProcessing records a pending item and enqueues its ingestion job.
// A failed enqueue leaves the pending row behind for a later EnqueueProcessing.
func (s *ItemService) SubmitProcessing(ctx context.Context, req SubmitRequest) (*entity.ItemRecord, string, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "ItemService.SubmitProcessing")
	defer span.End()

	if req.MediaFilePath == "" {
		return nil, "", fmt.Errorf("%w: mediaFilePath is required", entity.ErrInvalidPayload)
	}
	item := &entity.ItemRecord{UploaderID: req.UploaderID, Title: req.Title, Description: req.Description}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, "", fmt.Errorf("create item: %w", err)
	}
	span.SetAttributes(attribute.String("item.id", item.ID))
	s.cache.InvalidateItem(ctx, item.ID)

	jobID, err := s.EnqueueProcessing(ctx, entity.ProcessItemPayload{
		ItemID:            item.ID,
		MediaFilePath:     req.MediaFilePath,
		ThumbnailFilePath: req.ThumbnailFilePath,
	})
	if err != nil {
		return item, "", err
	}
	return item, jobID, nil
}

func (s *ItemService) EnqueueProcessing(ctx context.Context, payload entity.ProcessItemPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	jobID, err := s.queue.Enqueue(ctx, entity.JobKindProcessItem, raw, s.jobOpts)
	if err != nil {
		return "", fmt.Errorf("enqueue processing job: %w", err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(entity.JobKindProcessItem).Inc()
	s.logger.Info("processing job enqueued", zap.String("job_id", jobID), zap.String("item_id", payload.ItemID))
	return jobID, nil
}

func (s *ItemService) JobStatus(ctx context.Context, jobID string) (*entity.Job, error) {
	if s.inspector == nil {
		return nil, ErrInspectionUnsupported
	}
	return s.inspector.Status(ctx, jobID)
}

func (s *ItemService) FailedJobs(ctx context.Context, limit int) ([]*entity.Job, error) {
	if s.inspector == nil {
		return nil, ErrInspectionUnsupported
	}
	return s.inspector.Failed(ctx, limit)
}
