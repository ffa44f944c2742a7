package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rohittredhu/stream-flix/internal/cache"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/eventbus"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"github.com/rohittredhu/stream-flix/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ProcessItemConfig struct {
	// RemoveLocalFiles deletes the uploaded source files once the job is
	// terminal. Retries need them, so they survive retryable failures.
	RemoveLocalFiles bool
}

// ProcessItemUseCase is the worker.Handler for process-item jobs.
type ProcessItemUseCase struct {
	repo    port.ItemRepository
	storage port.MediaStorage
	prober  port.DurationProber
	cache   *cache.Cache
	events  *eventbus.Publisher
	logger  *zap.Logger
	cfg     ProcessItemConfig
}

func NewProcessItemUseCase(
	repo port.ItemRepository,
	storage port.MediaStorage,
	prober port.DurationProber,
	c *cache.Cache,
	events *eventbus.Publisher,
	logger *zap.Logger,
	cfg ProcessItemConfig,
) *ProcessItemUseCase {
	return &ProcessItemUseCase{
		repo:    repo,
		storage: storage,
		prober:  prober,
		cache:   c,
		events:  events,
		logger:  logger,
		cfg:     cfg,
	}
}

func (uc *ProcessItemUseCase) Handle(ctx context.Context, job *entity.Job, progress worker.ProgressFunc) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessItemUseCase.Handle",
		trace.WithAttributes(attribute.String("job.id", job.ID), attribute.Int("job.attempt", job.Attempts)))
	defer span.End()

	payload, err := job.DecodeProcessItem()
	if err != nil {
		return worker.Permanent(err)
	}
	span.SetAttributes(attribute.String("item.id", payload.ItemID))
	log := uc.logger.With(zap.String("job_id", job.ID), zap.String("item_id", payload.ItemID))

	progress(10)

	if _, err := uc.repo.UpdateStatus(ctx, payload.ItemID, entity.ItemStatusProcessing); err != nil {
		done, err := uc.checkDuplicate(ctx, payload, err, log)
		if done {
			progress(100)
		}
		return err
	}
	uc.cache.InvalidateItem(ctx, payload.ItemID)

	upStart := time.Now()
	ctx2, spanUp := tracer.Start(ctx, "upload_media")
	media, err := uc.storage.UploadVideo(ctx2, payload.MediaFilePath)
	spanUp.End()
	if err != nil {
		log.Warn("media upload failed", zap.Error(err))
		return fmt.Errorf("upload media: %w", err)
	}
	metrics.JobProcessingDuration.WithLabelValues("upload_media").Observe(time.Since(upStart).Seconds())

	duration, err := uc.prober.ProbeDuration(ctx, payload.MediaFilePath)
	if err != nil {
		log.Warn("could not probe media duration", zap.Error(err))
	}
	progress(50)

	res := entity.ProcessingResult{
		MediaURL:        media.URL,
		MediaObjectKey:  media.ObjectKey,
		DurationSeconds: int(math.Round(duration)),
	}

	if payload.HasThumbnail() {
		thStart := time.Now()
		ctx3, spanTh := tracer.Start(ctx, "upload_thumbnail")
		thumb, err := uc.storage.UploadImage(ctx3, *payload.ThumbnailFilePath)
		spanTh.End()
		if err != nil {
			log.Warn("thumbnail upload failed, continuing without thumbnail", zap.Error(err))
		} else {
			res.ThumbnailURL = thumb.URL
			metrics.JobProcessingDuration.WithLabelValues("upload_thumbnail").Observe(time.Since(thStart).Seconds())
		}
	}
	progress(70)

	ctx4, spanDb := tracer.Start(ctx, "persist_result")
	item, err := uc.repo.CompleteProcessing(ctx4, payload.ItemID, res)
	spanDb.End()
	if err != nil {
		log.Error("failed to persist processing result", zap.Error(err))
		uc.discardUpload(ctx, media.ObjectKey, log)
		if errors.Is(err, port.ErrItemNotFound) {
			return worker.Permanent(err)
		}
		return fmt.Errorf("persist result: %w", err)
	}
	progress(90)

	uc.cache.InvalidateItem(ctx, payload.ItemID)
	uc.events.Emit(ctx, entity.ItemProcessed{ItemID: item.ID, Status: item.Status, Item: *item})
	progress(100)

	uc.removeLocalFiles(payload, log)

	log.Info("item processed",
		zap.String("media_url", item.MediaURL),
		zap.Bool("thumbnail", item.ThumbnailURL != ""),
		zap.Int("duration_seconds", item.DurationSeconds),
	)
	return nil
}

// checkDuplicate decides what a refused processing transition means. A
// duplicate delivery for an item that is already ready succeeds without
// redoing work; anything else is permanent or transient.
func (uc *ProcessItemUseCase) checkDuplicate(ctx context.Context, payload entity.ProcessItemPayload, cause error, log *zap.Logger) (bool, error) {
	switch {
	case errors.Is(cause, port.ErrItemNotFound):
		return false, worker.Permanent(cause)
	case !errors.Is(cause, entity.ErrInvalidTransition):
		return false, fmt.Errorf("mark processing: %w", cause)
	}

	item, err := uc.repo.FindByID(ctx, payload.ItemID)
	if err != nil {
		return false, fmt.Errorf("load item: %w", err)
	}
	if item.Status == entity.ItemStatusReady {
		log.Info("item already processed, skipping duplicate job")
		uc.removeLocalFiles(payload, log)
		return true, nil
	}
	return false, worker.Permanent(cause)
}

// HandleFailure marks the item failed and tells its viewers.
func (uc *ProcessItemUseCase) HandleFailure(ctx context.Context, job *entity.Job, cause error) {
	payload, err := job.DecodeProcessItem()
	if err != nil {
		uc.logger.Error("dropping job with invalid payload", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	log := uc.logger.With(zap.String("job_id", job.ID), zap.String("item_id", payload.ItemID))

	if err := uc.markFailed(ctx, payload.ItemID); err != nil {
		log.Error("failed to mark item failed", zap.Error(err))
	}
	uc.cache.InvalidateItem(ctx, payload.ItemID)
	uc.events.Emit(ctx, entity.ItemProcessingFailed{ItemID: payload.ItemID, Error: cause.Error()})
	uc.removeLocalFiles(payload, log)
}

// markFailed moves the item to failed. An item whose job never got it past
// pending is walked through processing first.
func (uc *ProcessItemUseCase) markFailed(ctx context.Context, itemID string) error {
	_, err := uc.repo.UpdateStatus(ctx, itemID, entity.ItemStatusFailed)
	if !errors.Is(err, entity.ErrInvalidTransition) {
		return err
	}
	item, ferr := uc.repo.FindByID(ctx, itemID)
	if ferr != nil || item.Status != entity.ItemStatusPending {
		return err
	}
	if _, err := uc.repo.UpdateStatus(ctx, itemID, entity.ItemStatusProcessing); err != nil {
		return err
	}
	_, err = uc.repo.UpdateStatus(ctx, itemID, entity.ItemStatusFailed)
	return err
}

func (uc *ProcessItemUseCase) discardUpload(ctx context.Context, objectKey string, log *zap.Logger) {
	if err := uc.storage.Delete(ctx, objectKey); err != nil {
		log.Warn("failed to delete orphaned upload", zap.String("object_key", objectKey), zap.Error(err))
	}
}

func (uc *ProcessItemUseCase) removeLocalFiles(p entity.ProcessItemPayload, log *zap.Logger) {
	if !uc.cfg.RemoveLocalFiles {
		return
	}
	files := []string{p.MediaFilePath}
	if p.HasThumbnail() {
		files = append(files, *p.ThumbnailFilePath)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove local file", zap.String("file", f), zap.Error(err))
		}
	}
}
