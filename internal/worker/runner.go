package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ProgressFunc reports an advisory completion percentage for the running job.
type ProgressFunc func(percent int)

type Handler interface {
	Handle(ctx context.Context, job *entity.Job, progress ProgressFunc) error
	// HandleFailure runs once, when job will never be attempted again.
	HandleFailure(ctx context.Context, job *entity.Job, cause error)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Config struct {
	Name         string
	Concurrency  int
	PollInterval time.Duration
}

// Runner executes jobs from a queue on a fixed pool of claim loops.
type Runner struct {
	queue   port.JobQueue
	handler Handler
	cfg     Config
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewRunner(queue port.JobQueue, handler Handler, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	return &Runner{queue: queue, handler: handler, cfg: cfg, logger: logger}
}

// Run blocks until ctx is done, then waits for in-flight jobs to finish.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting worker pool",
		zap.Int("workers", r.cfg.Concurrency),
		zap.String("name", r.cfg.Name),
	)

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}

	<-ctx.Done()
	r.logger.Info("context cancelled, waiting for workers to finish")
	r.wg.Wait()
	return nil
}

func (r *Runner) loop(ctx context.Context, id int) {
	defer r.wg.Done()
	consumer := fmt.Sprintf("%s-%d", r.cfg.Name, id)
	log := r.logger.With(zap.Int("worker_id", id))
	log.Info("worker started")

	for {
		if ctx.Err() != nil {
			log.Info("worker shutting down")
			return
		}

		job, err := r.queue.Claim(ctx, consumer)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("claim failed", zap.Error(err))
			}
			r.idle(ctx)
			continue
		}
		if job == nil {
			r.idle(ctx)
			continue
		}

		// In-flight jobs are drained rather than abandoned on shutdown.
		r.process(context.WithoutCancel(ctx), job, consumer, log)
	}
}

func (r *Runner) idle(ctx context.Context) {
	t := time.NewTimer(r.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Runner) process(ctx context.Context, job *entity.Job, consumer string, log *zap.Logger) {
	ctx, span := otel.Tracer("worker").Start(ctx, "Runner.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.Int("job.attempt", job.Attempts),
	)

	log = log.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempts))
	start := time.Now()

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	progress := func(percent int) {
		metrics.JobProgress.WithLabelValues(consumer).Set(float64(percent))
		if err := r.queue.Progress(ctx, job, percent); err != nil {
			log.Debug("progress update failed", zap.Int("percent", percent), zap.Error(err))
		}
	}

	err := r.safeHandle(ctx, job, progress)
	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	if err == nil {
		if err := r.queue.Complete(ctx, job); err != nil {
			log.Error("failed to mark job completed", zap.Error(err))
			metrics.JobsProcessedTotal.WithLabelValues("orphaned").Inc()
			return
		}
		metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
		log.Info("job completed", zap.Duration("took", time.Since(start)))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if !IsPermanent(err) && job.CanRetry() {
		delay := job.Backoff()
		metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempts)).Inc()
		log.Warn("job failed, scheduling retry",
			zap.Error(err),
			zap.Duration("delay", delay),
			zap.Int("max_attempts", job.MaxAttempts),
		)
		if err := r.queue.Retry(ctx, job, delay, err.Error()); err != nil {
			log.Error("failed to schedule retry", zap.Error(err))
			metrics.JobsProcessedTotal.WithLabelValues("orphaned").Inc()
			return
		}
		metrics.JobsProcessedTotal.WithLabelValues("retried").Inc()
		return
	}

	log.Error("job failed permanently", zap.Error(err), zap.Bool("permanent", IsPermanent(err)))
	r.handler.HandleFailure(ctx, job, err)
	if err := r.queue.Fail(ctx, job, err.Error()); err != nil {
		log.Error("failed to mark job failed", zap.Error(err))
		metrics.JobsProcessedTotal.WithLabelValues("orphaned").Inc()
		return
	}
	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
}

// safeHandle turns a handler panic into an ordinary job failure.
func (r *Runner) safeHandle(ctx context.Context, job *entity.Job, progress ProgressFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return r.handler.Handle(ctx, job, progress)
}
