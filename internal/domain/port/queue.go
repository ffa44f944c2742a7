package port

import (
	"context"
	"errors"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobNotActive = errors.New("job is not held by an active claim")
)

// JobQueue is an at-least-once work queue. Claim hands a job to exactly one
// consumer at a time and returns nil when nothing is ready.
type JobQueue interface {
	Enqueue(ctx context.Context, kind string, payload []byte, opts entity.JobOptions) (string, error)
	Claim(ctx context.Context, consumer string) (*entity.Job, error)
	Progress(ctx context.Context, job *entity.Job, percent int) error
	Complete(ctx context.Context, job *entity.Job) error
	Retry(ctx context.Context, job *entity.Job, delay time.Duration, reason string) error
	Fail(ctx context.Context, job *entity.Job, reason string) error
	Close() error
}

// JobInspector is implemented by queues that keep job state queryable.
type JobInspector interface {
	Status(ctx context.Context, jobID string) (*entity.Job, error)
	// Failed lists dead-lettered jobs, most recent first.
	Failed(ctx context.Context, limit int) ([]*entity.Job, error)
}
