package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
)

var errClosed = errors.New("memory backend closed")

type delayedJob struct {
	id      string
	readyAt time.Time
}

// Queue is a process-local port.JobQueue. Claims are serialized by a mutex,
// so a job is held by at most one consumer.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*entity.Job
	owners  map[string]string
	failed  []string
	waiting []string
	delayed []delayedJob
	now     func() time.Time
	closed  bool
}

type QueueOption func(*Queue)

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		jobs:   make(map[string]*entity.Job),
		owners: make(map[string]string),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Enqueue(_ context.Context, kind string, payload []byte, opts entity.JobOptions) (string, error) {
	job := entity.NewJob(kind, append([]byte(nil), payload...), opts)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", errClosed
	}
	q.jobs[job.ID] = job
	q.waiting = append(q.waiting, job.ID)
	return job.ID, nil
}

func (q *Queue) Claim(_ context.Context, consumer string) (*entity.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errClosed
	}

	q.promoteDue()
	if len(q.waiting) == 0 {
		return nil, nil
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]

	job := q.jobs[id]
	job.MarkActive()
	q.owners[id] = consumer
	return cloneJob(job), nil
}

// promoteDue moves delayed jobs whose backoff elapsed to the waiting list,
// oldest deadline first.
func (q *Queue) promoteDue() {
	if len(q.delayed) == 0 {
		return
	}
	now := q.now()
	sort.SliceStable(q.delayed, func(i, j int) bool {
		return q.delayed[i].readyAt.Before(q.delayed[j].readyAt)
	})
	n := 0
	for n < len(q.delayed) && !q.delayed[n].readyAt.After(now) {
		q.waiting = append(q.waiting, q.delayed[n].id)
		n++
	}
	q.delayed = q.delayed[n:]
}

func (q *Queue) active(job *entity.Job) (*entity.Job, error) {
	stored, ok := q.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", port.ErrJobNotFound, job.ID)
	}
	if stored.State != entity.JobStateActive || stored.Attempts != job.Attempts {
		return nil, fmt.Errorf("%w: %s", port.ErrJobNotActive, job.ID)
	}
	return stored, nil
}

func (q *Queue) Progress(_ context.Context, job *entity.Job, percent int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.active(job)
	if err != nil {
		return err
	}
	stored.Progress = percent
	return nil
}

func (q *Queue) Complete(_ context.Context, job *entity.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.active(job)
	if err != nil {
		return err
	}
	stored.MarkCompleted()
	delete(q.owners, job.ID)
	return nil
}

func (q *Queue) Retry(_ context.Context, job *entity.Job, delay time.Duration, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.active(job)
	if err != nil {
		return err
	}
	stored.MarkQueued(reason)
	delete(q.owners, job.ID)
	q.delayed = append(q.delayed, delayedJob{id: job.ID, readyAt: q.now().Add(delay)})
	return nil
}

func (q *Queue) Fail(_ context.Context, job *entity.Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.active(job)
	if err != nil {
		return err
	}
	stored.MarkFailed(reason)
	delete(q.owners, job.ID)
	q.failed = append(q.failed, job.ID)
	return nil
}

func (q *Queue) Failed(_ context.Context, limit int) ([]*entity.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*entity.Job, 0, len(q.failed))
	for i := len(q.failed) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneJob(q.jobs[q.failed[i]]))
	}
	return out, nil
}

func (q *Queue) Status(_ context.Context, jobID string) (*entity.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", port.ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// Owner returns the consumer currently holding jobID, if any.
func (q *Queue) Owner(jobID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	owner, ok := q.owners[jobID]
	return owner, ok
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func cloneJob(j *entity.Job) *entity.Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	return &c
}
