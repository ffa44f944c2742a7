package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobKindProcessItem is the only kind the ingestion pipeline produces.
const JobKindProcessItem = "process-item"

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2 * time.Second
	maxBackoff         = 10 * time.Minute
)

var ErrInvalidPayload = errors.New("invalid job payload")

// ProcessItemPayload is the body of a process-item job.
type ProcessItemPayload struct {
	ItemID            string  `json:"itemId"`
	MediaFilePath     string  `json:"mediaFilePath"`
	ThumbnailFilePath *string `json:"thumbnailFilePath"`
}

func (p ProcessItemPayload) Validate() error {
	if p.ItemID == "" {
		return fmt.Errorf("%w: itemId is required", ErrInvalidPayload)
	}
	if p.MediaFilePath == "" {
		return fmt.Errorf("%w: mediaFilePath is required", ErrInvalidPayload)
	}
	return nil
}

// HasThumbnail reports whether a thumbnail file was supplied with the upload.
func (p ProcessItemPayload) HasThumbnail() bool {
	return p.ThumbnailFilePath != nil && *p.ThumbnailFilePath != ""
}

type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	BackoffBase time.Duration   `json:"backoffBase"`
	State       JobState        `json:"state"`
	Progress    int             `json:"progress"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// JobOptions overrides the retry policy of a single job.
type JobOptions struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func (o JobOptions) withDefaults() JobOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	return o
}

func NewJob(kind string, payload json.RawMessage, opts JobOptions) *Job {
	opts = opts.withDefaults()
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase,
		State:       JobStateQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (j *Job) MarkActive() {
	j.State = JobStateActive
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkQueued(errMsg string) {
	j.State = JobStateQueued
	j.LastError = errMsg
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted() {
	j.State = JobStateCompleted
	j.Progress = 100
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkFailed(errMsg string) {
	j.State = JobStateFailed
	j.LastError = errMsg
	j.UpdatedAt = time.Now().UTC()
}

// CanRetry reports whether another execution is allowed after the current one.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Backoff is the delay before the next execution: BackoffBase doubled for
// every failed execution after the first.
func (j *Job) Backoff() time.Duration {
	n := j.Attempts - 1
	if n < 0 {
		n = 0
	}
	if n > 20 {
		return maxBackoff
	}
	delay := j.BackoffBase * time.Duration(1<<uint(n))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// DecodeProcessItem unmarshals and validates a process-item payload.
func (j *Job) DecodeProcessItem() (ProcessItemPayload, error) {
	var p ProcessItemPayload
	if j.Kind != JobKindProcessItem {
		return p, fmt.Errorf("%w: unexpected kind %q", ErrInvalidPayload, j.Kind)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, p.Validate()
}
