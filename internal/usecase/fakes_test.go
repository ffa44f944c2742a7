package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
)

type fakeRepo struct {
	mu    sync.Mutex
	items map[string]*entity.ItemRecord
	likes map[string]bool
	reads atomic.Int32
	// failProcessing makes every move to processing fail with a transient error.
	failProcessing bool
}

var errDatabaseDown = errors.New("database unavailable")

func newFakeRepo(items ...*entity.ItemRecord) *fakeRepo {
	r := &fakeRepo{items: map[string]*entity.ItemRecord{}, likes: map[string]bool{}}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

func (r *fakeRepo) get(id string) (*entity.ItemRecord, error) {
	it, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", port.ErrItemNotFound, id)
	}
	return it, nil
}

func (r *fakeRepo) status(id string) entity.ItemStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].Status
}

func (r *fakeRepo) Create(_ context.Context, rec *entity.ItemRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = entity.ItemStatusPending
	cp := *rec
	r.items[rec.ID] = &cp
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*entity.ItemRecord, error) {
	r.reads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.get(id)
	if err != nil {
		return nil, err
	}
	cp := *it
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context, q entity.ListQuery) (*entity.ItemPage, error) {
	r.reads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.ItemRecord
	for _, it := range r.items {
		if it.Status == q.Status {
			out = append(out, *it)
		}
	}
	return entity.NewItemPage(out, q, int64(len(out))), nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id string, to entity.ItemStatus) (*entity.ItemRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if to == entity.ItemStatusProcessing && r.failProcessing {
		return nil, errDatabaseDown
	}
	if err := entity.ValidateTransition(it.Status, to); err != nil {
		return nil, err
	}
	it.Status = to
	cp := *it
	return &cp, nil
}

func (r *fakeRepo) CompleteProcessing(_ context.Context, id string, res entity.ProcessingResult) (*entity.ItemRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if err := entity.ValidateTransition(it.Status, entity.ItemStatusReady); err != nil {
		return nil, err
	}
	it.Status = entity.ItemStatusReady
	it.MediaURL = res.MediaURL
	it.MediaObjectKey = res.MediaObjectKey
	it.ThumbnailURL = res.ThumbnailURL
	it.DurationSeconds = res.DurationSeconds
	cp := *it
	return &cp, nil
}

func (r *fakeRepo) UpdateMetadata(_ context.Context, id string, meta entity.ItemMetadata) (*entity.ItemRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if meta.Title != nil {
		it.Title = *meta.Title
	}
	if meta.Description != nil {
		it.Description = *meta.Description
	}
	cp := *it
	return &cp, nil
}

func (r *fakeRepo) IncrementViews(_ context.Context, id string) (*entity.ItemRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.get(id)
	if err != nil {
		return nil, err
	}
	it.ViewCount++
	cp := *it
	return &cp, nil
}

func (r *fakeRepo) ToggleLike(_ context.Context, itemID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.get(itemID)
	if err != nil {
		return false, err
	}
	key := itemID + "/" + userID
	r.likes[key] = !r.likes[key]
	if r.likes[key] {
		it.LikeCount++
	} else {
		it.LikeCount--
	}
	return r.likes[key], nil
}

func (r *fakeRepo) AddComment(_ context.Context, itemID, userID, content string) (*entity.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := r.get(itemID)
	if err != nil {
		return nil, err
	}
	it.CommentCount++
	return &entity.Comment{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Content:   content,
		Author:    entity.Author{ID: userID, Username: "user-" + userID},
		CreatedAt: time.Now().UTC(),
	}, nil
}

var errUploadFailed = errors.New("provider unavailable")

// fakeStorage fails the first failVideo video uploads.
type fakeStorage struct {
	mu         sync.Mutex
	failVideo  int
	failImage  bool
	videoCalls int
	deleted    []string
}

func (s *fakeStorage) UploadVideo(_ context.Context, path string) (*port.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoCalls++
	if s.videoCalls <= s.failVideo {
		return nil, errUploadFailed
	}
	return &port.UploadResult{URL: "http://media/videos/" + path, ObjectKey: "videos/" + path}, nil
}

func (s *fakeStorage) UploadImage(_ context.Context, path string) (*port.UploadResult, error) {
	if s.failImage {
		return nil, errUploadFailed
	}
	return &port.UploadResult{URL: "http://media/thumbnails/" + path, ObjectKey: "thumbnails/" + path}, nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStorage) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoCalls
}

type fakeProber struct {
	seconds float64
	err     error
}

func (p fakeProber) ProbeDuration(context.Context, string) (float64, error) {
	return p.seconds, p.err
}

// steppingClock advances by step on every read, so delayed retries become
// due after a few polls without real sleeps.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Now()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}
