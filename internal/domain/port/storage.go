package port

import "context"

type UploadResult struct {
	URL       string
	ObjectKey string
}

// MediaStorage is the external media-hosting provider.
type MediaStorage interface {
	UploadVideo(ctx context.Context, filePath string) (*UploadResult, error)
	UploadImage(ctx context.Context, filePath string) (*UploadResult, error)
	Delete(ctx context.Context, objectKey string) error
}

type DurationProber interface {
	ProbeDuration(ctx context.Context, filePath string) (float64, error)
}
