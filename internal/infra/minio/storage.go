package minio

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
)

type Storage struct {
	client      *miniogo.Client
	videoBucket string
	imageBucket string
	baseURL     string
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	VideoBucket string
	ImageBucket string
	// PublicBaseURL prefixes returned media URLs. Defaults to the endpoint.
	PublicBaseURL string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}

	return &Storage{
		client:      client,
		videoBucket: cfg.VideoBucket,
		imageBucket: cfg.ImageBucket,
		baseURL:     strings.TrimRight(base, "/"),
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.videoBucket, s.imageBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *Storage) UploadVideo(ctx context.Context, filePath string) (*port.UploadResult, error) {
	return s.upload(ctx, s.videoBucket, filePath, "video/mp4")
}

func (s *Storage) UploadImage(ctx context.Context, filePath string) (*port.UploadResult, error) {
	return s.upload(ctx, s.imageBucket, filePath, "image/jpeg")
}

func (s *Storage) upload(ctx context.Context, bucket, filePath, fallbackType string) (*port.UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = fallbackType
	}
	key := uuid.NewString() + ext

	_, err := s.client.FPutObject(ctx, bucket, key, filePath, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s to %s: %w", filepath.Base(filePath), bucket, err)
	}
	return &port.UploadResult{
		URL:       s.baseURL + "/" + bucket + "/" + key,
		ObjectKey: bucket + "/" + key,
	}, nil
}

// Delete removes an object referenced by a key returned from an upload.
func (s *Storage) Delete(ctx context.Context, objectKey string) error {
	bucket, key, ok := strings.Cut(objectKey, "/")
	if !ok || bucket == "" || key == "" {
		return fmt.Errorf("delete object: malformed key %q", objectKey)
	}
	if err := s.client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", objectKey, err)
	}
	return nil
}
