package minio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
)

func TestStorageUploadAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer container.Terminate(ctx)

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := NewStorage(StorageConfig{
		Endpoint:    endpoint,
		AccessKey:   "minioadmin",
		SecretKey:   "minioadmin",
		VideoBucket: "videos",
		ImageBucket: "thumbnails",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))
	require.NoError(t, storage.EnsureBuckets(ctx))

	file := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(file, []byte("not really a video"), 0o644))

	res, err := storage.UploadVideo(ctx, file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ObjectKey, "videos/"))
	assert.True(t, strings.HasSuffix(res.URL, res.ObjectKey))

	bucket, key, _ := strings.Cut(res.ObjectKey, "/")
	info, err := storage.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", info.ContentType)

	require.NoError(t, storage.Delete(ctx, res.ObjectKey))
	_, err = storage.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	assert.Error(t, err)
}

func TestStorageDeleteRejectsMalformedKey(t *testing.T) {
	storage, err := NewStorage(StorageConfig{Endpoint: "localhost:9000", VideoBucket: "videos", ImageBucket: "thumbnails"})
	require.NoError(t, err)
	assert.Error(t, storage.Delete(context.Background(), "no-bucket"))
}

func TestStoragePublicURL(t *testing.T) {
	storage, err := NewStorage(StorageConfig{
		Endpoint:      "localhost:9000",
		VideoBucket:   "videos",
		ImageBucket:   "thumbnails",
		PublicBaseURL: "https://cdn.example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com", storage.baseURL)
}
