package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/servicehub/apiserver/config"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// ImageStore persists listing images in an object storage backend and
// hands back the key the listing records.
type ImageStore struct {
	backend ObjectStorage
}

// NewImageStore constructs an ImageStore for the provided backend.
func NewImageStore(backend ObjectStorage) *ImageStore {
	return &ImageStore{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *ImageStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Save uploads image data under a fresh timestamped key carrying the
// original filename's extension and returns that key.
func (s *ImageStore) Save(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("image-%d%s", time.Now().UnixNano(), path.Ext(filename))
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return key, nil
}

// Open returns a reader for a stored image.
func (s *ImageStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Remove deletes a stored image.
func (s *ImageStore) Remove(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *ImageStore) Bucket() string {
	return s.backend.Bucket()
}

// NewImageStoreFromConfig builds the configured backend. An empty
// driver disables image storage and returns nil.
func NewImageStoreFromConfig(ctx context.Context, cfg config.StorageConfig) (*ImageStore, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "minio":
		backend, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return NewImageStore(backend), nil
	case "gcs":
		backend, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return NewImageStore(backend), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
