package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/documenttranslator/internal/gcp"
)

// GCSStore keeps artifacts in a Cloud Storage bucket.
type GCSStore struct {
	client     *storage.Client
	bucketName string
	bucket     *storage.BucketHandle
}

// NewGCSStore wraps an existing client. The client is owned by the caller.
func NewGCSStore(client *storage.Client, bucketName string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, errors.New("artifact bucket name is required")
	}
	return &GCSStore{
		client:     client,
		bucketName: bucketName,
		bucket:     client.Bucket(bucketName),
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return gcp.ReplaceGCSObject(ctx, s.bucket, key, contentType, data)
}

func (s *GCSStore) PutIfAbsent(ctx context.Context, key, contentType string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return gcp.SaveToGCSAtomically(ctx, s.bucket, key, contentType, data)
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gcp.StreamGCSObject(ctx, s.client, s.bucketName, key, &buf); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", s.bucketName, key, ErrNotFound)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := validateKey(prefix); err != nil {
		return 0, err
	}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	deleted := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
		}
		if err := s.bucket.Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete object %q: %w", attrs.Name, err)
		}
		deleted++
	}
	slog.Info("Deleted artifacts.", "bucket", s.bucketName, "prefix", prefix, "count", deleted)
	return deleted, nil
}
