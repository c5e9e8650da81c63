package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// S3Client defines the minimal S3 interface used by the adapter. AWSClient
// is the aws-sdk-go-v2 implementation; tests inject doubles.
type S3Client interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, meta map[string]string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// S3 is the StorageAdapter backed by AWS S3 (or S3-compatible stores).
// All objects live in one S3 bucket; StorageKey.Bucket becomes a key
// prefix.
type S3 struct {
	client S3Client
	bucket string
}

// NewS3 creates an S3 adapter.  client must not be nil.
func NewS3(client S3Client, bucket string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 storage: client must not be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket must not be empty")
	}
	return &S3{client: client, bucket: bucket}, nil
}

func objectKey(key core.StorageKey) string {
	return path.Join(key.Bucket, key.Path)
}

// classify keeps not-found permanent and treats every other client
// failure as retryable.
func classify(op string, err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.New(apperrors.CategoryStorage, op, err)
	}
	return apperrors.Transient(op, err)
}

func (s *S3) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	if err := s.client.PutObject(ctx, s.bucket, objectKey(key), r, meta); err != nil {
		return apperrors.Transient("s3.put", err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.get", err)
	}
	rc, err := s.client.GetObject(ctx, s.bucket, objectKey(key))
	if err != nil {
		return nil, classify("s3.get", err)
	}
	return rc, nil
}

func (s *S3) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
	}
	if err := s.client.DeleteObject(ctx, s.bucket, objectKey(key)); err != nil {
		return classify("s3.delete", err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	ok, err := s.client.HeadObject(ctx, s.bucket, objectKey(key))
	if err != nil {
		return false, apperrors.Transient("s3.exists", err)
	}
	return ok, nil
}

func (s *S3) List(ctx context.Context, bucket string) ([]core.StorageKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.list", err)
	}
	prefix := ""
	if bucket != "" {
		prefix = strings.TrimSuffix(bucket, "/") + "/"
	}
	names, err := s.client.ListObjects(ctx, s.bucket, prefix)
	if err != nil {
		return nil, apperrors.Transient("s3.list", err)
	}
	keys := make([]core.StorageKey, 0, len(names))
	for _, n := range names {
		rest := strings.TrimPrefix(n, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		keys = append(keys, core.StorageKey{Bucket: bucket, Path: rest})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path < keys[j].Path })
	return keys, nil
}
