package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(ctx context.Context, opts Options) (*MinIOStore, error) {
	if opts.MinIOEndpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	client, err := minio.New(opts.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.MinIOAccessKey, opts.MinIOSecretKey, ""),
		Secure: opts.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &MinIOStore{client: client, bucket: opts.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinIOStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return ErrExists
	}
	if !isNoSuchKey(err) {
		return fmt.Errorf("stat object %s: %w", path, err)
	}
	if _, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}
	return nil
}

func (s *MinIOStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat object %s: %w", path, err)
	}
	return obj, nil
}

func (s *MinIOStore) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
