package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(ctx context.Context, opts Options) (*GCSStore, error) {
	var clientOpts []option.ClientOption
	if opts.GCSCredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.GCSCredentialsFile))
	}
	clientOpts = append(clientOpts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: opts.Bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 412 {
			return ErrExists
		}
		return fmt.Errorf("close object writer %s: %w", path, err)
	}
	return nil
}

func (s *GCSStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", path, err)
	}
	return rc, nil
}

func (s *GCSStore) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
