package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrExists   = errors.New("blob already exists")
	ErrBadPath  = errors.New("invalid blob path")
)

// Store is the file bucket behind document versions. Objects are written
// once; Delete exists only to compensate a write whose metadata never
// committed.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

type Options struct {
	Backend            string
	Bucket             string
	MinIOEndpoint      string
	MinIOAccessKey     string
	MinIOSecretKey     string
	MinIOUseSSL        bool
	GCSCredentialsFile string
	GitDir             string
}

// New builds the backend named by opts.Backend: minio, gcs, git or memory.
func New(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "minio":
		return NewMinIOStore(ctx, opts)
	case "gcs":
		return NewGCSStore(ctx, opts)
	case "git":
		return NewGitStore(opts.GitDir)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", opts.Backend)
	}
}

// ValidatePath accepts flat object names only.
func ValidatePath(path string) error {
	switch {
	case strings.TrimSpace(path) == "":
		return ErrBadPath
	case strings.ContainsAny(path, `/\`):
		return ErrBadPath
	case strings.HasPrefix(path, "."):
		return ErrBadPath
	}
	return nil
}

// ReadAll reads a whole object, refusing anything larger than limit bytes
// when limit is positive.
func ReadAll(ctx context.Context, s Store, path string, limit int64) ([]byte, error) {
	rc, err := s.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("blob %s exceeds %d bytes", path, limit)
	}
	return data, nil
}
