package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitStore archives every uploaded file as a commit in a single local
// repository on branch main. Reads come from the HEAD tree, so an object
// becomes visible only once its commit lands.
type GitStore struct {
	dir  string
	mu   sync.Mutex
	repo *git.Repository
}

func NewGitStore(dir string) (*GitStore, error) {
	if dir == "" {
		return nil, errors.New("git blob dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("init repo: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return nil, fmt.Errorf("set HEAD to main: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return &GitStore{dir: dir, repo: repo}, nil
}

func (s *GitStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	full := filepath.Join(s.dir, path)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return fmt.Errorf("close %s: %w", path, err)
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		_ = os.Remove(full)
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Add(path); err != nil {
		_ = os.Remove(full)
		return fmt.Errorf("git add %s: %w", path, err)
	}
	if _, err := worktree.Commit("Archive "+path, &git.CommitOptions{Author: signature()}); err != nil {
		_, _ = worktree.Remove(path)
		_ = os.Remove(full)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

func (s *GitStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	commitObj, err := s.head()
	if err != nil {
		return nil, err
	}
	file, err := commitObj.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s from HEAD: %w", path, err)
	}
	return file.Reader()
}

// Delete records the removal as its own commit; earlier revisions stay in
// history.
func (s *GitStore) Delete(ctx context.Context, path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	full := filepath.Join(s.dir, path)
	if _, err := os.Stat(full); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	commitObj, err := s.head()
	if errors.Is(err, ErrNotFound) {
		return os.Remove(full)
	}
	if err != nil {
		return err
	}
	if _, err := commitObj.File(path); errors.Is(err, object.ErrFileNotFound) {
		return os.Remove(full)
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Remove(path); err != nil {
		return fmt.Errorf("git rm %s: %w", path, err)
	}
	if _, err := worktree.Commit("Remove "+path, &git.CommitOptions{Author: signature()}); err != nil {
		return fmt.Errorf("commit removal of %s: %w", path, err)
	}
	return nil
}

// History lists the commits that touched path, newest first.
func (s *GitStore) History(path string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.head(); err != nil {
		return nil, err
	}
	iter, err := s.repo.Log(&git.LogOptions{FileName: &path})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var hashes []string
	err = iter.ForEach(func(c *object.Commit) error {
		hashes = append(hashes, c.Hash.String())
		if limit > 0 && len(hashes) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return hashes, nil
}

func (s *GitStore) head() (*object.Commit, error) {
	ref, err := s.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func signature() *object.Signature {
	return &object.Signature{
		Name:  "EurobanSync",
		Email: "archive@eurobansync.local",
		When:  time.Now(),
	}
}
