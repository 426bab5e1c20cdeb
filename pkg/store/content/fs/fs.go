// Package fs implements filesystem-based content storage.
//
// Resource files live under a single root directory whose layout mirrors the
// Domain tree (see content.GeneratePath).
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/marmos91/dittostash/pkg/store/content"
)

// FSContentStore implements content.ContentStore using the local filesystem.
type FSContentStore struct {
	root string
}

// NewFSContentStore creates the root directory if needed and returns a store.
//
// Parameters:
//   - ctx: Context for cancellation
//   - root: Directory that will hold resource files
//
// Returns:
//   - *FSContentStore: Initialized store
//   - error: Returns error if directory creation fails or context is cancelled
func NewFSContentStore(ctx context.Context, root string) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	return &FSContentStore{root: abs}, nil
}

// Root implements content.ContentStore.
func (s *FSContentStore) Root() string {
	return s.root
}

// Stat implements content.ContentStore.
func (s *FSContentStore) Stat(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%s: %w", path, content.ErrContentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s: %w", path, content.ErrNotRegularFile)
	}
	return info.Size(), nil
}

// Adopt implements content.ContentStore.
func (s *FSContentStore) Adopt(ctx context.Context, staged, dest string) error {
	// ========================================================================
	// Step 1: Validate
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Contains(dest) {
		return fmt.Errorf("%s: %w", dest, content.ErrOutsideRoot)
	}
	if s.Contains(staged) {
		return fmt.Errorf("%s: %w", staged, content.ErrInsideRoot)
	}
	if _, err := s.Stat(ctx, staged); err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Rename into place
	// ========================================================================

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}

	err := os.Rename(staged, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s to %s: %w", staged, dest, err)
	}

	// ========================================================================
	// Step 3: Cross-device fallback (copy to sibling temp, then rename)
	// ========================================================================

	if err := copyInto(ctx, staged, dest); err != nil {
		return err
	}
	if err := os.Remove(staged); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("adopted %s but failed to remove staged file: %w", dest, err)
	}
	return nil
}

// copyInto copies src to a temp file next to dest and renames it over dest.
func copyInto(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open staged file: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), content.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		cleanup()
		return fmt.Errorf("failed to copy staged file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename into %s: %w", dest, err)
	}
	return nil
}

// Remove implements content.ContentStore.
func (s *FSContentStore) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Contains(path) {
		return fmt.Errorf("%s: %w", path, content.ErrOutsideRoot)
	}

	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, content.ErrContentNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	s.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

// pruneEmptyDirs removes empty directories from dir up to, but excluding, root.
// os.Remove refuses non-empty directories, which stops the walk.
func (s *FSContentStore) pruneEmptyDirs(dir string) {
	for s.Contains(dir) && dir != s.root {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Walk implements content.ContentStore.
func (s *FSContentStore) Walk(ctx context.Context, fn content.WalkFunc) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		return fn(path, info.Size())
	})
}

// Contains implements content.ContentStore.
func (s *FSContentStore) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ctxReader aborts a copy when the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
