// Package local writes report artifacts to a directory on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore writes report files beneath one directory. Object paths cannot escape it.
type BlobStore struct {
	dir  string
	root *os.Root
}

// New opens dir as a blob store, creating it when missing.
func New(dir string) (*BlobStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open output directory: %w", err)
	}
	return &BlobStore{dir: abs, root: root}, nil
}

// PutObject streams data to path and returns its file:// URI. The file appears only once fully written.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, data io.Reader) (string, error) {
	name := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	partial := name + ".partial"
	f, err := s.root.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = s.root.Remove(partial)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(partial)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := s.root.Rename(partial, name); err != nil {
		return "", fmt.Errorf("commit %s: %w", path, err)
	}
	return "file://" + filepath.Join(s.dir, name), nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	return s.root.Close()
}
