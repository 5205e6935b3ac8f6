// Package fs implements blob.Store over the local filesystem, for
// development and tests (SPEC_FULL.md §10.6). Production deployments are
// expected to supply an object-storage-backed implementation of the same
// interface.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/archreview/archreview/internal/blob"
)

// Store roots all blob keys under a base directory on disk.
type Store struct {
	root string
}

var _ blob.Store = (*Store)(nil)

// New builds a Store rooted at root, creating it if necessary.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob/fs: create root: %w", err)
	}

	return &Store{root: root}, nil
}

// resolve maps a key to an on-disk path, refusing any key whose cleaned
// form would escape root.
func (s *Store) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	path := filepath.Join(s.root, cleaned)

	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) && path != filepath.Clean(s.root) {
		return "", fmt.Errorf("blob/fs: key %q escapes store root", key)
	}

	return path, nil
}

// Put writes r to key, creating parent directories as needed.
func (s *Store) Put(_ context.Context, key string, r io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blob/fs: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("blob/fs: create: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("blob/fs: write: %w", err)
	}

	return nil
}

// Get opens key for reading.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blob/fs: open: %w", err)
	}

	return f, nil
}

// Delete removes a single object. Deleting a key that does not exist is
// not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob/fs: delete: %w", err)
	}

	return nil
}

// DeletePrefix removes every object whose key starts with prefix.
func (s *Store) DeletePrefix(_ context.Context, prefix string) error {
	path, err := s.resolve(prefix)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("blob/fs: delete prefix: %w", err)
	}

	return pruneEmptyParents(s.root, filepath.Dir(path))
}

// pruneEmptyParents removes now-empty directories up to (but not
// including) root, keeping the store tidy after a prefix delete.
func pruneEmptyParents(root, dir string) error {
	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return fmt.Errorf("blob/fs: read dir: %w", err)
		}

		if len(entries) > 0 {
			return nil
		}

		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("blob/fs: prune dir: %w", err)
		}

		dir = filepath.Dir(dir)
	}

	return nil
}
