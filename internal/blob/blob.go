// Package blob defines the storage-pointer contract the Job Runner uses
// to resolve a project's archive and to clean up on Delete
// (SPEC_FULL.md §10.6). Concrete bindings live in subpackages (fs for
// local filesystem storage); production deployments supply their own.
package blob

import (
	"context"
	"io"
)

// Store is the narrow blob storage contract: put/get a single object by
// key, and delete every object under a prefix (used by the Job Runner's
// Delete operation to remove a project's blob storage prefix).
type Store interface {
	// Put writes the contents of r to key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens key for reading. The caller must close the returned
	// reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a single object.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
