// Package vectorstore indexes chunk embeddings and serves similarity
// queries over them, per spec.md §4.5.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"

	"github.com/archreview/archreview/internal/domain"
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the store's configured embedding dimension.
var ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")

// ErrMissingVector is returned when an entry carries no vector at all.
var ErrMissingVector = errors.New("vectorstore: vector is empty")

// ErrVerificationFailed is returned when a post-index verification sample
// fails the chunk_index/total_chunks sanity check.
var ErrVerificationFailed = errors.New("vectorstore: post-index verification failed")

// ErrIndexingStalled is returned when fail_on_indexing_failure is set and a
// batch's point count did not increase after indexing.
var ErrIndexingStalled = errors.New("vectorstore: indexing did not increase point count")

// Store indexes and queries chunk vectors. Implementations own tenancy
// (shared vs. per-project collections) internally.
type Store interface {
	Index(ctx context.Context, projectID string, entry domain.VectorEntry) error
	IndexBatch(ctx context.Context, projectID string, entries []domain.VectorEntry) error
	Query(ctx context.Context, projectID string, vector []float32, topK int) ([]domain.VectorQueryResult, error)
	Delete(ctx context.Context, projectID, chunkHash string) error
	DeleteByProject(ctx context.Context, projectID string) error
	Count(ctx context.Context, projectID string) (int64, error)
	Close() error
}

// pointID stabilizes chunk_hash -> point id by hashing the chunk hash and
// folding the first 16 bytes of the digest into a 128-bit identifier, so
// repeated indexing of the same chunk overwrites the same point rather than
// duplicating it.
func pointID(chunkHash string) (hi, lo uint64) {
	sum := sha256.Sum256([]byte(chunkHash))
	hi = binary.BigEndian.Uint64(sum[0:8])
	lo = binary.BigEndian.Uint64(sum[8:16])

	return hi, lo
}

// normalize returns a unit-normalized copy of v. A zero-length vector is
// returned unchanged; a vector with no error is assumed non-zero (the
// embedder contract guarantees a real embedding never collapses to the
// zero vector).
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}

	if sumSquares == 0 {
		return v
	}

	norm := math.Sqrt(sumSquares)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}

	return out
}

func validateEntry(entry domain.VectorEntry, dimension int) error {
	if len(entry.Vector) == 0 {
		return ErrMissingVector
	}

	if dimension > 0 && len(entry.Vector) != dimension {
		return ErrDimensionMismatch
	}

	return nil
}
