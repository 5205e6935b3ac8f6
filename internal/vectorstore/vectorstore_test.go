package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/vectorstore"
)

func entry(hash string, vec []float32, chunkIndex, totalChunks int) domain.VectorEntry {
	return domain.VectorEntry{
		ChunkHash: hash,
		Vector:    vec,
		Payload: domain.VectorPayload{
			ProjectID:    "proj-1",
			FilePath:     "a.go",
			SemanticType: domain.SemanticTypeMethod,
			SemanticName: "Foo",
			ChunkIndex:   chunkIndex,
			TotalChunks:  totalChunks,
			ChunkHash:    hash,
		},
	}
}

func TestMemoryStore_IndexAndQuery_ReturnsClosestFirst(t *testing.T) {
	t.Parallel()

	s := vectorstore.NewMemoryStore(false, 1, 3)

	require.NoError(t, s.IndexBatch(context.Background(), "proj-1", []domain.VectorEntry{
		entry("h1", []float32{1, 0, 0}, 0, 1),
		entry("h2", []float32{0, 1, 0}, 0, 1),
	}))

	results, err := s.Query(context.Background(), "proj-1", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "h1", results[0].ChunkHash)
}

func TestMemoryStore_IndexBatch_RejectsWrongDimension(t *testing.T) {
	t.Parallel()

	s := vectorstore.NewMemoryStore(false, 1, 3)

	err := s.IndexBatch(context.Background(), "proj-1", []domain.VectorEntry{
		entry("h1", []float32{1, 0}, 0, 1),
	})
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestMemoryStore_IndexBatch_RejectsEmptyVector(t *testing.T) {
	t.Parallel()

	s := vectorstore.NewMemoryStore(false, 1, 3)

	err := s.IndexBatch(context.Background(), "proj-1", []domain.VectorEntry{
		entry("h1", nil, 0, 1),
	})
	require.ErrorIs(t, err, vectorstore.ErrMissingVector)
}

func TestMemoryStore_IndexBatch_VerifiesChunkIndexInvariant(t *testing.T) {
	t.Parallel()

	s := vectorstore.NewMemoryStore(false, 1, 3)

	err := s.IndexBatch(context.Background(), "proj-1", []domain.VectorEntry{
		entry("h1", []float32{1, 0, 0}, 5, 1),
	})
	require.ErrorIs(t, err, vectorstore.ErrVerificationFailed)
}

func TestMemoryStore_DeleteByProject_RemovesAllVectors(t *testing.T) {
	t.Parallel()

	s := vectorstore.NewMemoryStore(false, 1, 3)

	require.NoError(t, s.IndexBatch(context.Background(), "proj-1", []domain.VectorEntry{
		entry("h1", []float32{1, 0, 0}, 0, 1),
	}))

	count, err := s.Count(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, s.DeleteByProject(context.Background(), "proj-1"))

	count, err = s.Count(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestMemoryStore_Delete_RemovesSingleChunk(t *testing.T) {
	t.Parallel()

	s := vectorstore.NewMemoryStore(false, 1, 3)

	require.NoError(t, s.IndexBatch(context.Background(), "proj-1", []domain.VectorEntry{
		entry("h1", []float32{1, 0, 0}, 0, 1),
		entry("h2", []float32{0, 1, 0}, 0, 1),
	}))

	require.NoError(t, s.Delete(context.Background(), "proj-1", "h1"))

	count, err := s.Count(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMemoryStore_Query_TopKLimitsResults(t *testing.T) {
	t.Parallel()

	s := vectorstore.NewMemoryStore(false, 1, 3)

	require.NoError(t, s.IndexBatch(context.Background(), "proj-1", []domain.VectorEntry{
		entry("h1", []float32{1, 0, 0}, 0, 1),
		entry("h2", []float32{0, 1, 0}, 0, 1),
		entry("h3", []float32{0, 0, 1}, 0, 1),
	}))

	results, err := s.Query(context.Background(), "proj-1", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
