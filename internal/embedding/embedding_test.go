package embedding_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/embedding"
	"github.com/archreview/archreview/internal/tokenizer"
)

type fakeEmbedder struct {
	dimension int
	calls     int32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dimension)
	}

	return out, nil
}

func (f *fakeEmbedder) Dimension() int {
	return f.dimension
}

func TestClient_EmbedBatched_SplitsIntoGroups(t *testing.T) {
	t.Parallel()

	fe := &fakeEmbedder{dimension: 4}
	cfg := config.EmbeddingConfig{Concurrency: 2, TokensPerMinute: 1_000_000, BatchSize: 2}
	c := embedding.New(fe, tokenizer.NewHeuristicCounter(), cfg, nil, nil)

	texts := []string{"a", "b", "c", "d", "e"}

	var progressCalls int

	vectors, err := c.EmbedBatched(context.Background(), texts, func(done, total int) {
		progressCalls++
		assert.LessOrEqual(t, done, total)
	})
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, 3, progressCalls) // groups of 2,2,1
	assert.EqualValues(t, 3, fe.calls)
}

func TestClient_EmbedBatched_EmptyInput(t *testing.T) {
	t.Parallel()

	fe := &fakeEmbedder{dimension: 4}
	cfg := config.EmbeddingConfig{Concurrency: 1, TokensPerMinute: 1000, BatchSize: 4}
	c := embedding.New(fe, tokenizer.NewHeuristicCounter(), cfg, nil, nil)

	vectors, err := c.EmbedBatched(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestClient_EmbedBatched_RespectsVectorDimension(t *testing.T) {
	t.Parallel()

	fe := &fakeEmbedder{dimension: 1536}
	cfg := config.EmbeddingConfig{Concurrency: 4, TokensPerMinute: 1_000_000, BatchSize: 16}
	c := embedding.New(fe, tokenizer.NewHeuristicCounter(), cfg, nil, nil)

	vectors, err := c.EmbedBatched(context.Background(), []string{"hello world"}, nil)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Len(t, vectors[0], 1536)
}
