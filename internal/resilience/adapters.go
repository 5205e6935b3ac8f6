package resilience

import (
	"context"
	"time"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/llm"
	"github.com/archreview/archreview/internal/vectorstore"
)

// defaultVectorStoreTimeout bounds a single vector store call when the
// caller's config has no dedicated timeout for it (spec.md §4.14 names a
// timeout for embeddings and chat completion only).
const defaultVectorStoreTimeout = 30 * time.Second

func embeddingTimeout(cfg config.ResilienceConfig) time.Duration {
	if cfg.EmbeddingTimeoutSeconds <= 0 {
		return 120 * time.Second
	}

	return time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second
}

func chatTimeout(cfg config.ResilienceConfig) time.Duration {
	if cfg.ChatTimeoutSeconds <= 0 {
		return 180 * time.Second
	}

	return time.Duration(cfg.ChatTimeoutSeconds) * time.Second
}

// ResilientEmbedder wraps an llm.Embedder with backoff, a circuit
// breaker, and a per-call timeout (spec.md §4.14).
type ResilientEmbedder struct {
	inner    llm.Embedder
	executor *Executor
	timeout  time.Duration
}

var _ llm.Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps inner using cfg's retry/backoff/breaker/
// timeout knobs.
func NewResilientEmbedder(inner llm.Embedder, cfg config.ResilienceConfig) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, executor: New(cfg), timeout: embeddingTimeout(cfg)}
}

// Embed calls the wrapped embedder through the resilience executor.
func (r *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32

	err := r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		vectors, err := r.inner.Embed(callCtx, texts)
		out = vectors

		return err
	})

	return out, err
}

// Dimension delegates to the wrapped embedder; it carries no I/O to
// retry.
func (r *ResilientEmbedder) Dimension() int {
	return r.inner.Dimension()
}

// ResilientChatCompleter wraps an llm.ChatCompleter with backoff, a
// circuit breaker, and a per-call timeout (spec.md §4.14).
type ResilientChatCompleter struct {
	inner    llm.ChatCompleter
	executor *Executor
	timeout  time.Duration
}

var _ llm.ChatCompleter = (*ResilientChatCompleter)(nil)

// NewResilientChatCompleter wraps inner using cfg's retry/backoff/
// breaker/timeout knobs.
func NewResilientChatCompleter(inner llm.ChatCompleter, cfg config.ResilienceConfig) *ResilientChatCompleter {
	return &ResilientChatCompleter{inner: inner, executor: New(cfg), timeout: chatTimeout(cfg)}
}

// Complete calls the wrapped chat completer through the resilience
// executor.
func (r *ResilientChatCompleter) Complete(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	var out string

	err := r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		response, err := r.inner.Complete(callCtx, messages)
		out = response

		return err
	})

	return out, err
}

// ResilientVectorStore wraps a vectorstore.Store with backoff, a circuit
// breaker, and a per-call timeout, for the write/read paths the Job
// Runner exercises directly (spec.md §4.14 names the vector store among
// the wrapped outbound calls).
type ResilientVectorStore struct {
	inner    vectorstore.Store
	executor *Executor
	timeout  time.Duration
}

var _ vectorstore.Store = (*ResilientVectorStore)(nil)

// NewResilientVectorStore wraps inner using cfg's retry/backoff/breaker
// knobs and a fixed default per-call timeout.
func NewResilientVectorStore(inner vectorstore.Store, cfg config.ResilienceConfig) *ResilientVectorStore {
	return &ResilientVectorStore{inner: inner, executor: New(cfg), timeout: defaultVectorStoreTimeout}
}

// Index calls the wrapped store's Index through the resilience executor.
func (r *ResilientVectorStore) Index(ctx context.Context, projectID string, entry domain.VectorEntry) error {
	return r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		return r.inner.Index(callCtx, projectID, entry)
	})
}

// IndexBatch calls the wrapped store's IndexBatch through the resilience
// executor.
func (r *ResilientVectorStore) IndexBatch(ctx context.Context, projectID string, entries []domain.VectorEntry) error {
	return r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		return r.inner.IndexBatch(callCtx, projectID, entries)
	})
}

// Query calls the wrapped store's Query through the resilience executor.
func (r *ResilientVectorStore) Query(ctx context.Context, projectID string, vector []float32, topK int) ([]domain.VectorQueryResult, error) {
	var out []domain.VectorQueryResult

	err := r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		results, err := r.inner.Query(callCtx, projectID, vector, topK)
		out = results

		return err
	})

	return out, err
}

// Delete calls the wrapped store's Delete through the resilience
// executor.
func (r *ResilientVectorStore) Delete(ctx context.Context, projectID, chunkHash string) error {
	return r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		return r.inner.Delete(callCtx, projectID, chunkHash)
	})
}

// DeleteByProject calls the wrapped store's DeleteByProject through the
// resilience executor.
func (r *ResilientVectorStore) DeleteByProject(ctx context.Context, projectID string) error {
	return r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		return r.inner.DeleteByProject(callCtx, projectID)
	})
}

// Count calls the wrapped store's Count through the resilience executor.
func (r *ResilientVectorStore) Count(ctx context.Context, projectID string) (int64, error) {
	var out int64

	err := r.executor.Do(ctx, r.timeout, func(callCtx context.Context) error {
		count, err := r.inner.Count(callCtx, projectID)
		out = count

		return err
	})

	return out, err
}

// Close delegates to the wrapped store; it carries no outbound call to
// retry.
func (r *ResilientVectorStore) Close() error {
	return r.inner.Close()
}
