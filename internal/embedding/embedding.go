// Package embedding wraps an llm.Embedder with concurrency gating and
// token-rate limiting, per spec.md §4.4.
package embedding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/llm"
	"github.com/archreview/archreview/internal/observability"
	"github.com/archreview/archreview/internal/tokenizer"
)

// acquireTimeout bounds how long a caller waits for a concurrency slot
// before proceeding anyway (spec.md §4.4 step 1).
const acquireTimeout = 2 * time.Minute

// periodWaitStep and maxPeriodWaits bound how long a caller waits for the
// token-rate window to reset before proceeding anyway (spec.md §4.4 step
// 2).
const periodWaitStep = 1 * time.Second

const maxPeriodWaits = 120

// Client wraps an llm.Embedder with the two controls spec.md §4.4
// describes: a counted concurrency semaphore and a sliding per-minute
// token-rate window.
type Client struct {
	embedder llm.Embedder
	tok      tokenizer.Counter
	cfg      config.EmbeddingConfig
	logger   *slog.Logger
	metrics  *observability.PipelineMetrics

	sem chan struct{}

	mu                sync.Mutex
	periodStart       time.Time
	tokensThisPeriod  int
}

// New builds an embedding Client. metrics may be nil; every
// PipelineMetrics method is a safe no-op on a nil receiver.
func New(embedder llm.Embedder, tok tokenizer.Counter, cfg config.EmbeddingConfig, logger *slog.Logger, metrics *observability.PipelineMetrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Client{
		embedder:    embedder,
		tok:         tok,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		sem:         make(chan struct{}, concurrency),
		periodStart: time.Time{},
	}
}

// EmbedBatched splits texts into groups of embedding_batch_size, embeds
// each group in order, and reports progress via onProgress after each
// group (onProgress may be nil).
func (c *Client) EmbedBatched(ctx context.Context, texts []string, onProgress func(done, total int)) ([][]float32, error) {
	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		group := texts[start:end]

		vectors, err := c.embedOne(ctx, group)
		if err != nil {
			return nil, err
		}

		out = append(out, vectors...)

		if onProgress != nil {
			onProgress(end, len(texts))
		}
	}

	return out, nil
}

// embedOne applies the concurrency gate and token-rate limit around a
// single call to the underlying embedder.
func (c *Client) embedOne(ctx context.Context, texts []string) ([][]float32, error) {
	c.acquire(ctx)
	defer c.release()

	estimated := 0
	for _, t := range texts {
		estimated += c.tok.Count(t).Count
	}

	c.reserveTokens(estimated)
	c.metrics.RecordTokensReserved(ctx, int64(estimated))

	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	dim := c.embedder.Dimension()
	for _, v := range vectors {
		if dim > 0 && len(v) != dim {
			c.logger.Warn("embedding dimension mismatch", "got", len(v), "want", dim)
		}
	}

	return vectors, nil
}

// acquire blocks for a concurrency slot up to acquireTimeout, then
// proceeds regardless so a starved caller never deadlocks the pipeline.
func (c *Client) acquire(ctx context.Context) {
	timer := time.NewTimer(acquireTimeout)
	defer timer.Stop()

	select {
	case c.sem <- struct{}{}:
	case <-timer.C:
		c.logger.Warn("embedding concurrency gate acquire timed out, proceeding without a slot")
	case <-ctx.Done():
	}
}

func (c *Client) release() {
	select {
	case <-c.sem:
	default:
	}
}

// reserveTokens reserves estimated tokens against the current per-minute
// window, waiting (in periodWaitStep increments, up to maxPeriodWaits) for
// the window to reset if reserving now would exceed the configured rate.
func (c *Client) reserveTokens(estimated int) {
	waits := 0

	for {
		c.mu.Lock()

		now := time.Now()
		if now.Sub(c.periodStart) >= time.Minute {
			c.periodStart = now
			c.tokensThisPeriod = 0
		}

		fits := c.tokensThisPeriod+estimated <= c.cfg.TokensPerMinute
		periodExhausted := waits >= maxPeriodWaits

		if fits || periodExhausted {
			c.tokensThisPeriod += estimated
			c.mu.Unlock()

			return
		}

		c.mu.Unlock()

		waits++

		time.Sleep(periodWaitStep)
	}
}
