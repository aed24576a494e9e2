package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatcherConfig bounds how the Batcher fans work out to the provider.
type BatcherConfig struct {
	// MaxBatch is the largest sub-batch handed to the provider.
	// Defaults to 32.
	MaxBatch int
	// Workers bounds concurrent provider calls. Defaults to 1.
	Workers int
	// RatePerSecond throttles provider calls. 0 disables throttling.
	RatePerSecond float64
}

// Batcher splits large document batches into bounded sub-batches and
// embeds them concurrently, reassembling results in input order.
// Behavior is identical for one text and for thousands.
type Batcher struct {
	provider Provider
	maxBatch int
	workers  int
	limiter  *rate.Limiter
}

// NewBatcher wraps provider with batching. The Batcher owns the
// provider's lifecycle: Close closes the underlying provider.
func NewBatcher(provider Provider, cfg BatcherConfig) *Batcher {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 32
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Batcher{
		provider: provider,
		maxBatch: maxBatch,
		workers:  workers,
		limiter:  limiter,
	}
}

// EmbedDocuments embeds texts, preserving order: result[i] embeds
// texts[i]. The first sub-batch error cancels the remaining work.
func (b *Batcher) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for start := 0; start < len(texts); start += b.maxBatch {
		end := start + b.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			if b.limiter != nil {
				if err := b.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			vecs, err := b.provider.EmbedDocuments(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch [%d:%d]: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("batch [%d:%d]: provider returned %d vectors", start, end, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EmbedQuery embeds a single query through the rate limiter.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return b.provider.EmbedQuery(ctx, text)
}

// Dimension reports the wrapped provider's dimension.
func (b *Batcher) Dimension() int { return b.provider.Dimension() }

// Close closes the wrapped provider.
func (b *Batcher) Close() error { return b.provider.Close() }
