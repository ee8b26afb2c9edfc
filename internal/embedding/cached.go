package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/pkg/logger"
	"github.com/brand-assistant/backend/pkg/utils"
)

// Cache stores vectors by opaque key.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from Cache. Cache errors never fail a call;
// the inner embedder is used instead.
type CachedEmbedder struct {
	inner  Embedder
	cache  Cache
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedEmbedder(inner Embedder, cache Cache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		model:  model,
		ttl:    ttl,
		logger: logger.Named("embedding_cache"),
	}
}

func (c *CachedEmbedder) key(text string) string {
	return c.model + ":" + utils.HashString(text)
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vec)
	return vec, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := c.lookup(ctx, c.key(text)); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d, expected %d", ErrProvider, len(vecs), len(missing))
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		c.store(ctx, c.key(missing[j]), vec)
	}
	return out, nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := c.cache.GetEmbedding(ctx, key)
	if err != nil {
		c.logger.Warn("Embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return vec, true
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()
	return nil, false
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vec []float32) {
	if err := c.cache.SetEmbedding(ctx, key, vec, c.ttl); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.Error(err))
	}
}
