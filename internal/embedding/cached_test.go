package embedding_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/embedding"
	"github.com/brand-assistant/backend/internal/embedding/embeddingtest"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	failGet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]float32)}
}

func (m *memoryCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryCache) SetEmbedding(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = vec
	return nil
}

func TestCachedEmbedderServesRepeatsFromCache(t *testing.T) {
	inner := embeddingtest.NewVocabulary(32)
	cache := newMemoryCache()
	e := embedding.NewCachedEmbedder(inner, cache, "test-model", time.Hour)
	ctx := context.Background()

	first, err := e.Embed(ctx, "return policy")
	require.NoError(t, err)
	second, err := e.Embed(ctx, "return policy")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls)
}

func TestCachedEmbedderBatchOnlyEmbedsMisses(t *testing.T) {
	inner := embeddingtest.NewVocabulary(32)
	cache := newMemoryCache()
	e := embedding.NewCachedEmbedder(inner, cache, "test-model", time.Hour)
	ctx := context.Background()

	_, err := e.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.NotNil(t, v)
	}
	assert.Len(t, cache.entries, 3)
	assert.Equal(t, 2, inner.Calls)
}

func TestCachedEmbedderFallsThroughOnCacheError(t *testing.T) {
	inner := embeddingtest.NewVocabulary(32)
	cache := newMemoryCache()
	cache.failGet = true
	e := embedding.NewCachedEmbedder(inner, cache, "test-model", time.Hour)

	vec, err := e.Embed(context.Background(), "shipping")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
}

func TestCachedEmbedderPropagatesProviderError(t *testing.T) {
	inner := embeddingtest.NewVocabulary(32)
	inner.Err = embedding.ErrProvider
	e := embedding.NewCachedEmbedder(inner, newMemoryCache(), "test-model", time.Hour)

	_, err := e.Embed(context.Background(), "anything")
	assert.ErrorIs(t, err, embedding.ErrProvider)
}

type countEmbedder struct {
	extra int
}

func (e countEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (e countEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := len(texts) + e.extra
	if n < 0 {
		n = 0
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestCachedEmbedderRejectsBatchCountMismatch(t *testing.T) {
	for _, extra := range []int{-1, 1} {
		cache := newMemoryCache()
		e := embedding.NewCachedEmbedder(countEmbedder{extra: extra}, cache, "test-model", time.Hour)

		vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
		assert.ErrorIs(t, err, embedding.ErrProvider, "extra=%d", extra)
		assert.Nil(t, vecs)
		assert.Empty(t, cache.entries)
	}
}
