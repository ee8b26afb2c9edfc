package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/embedding"
	"github.com/brand-assistant/backend/internal/embedding/embeddingtest"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/internal/vector/chromem"
)

type fakeIndex struct {
	matches []vector.Match
	err     error
	topN    int
}

func (f *fakeIndex) Upsert(context.Context, string, []vector.Record) error { return nil }
func (f *fakeIndex) DeleteSource(context.Context, string, string) error    { return nil }

func (f *fakeIndex) Query(_ context.Context, _ string, _ []float32, topN int) ([]vector.Match, error) {
	f.topN = topN
	if f.err != nil {
		return nil, f.err
	}
	out := append([]vector.Match(nil), f.matches...)
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func match(id string, score float64, text string) vector.Match {
	return vector.Match{
		Chunk: models.Chunk{ID: id, BrandID: "x", Text: text, SourceURI: id + ".md"},
		Score: score,
	}
}

func defaultConfig() Config {
	return Config{DefaultK: 4, FetchMultiplier: 2, SimilarityThreshold: 0.3, MinPassageChars: 20, MinUniqueWords: 3}
}

func TestRetrieveFiltersThresholdAndTruncates(t *testing.T) {
	ix := &fakeIndex{matches: []vector.Match{
		match("a", 0.9, "alpha passage with enough words"),
		match("b", 0.8, "bravo passage with enough words"),
		match("c", 0.7, "charlie passage with enough words"),
		match("d", 0.2, "delta passage with enough words"),
	}}
	r := NewRetriever(embeddingtest.NewVocabulary(8), ix, defaultConfig())

	got, err := r.Retrieve(context.Background(), "q", "x", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, ix.topN)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Chunk.ID)
	assert.Equal(t, "b", got[1].Chunk.ID)

	got, err = r.Retrieve(context.Background(), "q", "x", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, p := range got {
		assert.GreaterOrEqual(t, p.Score, 0.3)
	}
}

func TestRetrieveDefaultK(t *testing.T) {
	ix := &fakeIndex{}
	r := NewRetriever(embeddingtest.NewVocabulary(8), ix, defaultConfig())
	_, err := r.Retrieve(context.Background(), "q", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, 8, ix.topN)
}

func TestRetrieveEmptyIsNotAnError(t *testing.T) {
	ix := &fakeIndex{matches: []vector.Match{match("a", 0.1, "low scoring passage text here")}}
	r := NewRetriever(embeddingtest.NewVocabulary(8), ix, defaultConfig())

	got, err := r.Retrieve(context.Background(), "q", "x", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveTiesKeepIndexOrder(t *testing.T) {
	ix := &fakeIndex{matches: []vector.Match{
		match("first", 0.5, "first tied passage text body"),
		match("second", 0.5, "second tied passage text body"),
		match("top", 0.6, "top passage with more text"),
	}}
	r := NewRetriever(embeddingtest.NewVocabulary(8), ix, defaultConfig())

	got, err := r.Retrieve(context.Background(), "q", "x", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"top", "first", "second"}, []string{got[0].Chunk.ID, got[1].Chunk.ID, got[2].Chunk.ID})
}

func TestRetrieveDropsDuplicatesAndLowQuality(t *testing.T) {
	ix := &fakeIndex{matches: []vector.Match{
		match("a", 0.9, "Return policy: 30 days, unopened items."),
		match("b", 0.85, "return POLICY 30 days unopened items"),
		match("c", 0.8, "too short"),
		match("d", 0.75, "same same same same same same"),
		match("e", 0.7, "Shipping is free above fifty dollars."),
	}}
	r := NewRetriever(embeddingtest.NewVocabulary(8), ix, defaultConfig())

	got, err := r.Retrieve(context.Background(), "q", "x", 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Chunk.ID)
	assert.Equal(t, "e", got[1].Chunk.ID)
}

func TestRetrieveUnavailable(t *testing.T) {
	t.Run("embedder", func(t *testing.T) {
		emb := embeddingtest.NewVocabulary(8)
		emb.Err = fmt.Errorf("%w: 503", embedding.ErrProvider)
		r := NewRetriever(emb, &fakeIndex{}, defaultConfig())

		_, err := r.Retrieve(context.Background(), "q", "x", 3)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, embedding.ErrProvider)
	})

	t.Run("index", func(t *testing.T) {
		ix := &fakeIndex{err: vector.Unavailable("query", fmt.Errorf("connection refused"))}
		r := NewRetriever(embeddingtest.NewVocabulary(8), ix, defaultConfig())

		_, err := r.Retrieve(context.Background(), "q", "x", 3)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, vector.ErrIndexUnavailable)
	})
}

func TestRetrieveScenarioReturnPolicy(t *testing.T) {
	emb := embeddingtest.NewVocabulary(64)
	ix := chromem.New()
	ctx := context.Background()

	texts := map[string]string{
		"x": "Return policy: 30 days, unopened items.",
		"y": "Return policy: 90 days for any reason.",
	}
	for brand, text := range texts {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, ix.Upsert(ctx, brand, []vector.Record{{
			Chunk:  models.Chunk{ID: brand + "_1", BrandID: brand, Text: text, SourceURI: "policies.md"},
			Vector: vec,
		}}))
	}

	r := NewRetriever(emb, ix, defaultConfig())
	got, err := r.Retrieve(ctx, "What is your return policy?", "x", 0)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, p := range got {
		assert.Equal(t, "x", p.Chunk.BrandID)
	}
	assert.Contains(t, got[0].Chunk.Text, "30 days")
}

func TestFormatContext(t *testing.T) {
	out := FormatContext([]models.RetrievedPassage{
		{Chunk: models.Chunk{Text: " first ", SourceURI: "a.md"}},
		{Chunk: models.Chunk{Text: "second"}},
	})
	assert.Equal(t, "[1] first\n(source: a.md)\n\n[2] second", out)
	assert.Empty(t, FormatContext(nil))
}
