package evaluation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/embedding/embeddingtest"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/retrieval"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/internal/vector/chromem"
)

func seededRetriever(t *testing.T) *retrieval.Retriever {
	t.Helper()
	ctx := context.Background()
	emb := embeddingtest.NewVocabulary(128)
	index := chromem.New()

	chunks := []models.Chunk{
		{ID: "c1", BrandID: "acme", Text: "Return policy: 30 days for unopened items.", SourceURI: "returns.md"},
		{ID: "c2", BrandID: "acme", Text: "Shipping takes five business days nationwide.", SourceURI: "shipping.md"},
	}
	records := make([]vector.Record, 0, len(chunks))
	for _, c := range chunks {
		v, err := emb.Embed(ctx, c.Text)
		require.NoError(t, err)
		records = append(records, vector.Record{Chunk: c, Vector: v})
	}
	require.NoError(t, index.Upsert(ctx, "acme", records))

	return retrieval.NewRetriever(emb, index, retrieval.Config{
		DefaultK: 2, FetchMultiplier: 1, SimilarityThreshold: 0.2, MinPassageChars: 10, MinUniqueWords: 3,
	})
}

func TestRunDatasetEvaluation(t *testing.T) {
	dataset, err := LoadDataset(strings.NewReader(`{"items": [
		{"brand_id": "acme", "query": "what is the return policy", "expected_sources": ["returns.md"], "category": "policy"},
		{"brand_id": "acme", "query": "how many days does shipping take", "expected_text": "five business days", "category": "shipping"},
		{"brand_id": "acme", "query": "do you sell rockets", "expected_sources": ["rockets.md"], "category": "policy"}
	]}`))
	require.NoError(t, err)

	report, err := NewEvaluator(seededRetriever(t), 2).RunDatasetEvaluation(context.Background(), dataset)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalQueries)
	assert.Equal(t, 2, report.HitCount)
	assert.Equal(t, 1, report.EmptyCount)
	assert.InDelta(t, 2.0/3.0, report.HitRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, report.MRR, 1e-9)
	assert.Equal(t, 1, report.ByCategory["policy"].Hits)
	assert.Equal(t, 2, report.ByCategory["policy"].Total)

	text := GenerateReport(report)
	assert.Contains(t, text, "Hit Rate: 66.7%")
	assert.Contains(t, text, "- shipping: 1/1 (100.0%)")
}

type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, string, string, int) ([]models.RetrievedPassage, error) {
	return nil, errors.New("index down")
}

func TestRunDatasetEvaluationCountsFailures(t *testing.T) {
	dataset := &Dataset{Items: []DatasetItem{{BrandID: "acme", Query: "q"}}}
	report, err := NewEvaluator(failingRetriever{}, 0).RunDatasetEvaluation(context.Background(), dataset)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedQueries)
	assert.Zero(t, report.HitRate)
}

func TestLoadDatasetRequiresBrandAndQuery(t *testing.T) {
	_, err := LoadDataset(strings.NewReader(`{"items":[{"query":"x"}]}`))
	assert.ErrorContains(t, err, "brand_id")
}
