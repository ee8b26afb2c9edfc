// Package retrieval turns a user question into ranked, brand-scoped passages.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/embedding"
	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/pkg/config"
	"github.com/brand-assistant/backend/pkg/logger"
	"github.com/brand-assistant/backend/pkg/utils"
)

// ErrUnavailable means the embedder or the index could not be reached. It is
// distinct from an empty result, which means nothing cleared the threshold.
var ErrUnavailable = errors.New("retrieval unavailable")

type Config struct {
	DefaultK            int
	FetchMultiplier     int
	SimilarityThreshold float64
	MinPassageChars     int
	MinUniqueWords      int
	DedupePrefixChars   int
}

func ConfigFrom(c config.RAGConfig) Config {
	return Config{
		DefaultK:            c.DefaultK,
		FetchMultiplier:     c.FetchMultiplier,
		SimilarityThreshold: c.SimilarityThreshold,
		MinPassageChars:     c.MinPassageChars,
		MinUniqueWords:      c.MinUniqueWords,
		DedupePrefixChars:   c.DedupePrefixChars,
	}
}

type Retriever struct {
	embedder embedding.Embedder
	index    vector.Index
	cfg      Config
	log      *zap.Logger
}

func NewRetriever(embedder embedding.Embedder, index vector.Index, cfg Config) *Retriever {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 4
	}
	if cfg.FetchMultiplier <= 0 {
		cfg.FetchMultiplier = 1
	}
	if cfg.DedupePrefixChars <= 0 {
		cfg.DedupePrefixChars = 100
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		log:      logger.Named("retrieval"),
	}
}

func (r *Retriever) Threshold() float64 {
	return r.cfg.SimilarityThreshold
}

// Retrieve returns at most k passages of brandID, each scoring at least the
// similarity threshold, best first. k <= 0 selects the configured default.
func (r *Retriever) Retrieve(ctx context.Context, query, brandID string, k int) ([]models.RetrievedPassage, error) {
	if k <= 0 {
		k = r.cfg.DefaultK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues(brandID).Inc()
		return nil, fmt.Errorf("%w: embed query: %w", ErrUnavailable, err)
	}

	matches, err := r.index.Query(ctx, brandID, vec, k*r.cfg.FetchMultiplier)
	if err != nil {
		if errors.Is(err, vector.ErrInvalidBrand) {
			return nil, err
		}
		metrics.RetrievalFailures.WithLabelValues(brandID).Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	vector.SortMatches(matches)

	passages := make([]models.RetrievedPassage, 0, k)
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if len(passages) == k {
			break
		}
		if m.Score < r.cfg.SimilarityThreshold {
			// sorted, nothing further can pass
			break
		}
		if m.Chunk.BrandID != brandID {
			r.log.Error("Index returned a chunk of another brand",
				zap.String("brand_id", brandID),
				zap.String("chunk_brand_id", m.Chunk.BrandID),
				zap.String("chunk_id", m.Chunk.ID),
			)
			continue
		}
		if !r.goodQuality(m.Chunk.Text) {
			continue
		}
		key := contentKey(m.Chunk.Text, r.cfg.DedupePrefixChars)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		passages = append(passages, models.RetrievedPassage{Chunk: m.Chunk, Score: m.Score})
	}

	metrics.RetrievalResults.WithLabelValues(brandID).Observe(float64(len(passages)))
	if len(passages) > 0 {
		metrics.TopSimilarity.Observe(passages[0].Score)
	}

	r.log.Debug("Retrieved passages",
		zap.String("brand_id", brandID),
		zap.Int("candidates", len(matches)),
		zap.Int("passages", len(passages)),
	)
	return passages, nil
}

func (r *Retriever) goodQuality(text string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < r.cfg.MinPassageChars {
		return false
	}
	if r.cfg.MinUniqueWords <= 0 {
		return true
	}
	unique := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		unique[w] = struct{}{}
	}
	return len(unique) >= r.cfg.MinUniqueWords
}

// contentKey normalises case, punctuation and spacing, then keeps a prefix, so
// near-identical chunks from different sources collapse.
func contentKey(text string, n int) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space && b.Len() > 0:
			b.WriteByte(' ')
			space = true
		}
	}
	return utils.Truncate(strings.TrimSpace(b.String()), n)
}

// FormatContext renders passages as a numbered list with their sources.
func FormatContext(passages []models.RetrievedPassage) string {
	if len(passages) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, p := range passages {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		fmt.Fprintf(&builder, "[%d] %s", i+1, strings.TrimSpace(p.Chunk.Text))
		if p.Chunk.SourceURI != "" {
			fmt.Fprintf(&builder, "\n(source: %s)", p.Chunk.SourceURI)
		}
	}
	return builder.String()
}
