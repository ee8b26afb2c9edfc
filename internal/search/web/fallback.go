package web

import (
	"context"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/pkg/logger"
	"github.com/brand-assistant/backend/pkg/utils"
)

type Status string

const (
	StatusOK            Status = "ok"
	StatusNoData        Status = "no_data"
	StatusProviderError Status = "provider_error"
	StatusDisabled      Status = "disabled"
)

// Outcome separates "nothing found" from "search failed". Callers proceed
// without web input in every case but StatusOK.
type Outcome struct {
	Status Status
	Hits   []Hit
	Err    error
}

// Passages turns hits into synthetic passages for the prompt.
func (o Outcome) Passages(brandID string) []models.RetrievedPassage {
	out := make([]models.RetrievedPassage, 0, len(o.Hits))
	for _, h := range o.Hits {
		text := h.Snippet
		if h.Title != "" {
			text = h.Title + ": " + h.Snippet
		}
		out = append(out, models.RetrievedPassage{
			Chunk: models.Chunk{
				ID:        "web_" + utils.HashParts(h.SourceURL, text),
				BrandID:   brandID,
				Text:      text,
				SourceURI: h.SourceURL,
			},
			Synthetic: true,
		})
	}
	return out
}

// Fallback wraps a Searcher so failures never escape. A nil searcher disables it.
type Fallback struct {
	searcher Searcher
	log      *zap.Logger
}

func NewFallback(searcher Searcher) *Fallback {
	return &Fallback{searcher: searcher, log: logger.Named("websearch")}
}

func (f *Fallback) Lookup(ctx context.Context, query string) Outcome {
	out := f.lookup(ctx, query)
	metrics.WebSearchTriggered.WithLabelValues(string(out.Status)).Inc()
	return out
}

func (f *Fallback) lookup(ctx context.Context, query string) Outcome {
	if f == nil || f.searcher == nil {
		return Outcome{Status: StatusDisabled}
	}

	hits, err := f.searcher.Search(ctx, query)
	if err != nil {
		f.log.Warn("Web search failed", zap.String("query", query), zap.Error(err))
		return Outcome{Status: StatusProviderError, Err: err}
	}
	if len(hits) == 0 {
		return Outcome{Status: StatusNoData}
	}
	return Outcome{Status: StatusOK, Hits: hits}
}
