// Package evaluation measures retrieval quality against a labelled dataset.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/pkg/logger"
)

type Retriever interface {
	Retrieve(ctx context.Context, query, brandID string, k int) ([]models.RetrievedPassage, error)
}

type Evaluator struct {
	retriever Retriever
	k         int
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem is one labelled query. A passage is relevant when its source is in
// ExpectedSources or its text contains ExpectedText, case-insensitively.
type DatasetItem struct {
	BrandID         string   `json:"brand_id"`
	Query           string   `json:"query"`
	ExpectedSources []string `json:"expected_sources"`
	ExpectedText    string   `json:"expected_text"`
	Category        string   `json:"category"`
}

type ItemResult struct {
	Query    string
	BrandID  string
	Category string
	// Rank is the 1-based position of the first relevant passage, 0 on a miss.
	Rank     int
	Passages int
	TopScore float64
	Err      error
}

type CategoryStats struct {
	Total   int
	Hits    int
	HitRate float64
}

type EvaluationReport struct {
	TotalQueries    int
	FailedQueries   int
	HitCount        int
	EmptyCount      int
	HitRate         float64
	MRR             float64
	AvgTopScore     float64
	EmptyPercentage float64
	ByCategory      map[string]*CategoryStats
	Items           []ItemResult
}

func NewEvaluator(retriever Retriever, k int) *Evaluator {
	if k <= 0 {
		k = 4
	}
	return &Evaluator{
		retriever: retriever,
		k:         k,
	}
}

func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) ItemResult {
	res := ItemResult{Query: item.Query, BrandID: item.BrandID, Category: item.Category}

	passages, err := e.retriever.Retrieve(ctx, item.Query, item.BrandID, e.k)
	if err != nil {
		res.Err = err
		return res
	}
	res.Passages = len(passages)
	if len(passages) > 0 {
		res.TopScore = passages[0].Score
	}
	for i, p := range passages {
		if relevant(item, p) {
			res.Rank = i + 1
			break
		}
	}
	return res
}

func relevant(item DatasetItem, p models.RetrievedPassage) bool {
	for _, s := range item.ExpectedSources {
		if p.Chunk.SourceURI == s {
			return true
		}
	}
	return item.ExpectedText != "" &&
		strings.Contains(strings.ToLower(p.Chunk.Text), strings.ToLower(item.ExpectedText))
}

// RunDatasetEvaluation scores every item. Items whose retrieval failed count
// towards FailedQueries and are excluded from the averages.
func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *Dataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)), zap.Int("k", e.k))

	report := &EvaluationReport{
		TotalQueries: len(dataset.Items),
		ByCategory:   make(map[string]*CategoryStats),
	}

	var reciprocal, topScores float64
	evaluated := 0
	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := e.EvaluateItem(ctx, item)
		report.Items = append(report.Items, res)
		if res.Err != nil {
			logger.Error("Failed to evaluate query", zap.Int("index", i), zap.String("query", item.Query), zap.Error(res.Err))
			report.FailedQueries++
			continue
		}
		evaluated++

		category := item.Category
		if category == "" {
			category = "uncategorized"
		}
		stats, ok := report.ByCategory[category]
		if !ok {
			stats = &CategoryStats{}
			report.ByCategory[category] = stats
		}
		stats.Total++

		if res.Passages == 0 {
			report.EmptyCount++
		}
		topScores += res.TopScore
		if res.Rank > 0 {
			report.HitCount++
			stats.Hits++
			reciprocal += 1 / float64(res.Rank)
		}
	}

	if evaluated > 0 {
		n := float64(evaluated)
		report.HitRate = float64(report.HitCount) / n
		report.MRR = reciprocal / n
		report.AvgTopScore = topScores / n
		report.EmptyPercentage = float64(report.EmptyCount) / n * 100
	}
	for _, stats := range report.ByCategory {
		stats.HitRate = float64(stats.Hits) / float64(stats.Total)
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("failed", report.FailedQueries),
		zap.Float64("hit_rate", report.HitRate),
		zap.Float64("mrr", report.MRR),
	)

	return report, nil
}

func LoadDataset(r io.Reader) (*Dataset, error) {
	var dataset Dataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	for i, item := range dataset.Items {
		if item.Query == "" || item.BrandID == "" {
			return nil, fmt.Errorf("dataset item %d: query and brand_id are required", i)
		}
	}
	return &dataset, nil
}

func GenerateReport(report *EvaluationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Retrieval Evaluation Report
===========================

Total Queries: %d (failed: %d)

Hit Rate: %.1f%%
MRR: %.3f
Average Top Score: %.3f
Empty Retrievals: %d (%.1f%%)
`,
		report.TotalQueries, report.FailedQueries,
		report.HitRate*100,
		report.MRR,
		report.AvgTopScore,
		report.EmptyCount, report.EmptyPercentage,
	)

	if len(report.ByCategory) > 0 {
		b.WriteString("\nBy Category:\n")
		names := make([]string, 0, len(report.ByCategory))
		for name := range report.ByCategory {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := report.ByCategory[name]
			fmt.Fprintf(&b, "- %s: %d/%d (%.1f%%)\n", name, s.Hits, s.Total, s.HitRate*100)
		}
	}
	return b.String()
}
