// Package chromem is an in-process vector.Index built on chromem-go, with one
// collection per brand. Useful for development, tests and single-node deployments.
package chromem

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/vector"
)

const (
	metaBrand      = "brand_id"
	metaSource     = "source_uri"
	metaTokenCount = "token_count"
	metaOffset     = "offset"
)

type Index struct {
	mu sync.RWMutex
	db *chromem.DB
}

// New returns a purely in-memory index.
func New() *Index {
	return &Index{db: chromem.NewDB()}
}

// NewPersistent stores collections under dir (gzip-compressed when compress is set).
func NewPersistent(dir string, compress bool) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem store: %w", err)
	}
	return &Index{db: db}, nil
}

func collectionName(brandID string) string {
	return "brand_" + brandID
}

// noEmbedding guards against chromem computing vectors itself; callers always
// pass precomputed embeddings.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem index requires precomputed embeddings")
}

func (ix *Index) collection(brandID string, create bool) (*chromem.Collection, error) {
	name := collectionName(brandID)
	if col := ix.db.GetCollection(name, noEmbedding); col != nil || !create {
		return col, nil
	}
	return ix.db.GetOrCreateCollection(name, map[string]string{metaBrand: brandID}, noEmbedding)
}

func (ix *Index) Upsert(ctx context.Context, brandID string, records []vector.Record) error {
	if err := vector.ValidateBrand(brandID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := vector.CheckRecords(brandID, records, 0); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	col, err := ix.collection(brandID, true)
	if err != nil {
		return vector.Unavailable("create collection", err)
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:        r.Chunk.ID,
			Content:   r.Chunk.Text,
			Embedding: r.Vector,
			Metadata: map[string]string{
				metaBrand:      brandID,
				metaSource:     r.Chunk.SourceURI,
				metaTokenCount: strconv.Itoa(r.Chunk.TokenCount),
				metaOffset:     strconv.Itoa(r.Chunk.Offset),
			},
		})
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return vector.Unavailable("add documents", err)
	}
	return nil
}

func (ix *Index) DeleteSource(ctx context.Context, brandID, sourceURI string) error {
	if err := vector.ValidateBrand(brandID); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	col, err := ix.collection(brandID, false)
	if err != nil {
		return vector.Unavailable("get collection", err)
	}
	if col == nil || col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{metaSource: sourceURI}, nil); err != nil {
		return vector.Unavailable("delete", err)
	}
	return nil
}

func (ix *Index) Query(ctx context.Context, brandID string, queryEmbedding []float32, topN int) ([]vector.Match, error) {
	if err := vector.ValidateBrand(brandID); err != nil {
		return nil, err
	}
	if topN <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	col, err := ix.collection(brandID, false)
	if err != nil {
		return nil, vector.Unavailable("get collection", err)
	}
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topN > count {
		topN = count
	}

	results, err := col.QueryEmbedding(ctx, queryEmbedding, topN, nil, nil)
	if err != nil {
		return nil, vector.Unavailable("query", err)
	}

	matches := make([]vector.Match, 0, len(results))
	for _, r := range results {
		tokens, _ := strconv.Atoi(r.Metadata[metaTokenCount])
		offset, _ := strconv.Atoi(r.Metadata[metaOffset])
		matches = append(matches, vector.Match{
			Chunk: models.Chunk{
				ID:         r.ID,
				BrandID:    r.Metadata[metaBrand],
				Text:       r.Content,
				TokenCount: tokens,
				SourceURI:  r.Metadata[metaSource],
				Offset:     offset,
			},
			Score: float64(r.Similarity),
		})
	}
	vector.SortMatches(matches)
	return matches, nil
}
