package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brand-assistant/backend/internal/embedding"
	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/internal/models"
	storagemodels "github.com/brand-assistant/backend/internal/storage/models"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/pkg/logger"
)

// Registry records what was ingested. The SQLite client implements it.
type Registry interface {
	ReplaceDocument(ctx context.Context, doc *storagemodels.Document, chunks []storagemodels.DocumentChunk) error
}

type ProcessorConfig struct {
	BatchSize   int
	Concurrency int
}

type Processor struct {
	chunker  *Chunker
	embedder embedding.Embedder
	index    vector.Index
	registry Registry
	cfg      ProcessorConfig
	now      func() time.Time
}

type Result struct {
	DocumentID string        `json:"document_id"`
	BrandID    string        `json:"brand_id"`
	SourceURI  string        `json:"source_uri"`
	Title      string        `json:"title,omitempty"`
	Chunks     int           `json:"chunks"`
	Duration   time.Duration `json:"duration"`
}

// NewProcessor wires the offline pipeline. registry may be nil.
func NewProcessor(chunker *Chunker, embedder embedding.Embedder, index vector.Index, registry Registry, cfg ProcessorConfig) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Processor{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Ingest replaces everything previously indexed for (doc.BrandID, doc.SourceURI).
func (p *Processor) Ingest(ctx context.Context, doc models.Document) (*Result, error) {
	start := p.now()
	if err := vector.ValidateBrand(doc.BrandID); err != nil {
		return nil, err
	}
	if doc.SourceURI == "" {
		return nil, fmt.Errorf("document for brand %s has no source uri", doc.BrandID)
	}

	logger.Info("Processing document",
		zap.String("brand_id", doc.BrandID),
		zap.String("source_uri", doc.SourceURI),
	)

	var title string
	if doc.IsHTML() {
		t, text, err := CleanHTML(doc.RawText)
		if err != nil {
			return nil, fmt.Errorf("failed to parse html: %w", err)
		}
		title, doc.RawText = t, text
	}

	chunks, err := p.chunker.Chunk(doc)
	if err != nil {
		return nil, err
	}
	logger.Info("Document chunked", zap.String("source_uri", doc.SourceURI), zap.Int("chunks", len(chunks)))

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	records := make([]vector.Record, len(chunks))
	for i := range chunks {
		records[i] = vector.Record{Chunk: chunks[i], Vector: vectors[i]}
	}

	if err := p.index.DeleteSource(ctx, doc.BrandID, doc.SourceURI); err != nil {
		return nil, fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	if err := p.index.Upsert(ctx, doc.BrandID, records); err != nil {
		return nil, fmt.Errorf("failed to insert into vector index: %w", err)
	}

	if p.registry != nil {
		if err := p.register(ctx, doc, title, chunks); err != nil {
			// the index is the source of truth for retrieval
			logger.Warn("Failed to record document", zap.String("source_uri", doc.SourceURI), zap.Error(err))
		}
	}

	metrics.DocumentsProcessed.WithLabelValues(doc.BrandID).Inc()
	metrics.ChunksIngested.WithLabelValues(doc.BrandID).Add(float64(len(chunks)))

	res := &Result{
		DocumentID: doc.ID(),
		BrandID:    doc.BrandID,
		SourceURI:  doc.SourceURI,
		Title:      title,
		Chunks:     len(chunks),
		Duration:   p.now().Sub(start),
	}

	logger.Info("Document processed successfully",
		zap.String("doc_id", res.DocumentID),
		zap.Int("chunks", res.Chunks),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// IngestBatch ingests documents one after another. A failing document does not
// stop the rest; the joined error lists every failure.
func (p *Processor) IngestBatch(ctx context.Context, docs []models.Document) ([]*Result, error) {
	var results []*Result
	var errs []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := p.Ingest(ctx, doc)
		if err != nil {
			logger.Error("Failed to ingest document", zap.String("source_uri", doc.SourceURI), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", doc.SourceURI, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (p *Processor) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for lo := 0; lo < len(chunks); lo += p.cfg.BatchSize {
		lo := lo
		hi := lo + p.cfg.BatchSize
		if hi > len(chunks) {
			hi = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := lo; i < hi; i++ {
				texts[i-lo] = chunks[i].Text
			}
			out, err := p.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("%w: embedding count mismatch: got %d, expected %d", embedding.ErrProvider, len(out), len(texts))
			}
			copy(vectors[lo:hi], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return vectors, nil
}

func (p *Processor) register(ctx context.Context, doc models.Document, title string, chunks []models.Chunk) error {
	now := p.now()
	rec := &storagemodels.Document{
		ID:          doc.ID(),
		BrandID:     doc.BrandID,
		SourceURI:   doc.SourceURI,
		Title:       title,
		ContentType: doc.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rows := make([]storagemodels.DocumentChunk, len(chunks))
	for i, ch := range chunks {
		rows[i] = storagemodels.DocumentChunk{
			ID:         ch.ID,
			DocID:      rec.ID,
			ChunkIndex: i,
			Text:       ch.Text,
			TokenCount: ch.TokenCount,
			Offset:     ch.Offset,
			CreatedAt:  now,
		}
	}
	return p.registry.ReplaceDocument(ctx, rec, rows)
}
