package zilliz

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/pkg/logger"
)

const (
	fieldChunkID    = "chunk_id"
	fieldBrandID    = "brand_id"
	fieldEmbedding  = "embedding"
	fieldText       = "text"
	fieldSourceURI  = "source_uri"
	fieldTokenCount = "token_count"
	fieldOffset     = "offset_tokens"
)

var outputFields = []string{fieldChunkID, fieldBrandID, fieldText, fieldSourceURI, fieldTokenCount, fieldOffset}

// Client is a Milvus/Zilliz backed vector.Index. All brands share one collection
// and every search is filtered on the brand_id scalar field.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	indexType      string
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int, indexType string) (*Client, error) {
	var (
		c   client.Client
		err error
	)
	if apiKey != "" {
		c, err = client.NewClient(ctx, client.Config{Address: endpoint, APIKey: apiKey, EnableTLSAuth: true})
	} else {
		c, err = client.NewGrpcClient(ctx, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		indexType:      indexType,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// EnsureCollection creates, indexes and loads the collection when missing.
func (z *Client) EnsureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return vector.Unavailable("check collection", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Brand knowledge-base chunks",
		Fields: []*entity.Field{
			{
				Name:       fieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       fieldBrandID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(z.vectorDim)},
			},
			{
				Name:       fieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       fieldSourceURI,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
			{
				Name:     fieldTokenCount,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     fieldOffset,
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return vector.Unavailable("create collection", err)
	}

	idx, err := z.newIndex()
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return vector.Unavailable("create index", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return vector.Unavailable("load collection", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func (z *Client) newIndex() (entity.Index, error) {
	if z.indexType == "IVF_FLAT" {
		return entity.NewIndexIvfFlat(entity.COSINE, 1024)
	}
	return entity.NewIndexHNSW(entity.COSINE, 16, 200)
}

func (z *Client) searchParam() (entity.SearchParam, error) {
	if z.indexType == "IVF_FLAT" {
		return entity.NewIndexIvfFlatSearchParam(16)
	}
	return entity.NewIndexHNSWSearchParam(64)
}

func (z *Client) Upsert(ctx context.Context, brandID string, records []vector.Record) error {
	if err := vector.ValidateBrand(brandID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := vector.CheckRecords(brandID, records, z.vectorDim); err != nil {
		return err
	}

	_, err := z.client.Upsert(ctx, z.collectionName, "", recordColumns(brandID, records, z.vectorDim)...)
	if err != nil {
		return vector.Unavailable("upsert", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return vector.Unavailable("flush", err)
	}

	logger.Info("Chunks upserted into vector DB",
		zap.String("brand_id", brandID),
		zap.Int("count", len(records)),
	)

	return nil
}

func (z *Client) DeleteSource(ctx context.Context, brandID, sourceURI string) error {
	if err := vector.ValidateBrand(brandID); err != nil {
		return err
	}
	if err := z.client.Delete(ctx, z.collectionName, "", sourceExpr(brandID, sourceURI)); err != nil {
		return vector.Unavailable("delete", err)
	}
	return nil
}

func (z *Client) Query(ctx context.Context, brandID string, queryEmbedding []float32, topN int) ([]vector.Match, error) {
	if err := vector.ValidateBrand(brandID); err != nil {
		return nil, err
	}
	if topN <= 0 {
		return nil, nil
	}

	sp, err := z.searchParam()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		brandExpr(brandID),
		outputFields,
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		fieldEmbedding,
		entity.COSINE,
		topN,
		sp,
	)
	if err != nil {
		return nil, vector.Unavailable("search", err)
	}

	matches := matchesFrom(searchResult, brandID)

	logger.Debug("Vector search completed",
		zap.String("brand_id", brandID),
		zap.Int("topN", topN),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}

// brandExpr scopes a search to one brand. Values are always quoted.
func brandExpr(brandID string) string {
	return fmt.Sprintf("%s == %s", fieldBrandID, strconv.Quote(brandID))
}

func sourceExpr(brandID, sourceURI string) string {
	return fmt.Sprintf("%s && %s == %s", brandExpr(brandID), fieldSourceURI, strconv.Quote(sourceURI))
}

// recordColumns lays records out column-wise in schema order.
func recordColumns(brandID string, records []vector.Record, dim int) []entity.Column {
	n := len(records)
	chunkIDs := make([]string, n)
	brands := make([]string, n)
	embeddings := make([][]float32, n)
	texts := make([]string, n)
	sources := make([]string, n)
	tokenCounts := make([]int64, n)
	offsets := make([]int64, n)

	for i, r := range records {
		chunkIDs[i] = r.Chunk.ID
		brands[i] = brandID
		embeddings[i] = r.Vector
		texts[i] = r.Chunk.Text
		sources[i] = r.Chunk.SourceURI
		tokenCounts[i] = int64(r.Chunk.TokenCount)
		offsets[i] = int64(r.Chunk.Offset)
	}

	return []entity.Column{
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldBrandID, brands),
		entity.NewColumnFloatVector(fieldEmbedding, dim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSourceURI, sources),
		entity.NewColumnInt64(fieldTokenCount, tokenCounts),
		entity.NewColumnInt64(fieldOffset, offsets),
	}
}

// matchesFrom maps search results to matches, best first. COSINE scores from
// Milvus are already similarities. Hits of another brand are dropped.
func matchesFrom(results []client.SearchResult, brandID string) []vector.Match {
	var matches []vector.Match
	for _, sr := range results {
		for i := 0; i < sr.ResultCount && i < len(sr.Scores); i++ {
			chunk := models.Chunk{
				ID:         columnString(sr.Fields.GetColumn(fieldChunkID), i),
				BrandID:    columnString(sr.Fields.GetColumn(fieldBrandID), i),
				Text:       columnString(sr.Fields.GetColumn(fieldText), i),
				SourceURI:  columnString(sr.Fields.GetColumn(fieldSourceURI), i),
				TokenCount: int(columnInt(sr.Fields.GetColumn(fieldTokenCount), i)),
				Offset:     int(columnInt(sr.Fields.GetColumn(fieldOffset), i)),
			}
			if chunk.BrandID != brandID {
				logger.Warn("Dropping cross-brand hit", zap.String("brand_id", brandID), zap.String("chunk_id", chunk.ID))
				continue
			}
			matches = append(matches, vector.Match{Chunk: chunk, Score: float64(sr.Scores[i])})
		}
	}
	vector.SortMatches(matches)
	return matches
}

func columnString(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func columnInt(col entity.Column, i int) int64 {
	if col == nil {
		return 0
	}
	v, err := col.Get(i)
	if err != nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}
