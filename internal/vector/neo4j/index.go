// Package neo4j stores chunks as graph nodes (Brand)-[:HAS_SOURCE]->(Source)-[:HAS_CHUNK]->(Chunk)
// and searches them through a Neo4j 5 native vector index.
package neo4j

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/pkg/circuitbreaker"
	"github.com/brand-assistant/backend/pkg/logger"
	"github.com/brand-assistant/backend/pkg/retry"
)

var indexNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

type Index struct {
	driver      neo4j.DriverWithContext
	database    string
	indexName   string
	dim         int
	overscan    int
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// NewIndex connects to Neo4j. The vector index has no brand partition, so Query
// asks it for topN*overscan nodes before filtering on brand_id.
func NewIndex(ctx context.Context, uri, username, password, database, indexName string, dim, overscan int) (*Index, error) {
	if !indexNamePattern.MatchString(indexName) {
		return nil, fmt.Errorf("invalid vector index name %q", indexName)
	}
	if overscan < 1 {
		overscan = 1
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, vector.Unavailable("verify connectivity", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j vector index initialized", zap.String("uri", uri), zap.String("index", indexName))

	return &Index{
		driver:      driver,
		database:    database,
		indexName:   indexName,
		dim:         dim,
		overscan:    overscan,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (ix *Index) Close(ctx context.Context) error {
	return ix.driver.Close(ctx)
}

func (ix *Index) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return ix.cb.Execute(ctx, func() error {
		return retry.Do(ctx, ix.retryConfig, func() error {
			session := ix.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: ix.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// InitSchema creates the uniqueness constraint and the cosine vector index.
func (ix *Index) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE c.chunk_id IS UNIQUE`,
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (c:Chunk) ON (c.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			ix.indexName, ix.dim),
	}
	return ix.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, stmt := range stmts {
			res, err := session.Run(ctx, stmt, nil)
			if err != nil {
				return vector.Unavailable("init schema", err)
			}
			if _, err := res.Consume(ctx); err != nil {
				return vector.Unavailable("init schema", err)
			}
		}
		return nil
	})
}

func (ix *Index) Upsert(ctx context.Context, brandID string, records []vector.Record) error {
	if err := vector.ValidateBrand(brandID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := vector.CheckRecords(brandID, records, ix.dim); err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, map[string]any{
			"chunk_id":      r.Chunk.ID,
			"source_uri":    r.Chunk.SourceURI,
			"text":          r.Chunk.Text,
			"token_count":   int64(r.Chunk.TokenCount),
			"offset_tokens": int64(r.Chunk.Offset),
			"embedding":     toFloat64(r.Vector),
		})
	}

	query := `
		MERGE (b:Brand {id: $brand_id})
		WITH b
		UNWIND $rows AS row
		MERGE (s:Source {brand_id: $brand_id, uri: row.source_uri})
		MERGE (b)-[:HAS_SOURCE]->(s)
		MERGE (c:Chunk {chunk_id: row.chunk_id})
		SET c.brand_id = $brand_id,
		    c.source_uri = row.source_uri,
		    c.text = row.text,
		    c.token_count = row.token_count,
		    c.offset_tokens = row.offset_tokens,
		    c.embedding = row.embedding
		MERGE (s)-[:HAS_CHUNK]->(c)
	`

	err := ix.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, map[string]any{"brand_id": brandID, "rows": rows})
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		return err
	})
	if err != nil {
		return vector.Unavailable("upsert", err)
	}

	logger.Debug("Chunks upserted into neo4j", zap.String("brand_id", brandID), zap.Int("count", len(records)))
	return nil
}

func (ix *Index) DeleteSource(ctx context.Context, brandID, sourceURI string) error {
	if err := vector.ValidateBrand(brandID); err != nil {
		return err
	}

	query := `
		MATCH (s:Source {brand_id: $brand_id, uri: $uri})
		OPTIONAL MATCH (s)-[:HAS_CHUNK]->(c:Chunk)
		DETACH DELETE c, s
	`
	err := ix.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, map[string]any{"brand_id": brandID, "uri": sourceURI})
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		return err
	})
	if err != nil {
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

	query := `
		CALL db.index.vector.queryNodes($index, $candidates, $embedding) YIELD node, score
		WHERE node.brand_id = $brand_id
		RETURN node.chunk_id AS chunk_id, node.source_uri AS source_uri, node.text AS text,
		       node.token_count AS token_count, node.offset_tokens AS offset_tokens, score
		ORDER BY score DESC
		LIMIT $top_n
	`
	params := map[string]any{
		"index":      ix.indexName,
		"candidates": int64(topN * ix.overscan),
		"embedding":  toFloat64(queryEmbedding),
		"brand_id":   brandID,
		"top_n":      int64(topN),
	}

	var matches []vector.Match
	err := ix.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			records, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			found := make([]vector.Match, 0, len(records))
			for _, rec := range records {
				found = append(found, toMatch(brandID, rec))
			}
			return found, nil
		})
		if err != nil {
			return err
		}
		matches = out.([]vector.Match)
		return nil
	})
	if err != nil {
		return nil, vector.Unavailable("query", err)
	}

	vector.SortMatches(matches)
	return matches, nil
}

func toMatch(brandID string, rec *neo4j.Record) vector.Match {
	chunkID, _, _ := neo4j.GetRecordValue[string](rec, "chunk_id")
	source, _, _ := neo4j.GetRecordValue[string](rec, "source_uri")
	text, _, _ := neo4j.GetRecordValue[string](rec, "text")
	tokens, _, _ := neo4j.GetRecordValue[int64](rec, "token_count")
	offset, _, _ := neo4j.GetRecordValue[int64](rec, "offset_tokens")
	score, _, _ := neo4j.GetRecordValue[float64](rec, "score")

	return vector.Match{
		Chunk: models.Chunk{
			ID:         chunkID,
			BrandID:    brandID,
			Text:       text,
			TokenCount: int(tokens),
			SourceURI:  source,
			Offset:     int(offset),
		},
		// the cosine index reports (1 + cos) / 2
		Score: 2*score - 1,
	}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
