// Package pgvector is a PostgreSQL vector.Index using the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/vector"
	"github.com/brand-assistant/backend/pkg/logger"
)

var tablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type Index struct {
	db    *sql.DB
	table string
	dim   int
}

func Open(ctx context.Context, dsn, table string, dim int) (*Index, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, vector.Unavailable("ping", err)
	}

	logger.Info("pgvector index initialized", zap.String("table", table), zap.Int("dim", dim))

	return &Index{db: db, table: table, dim: dim}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// InitSchema creates the extension, table and HNSW cosine index when missing.
func (ix *Index) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(ix.table, ix.dim) {
		if _, err := ix.db.ExecContext(ctx, stmt); err != nil {
			return vector.Unavailable("init schema", err)
		}
	}
	return nil
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

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return vector.Unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertQuery(ix.table))
	if err != nil {
		return vector.Unavailable("prepare upsert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Chunk.ID, brandID, r.Chunk.SourceURI, r.Chunk.Text,
			r.Chunk.TokenCount, r.Chunk.Offset, pgvector.NewVector(r.Vector),
		)
		if err != nil {
			return vector.Unavailable("upsert "+r.Chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return vector.Unavailable("commit", err)
	}
	return nil
}

func (ix *Index) DeleteSource(ctx context.Context, brandID, sourceURI string) error {
	if err := vector.ValidateBrand(brandID); err != nil {
		return err
	}
	if _, err := ix.db.ExecContext(ctx, deleteQuery(ix.table), brandID, sourceURI); err != nil {
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

	rows, err := ix.db.QueryContext(ctx, searchQuery(ix.table),
		pgvector.NewVector(queryEmbedding), brandID, topN,
	)
	if err != nil {
		return nil, vector.Unavailable("query", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var c models.Chunk
		var distance float64
		if err := rows.Scan(&c.ID, &c.BrandID, &c.SourceURI, &c.Text, &c.TokenCount, &c.Offset, &distance); err != nil {
			return nil, vector.Unavailable("scan", err)
		}
		matches = append(matches, vector.Match{Chunk: c, Score: scoreFromDistance(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, vector.Unavailable("rows", err)
	}

	vector.SortMatches(matches)
	return matches, nil
}

func schemaStatements(table string, dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id TEXT PRIMARY KEY,
			brand_id TEXT NOT NULL,
			source_uri TEXT NOT NULL,
			text TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			offset_tokens INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, table, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_brand_source_idx ON %s (brand_id, source_uri)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, table, table),
	}
}

func upsertQuery(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (chunk_id, brand_id, source_uri, text, token_count, offset_tokens, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chunk_id) DO UPDATE SET
			brand_id = EXCLUDED.brand_id,
			source_uri = EXCLUDED.source_uri,
			text = EXCLUDED.text,
			token_count = EXCLUDED.token_count,
			offset_tokens = EXCLUDED.offset_tokens,
			embedding = EXCLUDED.embedding`, table)
}

func deleteQuery(table string) string {
	return fmt.Sprintf(`DELETE FROM %s WHERE brand_id = $1 AND source_uri = $2`, table)
}

// searchQuery orders by cosine distance ($1 vector, $2 brand, $3 limit) and
// returns the distance as the last column.
func searchQuery(table string) string {
	return fmt.Sprintf(`
		SELECT chunk_id, brand_id, source_uri, text, token_count, offset_tokens,
		       embedding <=> $1 AS distance
		FROM %s
		WHERE brand_id = $2
		ORDER BY distance
		LIMIT $3`, table)
}

// scoreFromDistance converts pgvector's cosine distance in [0, 2] to cosine
// similarity in [-1, 1].
func scoreFromDistance(d float64) float64 {
	return 1 - d
}
