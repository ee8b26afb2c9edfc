package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/storage/models"
	"github.com/brand-assistant/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// go-sqlite3 serialises writers anyway; one connection keeps PRAGMAs in force.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		source_uri TEXT NOT NULL,
		title TEXT,
		content_type TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (brand_id, source_uri)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_brand ON documents(brand_id);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		offset_tokens INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		brand_id TEXT NOT NULL,
		intent TEXT,
		message_text TEXT NOT NULL,
		response TEXT,
		final_state TEXT NOT NULL,
		provider TEXT,
		fallbacks INTEGER DEFAULT 0,
		passage_count INTEGER DEFAULT 0,
		top_score REAL,
		web_search_used INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(brand_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);

	CREATE TABLE IF NOT EXISTS interaction_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_uri TEXT,
		chunk_id TEXT,
		score REAL,
		FOREIGN KEY (interaction_id) REFERENCES interactions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_interaction ON interaction_sources(interaction_id);

	CREATE TABLE IF NOT EXISTS leads (
		user_id TEXT NOT NULL,
		brand_id TEXT NOT NULL,
		name TEXT NOT NULL,
		purpose TEXT,
		email TEXT NOT NULL,
		phone TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (brand_id, user_id)
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// ReplaceDocument swaps the stored document and all of its chunks in one transaction.
func (c *Client) ReplaceDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, brand_id, source_uri, title, content_type, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content_type = excluded.content_type,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`,
		doc.ID,
		doc.BrandID,
		doc.SourceURI,
		doc.Title,
		doc.ContentType,
		len(chunks),
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, doc_id, chunk_index, text, token_count, offset_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		_, err := stmt.ExecContext(ctx, ch.ID, doc.ID, ch.ChunkIndex, ch.Text, ch.TokenCount, ch.Offset, ch.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	logger.Debug("Document replaced",
		zap.String("doc_id", doc.ID),
		zap.String("brand_id", doc.BrandID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, brand_id, source_uri, title, content_type, chunk_count, created_at, updated_at FROM documents WHERE id = ?`

	var doc models.Document
	var title, contentType sql.NullString
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.BrandID,
		&doc.SourceURI,
		&title,
		&contentType,
		&doc.ChunkCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Title = title.String
	doc.ContentType = contentType.String
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

func (c *Client) GetChunks(ctx context.Context, docID string) ([]models.DocumentChunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, doc_id, chunk_index, text, token_count, offset_tokens, created_at
		FROM document_chunks WHERE doc_id = ? ORDER BY chunk_index
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		var createdAt int64
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.ChunkIndex, &ch.Text, &ch.TokenCount, &ch.Offset, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func (c *Client) RecordInteraction(ctx context.Context, record *models.Interaction) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	webSearchUsed := 0
	if record.WebSearchUsed {
		webSearchUsed = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO interactions (id, user_id, brand_id, intent, message_text, response, final_state,
			provider, fallbacks, passage_count, top_score, web_search_used, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.UserID,
		record.BrandID,
		record.Intent,
		record.MessageText,
		record.Response,
		record.FinalState,
		record.Provider,
		record.Fallbacks,
		record.PassageCount,
		record.TopScore,
		webSearchUsed,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	for _, src := range record.Sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO interaction_sources (interaction_id, source_type, source_uri, chunk_id, score) VALUES (?, ?, ?, ?, ?)`,
			record.ID, src.SourceType, src.SourceURI, src.ChunkID, src.Score,
		)
		if err != nil {
			return fmt.Errorf("failed to insert interaction source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interaction: %w", err)
	}

	logger.Debug("Interaction recorded",
		zap.String("interaction_id", record.ID),
		zap.String("brand_id", record.BrandID),
		zap.String("state", record.FinalState),
	)
	return nil
}

// GetInteractionHistory returns the newest interactions of a user with a brand first.
func (c *Client) GetInteractionHistory(ctx context.Context, userID, brandID string, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, brand_id, intent, message_text, response, final_state, provider,
			fallbacks, passage_count, top_score, web_search_used, latency_ms, created_at
		FROM interactions
		WHERE user_id = ? AND brand_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, brandID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction history: %w", err)
	}
	defer rows.Close()

	var records []models.Interaction
	for rows.Next() {
		var r models.Interaction
		var intent, response, provider sql.NullString
		var topScore sql.NullFloat64
		var webSearchUsed int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.UserID, &r.BrandID, &intent, &r.MessageText, &response, &r.FinalState,
			&provider, &r.Fallbacks, &r.PassageCount, &topScore, &webSearchUsed, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Intent = intent.String
		r.Response = response.String
		r.Provider = provider.String
		r.TopScore = topScore.Float64
		r.WebSearchUsed = webSearchUsed == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		sources, err := c.interactionSources(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Sources = sources
	}

	return records, nil
}

func (c *Client) interactionSources(ctx context.Context, interactionID string) ([]models.InteractionSource, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, interaction_id, source_type, source_uri, chunk_id, score FROM interaction_sources WHERE interaction_id = ? ORDER BY id`,
		interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction sources: %w", err)
	}
	defer rows.Close()

	var sources []models.InteractionSource
	for rows.Next() {
		var s models.InteractionSource
		var uri, chunkID sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.InteractionID, &s.SourceType, &uri, &chunkID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.SourceURI = uri.String
		s.ChunkID = chunkID.String
		s.Score = score.Float64
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// SaveLead stores the contact details of a user, replacing any earlier ones for
// the same brand. The original creation time is kept.
func (c *Client) SaveLead(ctx context.Context, lead *models.Lead) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO leads (user_id, brand_id, name, purpose, email, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (brand_id, user_id) DO UPDATE SET
			name = excluded.name,
			purpose = excluded.purpose,
			email = excluded.email,
			phone = excluded.phone,
			updated_at = excluded.updated_at
	`,
		lead.UserID,
		lead.BrandID,
		lead.Name,
		lead.Purpose,
		lead.Email,
		lead.Phone,
		lead.CreatedAt.Unix(),
		lead.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}

	logger.Debug("Lead saved", zap.String("brand_id", lead.BrandID), zap.String("user_id", lead.UserID))
	return nil
}

func (c *Client) GetLead(ctx context.Context, userID, brandID string) (*models.Lead, error) {
	var lead models.Lead
	var purpose sql.NullString
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT user_id, brand_id, name, purpose, email, phone, created_at, updated_at
		FROM leads WHERE brand_id = ? AND user_id = ?
	`, brandID, userID).Scan(
		&lead.UserID,
		&lead.BrandID,
		&lead.Name,
		&purpose,
		&lead.Email,
		&lead.Phone,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	lead.Purpose = purpose.String
	lead.CreatedAt = time.Unix(createdAt, 0)
	lead.UpdatedAt = time.Unix(updatedAt, 0)
	return &lead, nil
}
