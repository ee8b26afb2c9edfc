package models

import "time"

type Document struct {
	ID          string    `json:"id"`
	BrandID     string    `json:"brand_id"`
	SourceURI   string    `json:"source_uri"`
	Title       string    `json:"title"`
	ContentType string    `json:"content_type"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DocumentChunk struct {
	ID         string    `json:"id"`
	DocID      string    `json:"doc_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Offset     int       `json:"offset"`
	CreatedAt  time.Time `json:"created_at"`
}

// Interaction is one orchestrated turn as seen from the audit log.
type Interaction struct {
	ID            string              `json:"id"`
	UserID        string              `json:"user_id"`
	BrandID       string              `json:"brand_id"`
	Intent        string              `json:"intent"`
	MessageText   string              `json:"message_text"`
	Response      string              `json:"response"`
	FinalState    string              `json:"final_state"`
	Provider      string              `json:"provider"`
	Fallbacks     int                 `json:"fallbacks"`
	PassageCount  int                 `json:"passage_count"`
	TopScore      float64             `json:"top_score"`
	WebSearchUsed bool                `json:"web_search_used"`
	LatencyMS     int64               `json:"latency_ms"`
	CreatedAt     time.Time           `json:"created_at"`
	Sources       []InteractionSource `json:"sources,omitempty"`
}

type InteractionSource struct {
	ID            int     `json:"id"`
	InteractionID string  `json:"interaction_id"`
	SourceType    string  `json:"source_type"`
	SourceURI     string  `json:"source_uri"`
	ChunkID       string  `json:"chunk_id"`
	Score         float64 `json:"score"`
}

// Lead is the latest contact details a user left with a brand.
type Lead struct {
	UserID    string    `json:"user_id"`
	BrandID   string    `json:"brand_id"`
	Name      string    `json:"name"`
	Purpose   string    `json:"purpose"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
