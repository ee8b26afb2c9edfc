package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/brand-assistant/backend/pkg/utils"
)

// Document is a brand knowledge-base source. Re-ingesting the same
// (BrandID, SourceURI) replaces every chunk previously derived from it.
type Document struct {
	BrandID     string            `json:"brand_id"`
	SourceURI   string            `json:"source_uri"`
	RawText     string            `json:"raw_text"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ID is stable for a (brand, source) pair.
func (d Document) ID() string {
	return utils.HashParts(d.BrandID, d.SourceURI)
}

// IsHTML reports whether RawText should be cleaned as markup before chunking.
func (d Document) IsHTML() bool {
	ct := strings.ToLower(d.ContentType)
	return strings.Contains(ct, "html") || strings.HasSuffix(strings.ToLower(d.SourceURI), ".html")
}

type Chunk struct {
	ID         string `json:"chunk_id"`
	BrandID    string `json:"brand_id"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	SourceURI  string `json:"source_uri"`
	Offset     int    `json:"offset"`
}

// ChunkID derives the id of the i-th chunk of a document.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, i)
}

type EmbeddingVector struct {
	ChunkID string    `json:"chunk_id"`
	BrandID string    `json:"brand_id"`
	Vector  []float32 `json:"vector"`
}

// RetrievedPassage is a chunk scored against one query. Synthetic passages come
// from web search, carry no similarity and rank below every scored passage.
type RetrievedPassage struct {
	Chunk     Chunk   `json:"chunk"`
	Score     float64 `json:"similarity_score"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role              Role      `json:"role"`
	Text              string    `json:"text"`
	Timestamp         time.Time `json:"timestamp"`
	RetrievedChunkIDs []string  `json:"retrieved_chunk_ids,omitempty"`
}

type SessionKey struct {
	UserID  string
	BrandID string
}

func (k SessionKey) String() string {
	return k.BrandID + ":" + k.UserID
}

// LeadStage names the contact field a session is waiting for. The zero value
// means no collection is in progress.
type LeadStage string

const (
	LeadStageName    LeadStage = "name"
	LeadStagePurpose LeadStage = "purpose"
	LeadStageEmail   LeadStage = "email"
	LeadStagePhone   LeadStage = "phone"
)

// Lead holds the contact details gathered before a meeting is proposed.
type Lead struct {
	Name    string `json:"name,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Missing returns the first field still to be collected, or "" when the lead
// is complete.
func (l Lead) Missing() LeadStage {
	switch {
	case l.Name == "":
		return LeadStageName
	case l.Purpose == "":
		return LeadStagePurpose
	case l.Email == "":
		return LeadStageEmail
	case l.Phone == "":
		return LeadStagePhone
	}
	return ""
}

// FirstName is the first word of Name.
func (l Lead) FirstName() string {
	if f := strings.Fields(l.Name); len(f) > 0 {
		return f[0]
	}
	return ""
}

type ConversationSession struct {
	UserID          string    `json:"user_id"`
	BrandID         string    `json:"brand_id"`
	Turns           []Turn    `json:"turns"`
	LastIntent      string    `json:"last_intent,omitempty"`
	NoContextStreak int       `json:"no_context_streak,omitempty"`
	LeadStage       LeadStage `json:"lead_stage,omitempty"`
	Lead            Lead      `json:"lead"`
	// Unsubscribed sessions get no reply until the user opts back in.
	Unsubscribed bool      `json:"unsubscribed,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewSession(key SessionKey, now time.Time) *ConversationSession {
	return &ConversationSession{
		UserID:    key.UserID,
		BrandID:   key.BrandID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *ConversationSession) Key() SessionKey {
	return SessionKey{UserID: s.UserID, BrandID: s.BrandID}
}

// AppendTurn adds t at the tail, clamping its timestamp so the sequence never
// goes backwards, then evicts from the head until at most maxTurns remain.
func (s *ConversationSession) AppendTurn(t Turn, maxTurns int) {
	if n := len(s.Turns); n > 0 && t.Timestamp.Before(s.Turns[n-1].Timestamp) {
		t.Timestamp = s.Turns[n-1].Timestamp
	}
	s.Turns = append(s.Turns, t)
	if maxTurns > 0 && len(s.Turns) > maxTurns {
		s.Turns = append([]Turn(nil), s.Turns[len(s.Turns)-maxTurns:]...)
	}
	if t.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = t.Timestamp
	}
}

// Reset drops the history and any collection in progress. The session identity,
// the collected lead and the subscription flag survive.
func (s *ConversationSession) Reset(now time.Time) {
	s.Turns = nil
	s.NoContextStreak = 0
	s.LastIntent = ""
	s.LeadStage = ""
	s.UpdatedAt = now
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *ConversationSession) Clone() *ConversationSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.RetrievedChunkIDs = append([]string(nil), t.RetrievedChunkIDs...)
		c.Turns[i] = t
	}
	return &c
}
