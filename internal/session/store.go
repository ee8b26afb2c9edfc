// Package session persists per-user conversation state and serialises turns
// for the same (user, brand) pair.
package session

import (
	"context"
	"errors"

	"github.com/brand-assistant/backend/internal/models"
)

// ErrStore marks any failure of the backing session store.
var ErrStore = errors.New("session store error")

// Store loads and saves conversation sessions. Load returns a fresh empty session
// when none exists or the previous one expired. Implementations must offer
// read-your-writes for a single caller.
type Store interface {
	Load(ctx context.Context, key models.SessionKey) (*models.ConversationSession, error)
	Save(ctx context.Context, s *models.ConversationSession) error
	Delete(ctx context.Context, key models.SessionKey) error
}
