package session

import (
	"context"
	"sync"
	"time"

	"github.com/brand-assistant/backend/internal/models"
)

type memoryEntry struct {
	session   *models.ConversationSession
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Expired entries are dropped lazily on
// Load and in bulk by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[models.SessionKey]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[models.SessionKey]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Load(ctx context.Context, key models.SessionKey) (*models.ConversationSession, error) {
	now := m.now()

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && m.ttl > 0 && !now.Before(e.expiresAt) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		ok = false
	}
	if !ok {
		return models.NewSession(key, now), nil
	}
	return e.session.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *models.ConversationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.Key()] = memoryEntry{
		session:   s.Clone(),
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key models.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Sweep removes every expired session and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
