package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brand-assistant/backend/internal/models"
)

// RedisStore keeps one JSON blob per session at session:<brand>:<user>. Every
// save refreshes the inactivity TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func redisKey(key models.SessionKey) string {
	return fmt.Sprintf("session:%s:%s", key.BrandID, key.UserID)
}

func (r *RedisStore) Load(ctx context.Context, key models.SessionKey) (*models.ConversationSession, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewSession(key, r.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrStore, key, err)
	}

	var s models.ConversationSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrStore, key, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.ConversationSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStore, s.Key(), err)
	}
	if err := r.client.Set(ctx, redisKey(s.Key()), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrStore, s.Key(), err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key models.SessionKey) error {
	if err := r.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrStore, key, err)
	}
	return nil
}
