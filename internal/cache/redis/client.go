package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/pkg/logger"
)

// Client owns the shared Redis connection. Sessions and the embedding cache
// live in the same database under different key prefixes.
type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

// Wrap adopts an existing connection.
func Wrap(client *redis.Client) *Client {
	return &Client{client: client}
}

// Redis exposes the underlying connection for stores that need raw commands.
func (c *Client) Redis() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", key), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("key", key))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	return embedding, true, nil
}

// PurgeEmbeddings removes every cached vector, e.g. after switching embedding models.
func (c *Client) PurgeEmbeddings(ctx context.Context) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, "embedding:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Embedding cache purged", zap.Int("removed", removed))
	return removed, nil
}
