// Package redislifecycle stores channel finish markers as Redis keys.
package redislifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/redis/go-redis/v9"
)

// Store is a lifecycle.MarkerStore backed by plain Redis keys.
type Store struct {
	client redis.UniversalClient
}

var _ lifecycle.MarkerStore = (*Store)(nil)

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// NewResolver returns a resolver checking prefix+channel in Redis.
func NewResolver(client redis.UniversalClient, prefix string, opts ...lifecycle.Option) *lifecycle.KeyResolver {
	return lifecycle.NewKeyResolver(New(client), prefix, opts...)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n == 1, nil
}

func (s *Store) MarkLive(ctx context.Context, key string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) MarkFinished(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
