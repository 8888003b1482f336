package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarkerPrefix = "shop:pending:"

// MarkerStore maps the opaque token held in a browser's pending-order cookie
// to the order that browser created. Only tokens issued here resolve.
type MarkerStore interface {
	Put(ctx context.Context, token, orderID string, ttl time.Duration) error
	// Resolve returns the order id for token, or "" when the token is unknown or expired.
	Resolve(ctx context.Context, token string) (string, error)
}

type redisMarkerStore struct {
	client *redis.Client
}

func NewMarkerStore(client *redis.Client) MarkerStore {
	return &redisMarkerStore{client: client}
}

func (s *redisMarkerStore) Put(ctx context.Context, token, orderID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, pendingMarkerPrefix+token, orderID, ttl).Err(); err != nil {
		return fmt.Errorf("store pending marker: %w", err)
	}
	return nil
}

func (s *redisMarkerStore) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	orderID, err := s.client.Get(ctx, pendingMarkerPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("resolve pending marker: %w", err)
	}
	return orderID, nil
}
