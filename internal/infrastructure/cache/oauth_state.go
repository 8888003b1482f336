package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const oauthStatePrefix = "shop:oauth:state:"

// OAuthState is what the login redirect remembers until the provider calls back.
type OAuthState struct {
	Next      string    `json:"next,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type StateStore interface {
	Put(ctx context.Context, state string, value OAuthState, ttl time.Duration) error
	// Consume returns the stored value and deletes it. A missing or expired state yields nil, nil.
	Consume(ctx context.Context, state string) (*OAuthState, error)
}

type redisStateStore struct {
	client *redis.Client
}

func NewStateStore(client *redis.Client) StateStore {
	return &redisStateStore{client: client}
}

func (s *redisStateStore) Put(ctx context.Context, state string, value OAuthState, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, oauthStatePrefix+state, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

func (s *redisStateStore) Consume(ctx context.Context, state string) (*OAuthState, error) {
	raw, err := s.client.GetDel(ctx, oauthStatePrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	var out OAuthState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	return &out, nil
}
