package keyring

import (
	"context"
	"errors"
	"fmt"

	"github.com/sing3demons/instance-identity/internal/database"
	"github.com/sing3demons/instance-identity/pkg/jwks"
)

const DefaultRedisStateKey = "jwks_state"

// RedisStore keeps the key history as a JSON array string under one key, without expiry.
type RedisStore struct {
	client database.IRedisClient
	key    string
}

func NewRedisStore(client database.IRedisClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisStateKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]jwks.JWK, error) {
	val, err := s.client.Get(ctx, s.key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jwks state from redis: %w", err)
	}
	return decodeState([]byte(val))
}

func (s *RedisStore) Save(ctx context.Context, keys []jwks.JWK) error {
	data, err := encodeState(keys)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, string(data), 0); err != nil {
		return fmt.Errorf("write jwks state to redis: %w", err)
	}
	return nil
}
