package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation as a JSON value under prefix+key.
// A non-zero ttl lets Redis evict conversations nobody touched for that long.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

// Read loads the state for key; a missing value yields New().
func (r *RedisStore) Read(ctx context.Context, key string) (State, error) {
	if key == "" {
		return State{}, ErrEmptyKey
	}
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("conversation: redis get: %w", err)
	}
	return decode(data)
}

// Replace writes the whole state with a single SET.
func (r *RedisStore) Replace(ctx context.Context, key string, st State) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := encode(st)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: redis set: %w", err)
	}
	return nil
}

// Patch reads, mutates and writes back the state for key.
func (r *RedisStore) Patch(ctx context.Context, key string, mutate func(*State)) error {
	st, err := r.Read(ctx, key)
	if err != nil {
		return err
	}
	mutate(&st)
	return r.Replace(ctx, key, st)
}

// Clear deletes the state for key.
func (r *RedisStore) Clear(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("conversation: redis del: %w", err)
	}
	return nil
}
