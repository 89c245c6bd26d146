package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps peer states in Redis, one JSON value per peer under
// a shared key prefix. Suitable when several bot processes share state.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "vkbox:state"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) key(peerID int64) string {
	return r.prefix + ":" + strconv.FormatInt(peerID, 10)
}

func (r *RedisStore) Get(ctx context.Context, peerID int64) (*State, error) {
	data, err := r.rdb.Get(ctx, r.key(peerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Set(ctx context.Context, peerID int64, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(peerID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, peerID int64) error {
	if err := r.rdb.Del(ctx, r.key(peerID)).Err(); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
