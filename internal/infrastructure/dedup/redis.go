package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"channel-sync-core/internal/ports"
)

const keyPrefix = "sync:dedup:"

// RedisStore implements the dedup horizon on Redis. SET NX with a TTL is
// an atomic insert-if-absent, so concurrent submissions of the same key
// race safely: exactly one wins.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed dedup store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Remember returns true exactly once per key within the TTL.
func (s *RedisStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := s.client.SetNX(ctx, keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return first, nil
}

var _ ports.DedupStore = (*RedisStore)(nil)
