package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchfeed/sportsgate/internal/observ"
)

// RedisStore backs the cache with Redis. A nil client or any backend error
// degrades to a miss; the gateway must keep working with the cache down.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if s == nil || s.rdb == nil {
		return nil, false
	}
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			observ.LogError("cache_backend_error", err, map[string]any{"op": "get", "key": key})
		}
		return nil, false
	}
	return b, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s == nil || s.rdb == nil || ttl <= 0 {
		return
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		observ.LogError("cache_backend_error", err, map[string]any{"op": "set", "key": key})
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if s == nil || s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		observ.LogError("cache_backend_error", err, map[string]any{"op": "del", "key": key})
	}
}
