package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/promptfirewall/firewall/internal/core"
)

// RedisStore is the production KVStore: a thin wrapper over go-redis
// (Get/Set with TTL, Scan by pattern). Manager already degrades any L2
// error to a logged miss, so nothing upstream needs a breaker's
// short-circuit behavior here.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.NewCacheError("redis.get", err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return core.NewCacheError("redis.set", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return core.NewCacheError("redis.delete", err)
	}
	return nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, core.NewCacheError("redis.exists", err)
	}
	return n > 0, nil
}

// Scan walks the keyspace with Redis's cursor-based SCAN rather than
// KEYS, so invalidateNamespace never blocks the server on a large
// keyspace.
func (r *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return nil, core.NewCacheError("redis.scan", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
