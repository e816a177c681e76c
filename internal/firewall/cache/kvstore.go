// Package cache implements the two-tier result cache: a
// process-local TTL LRU (L1) in front of an injected KVStore (L2).
package cache

import (
	"context"
	"time"
)

// KVStore is the L2 contract: opaque byte values keyed by string, with
// per-key TTL and pattern-scan for invalidation. No circuit breaker
// wraps it: Manager already treats every L2 error as a logged miss,
// so a breaker would only add ceremony around an already non-blocking
// failure path.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}
