package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/promptfirewall/firewall/pkg/observability"
)

const (
	defaultL1MaxSize = 1000
	defaultL1TTL     = 300 * time.Second
	defaultL2TTL     = 3600 * time.Second
)

// Fallback is invoked on a full cache miss; its result is stored back
// into both tiers before being returned to the caller.
type Fallback func(ctx context.Context) ([]byte, error)

// Stats is a point-in-time view of cache effectiveness, split by tier.
type Stats struct {
	L1Hits         int64
	L2Hits         int64
	Misses         int64
	L1HitRate      float64
	L2HitRate      float64
	OverallHitRate float64
	L1Size         int
	L1MaxSize      int
}

// Config controls tier sizing and default TTLs.
type Config struct {
	L1MaxSize int
	L1TTL     time.Duration
	L2TTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.L1MaxSize <= 0 {
		c.L1MaxSize = defaultL1MaxSize
	}
	if c.L1TTL <= 0 {
		c.L1TTL = defaultL1TTL
	}
	if c.L2TTL <= 0 {
		c.L2TTL = defaultL2TTL
	}
	return c
}

// Manager is the two-tier cache: a process-local L1 in front of an
// injected L2 KVStore.
type Manager struct {
	l1     *l1Cache
	l2     KVStore
	config Config

	logger  observability.Logger
	metrics observability.MetricsClient

	l1Hits int64
	l2Hits int64
	misses int64
}

func New(l2 KVStore, config Config, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	config = config.withDefaults()
	return &Manager{
		l1:      newL1Cache(config.L1MaxSize),
		l2:      l2,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func cacheKey(namespace, key string) string {
	return fmt.Sprintf("cache:%s:%s", namespace, key)
}

// Get reads namespace/key, checking L1 then L2, promoting an L2 hit
// back into L1. The bool result is false only on a full miss.
func (m *Manager) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	full := cacheKey(namespace, key)

	if val, ok := m.l1.get(full); ok {
		atomic.AddInt64(&m.l1Hits, 1)
		m.metrics.IncrementCounter("cache_l1_hits_total", 1)
		return val, true, nil
	}

	val, ok, err := m.l2.Get(ctx, full)
	if err != nil {
		m.logger.Warn("cache_l2_get_failed", map[string]interface{}{"error": err.Error(), "namespace": namespace})
		m.metrics.IncrementCounter("cache_l2_errors_total", 1)
		atomic.AddInt64(&m.misses, 1)
		return nil, false, nil
	}
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		m.metrics.IncrementCounter("cache_misses_total", 1)
		return nil, false, nil
	}

	atomic.AddInt64(&m.l2Hits, 1)
	m.metrics.IncrementCounter("cache_l2_hits_total", 1)
	m.l1.set(full, val, m.config.L1TTL)
	return val, true, nil
}

// GetOrLoad is Get with a fallback: on a full miss it invokes fallback
// and stores the result into both tiers before returning it.
func (m *Manager) GetOrLoad(ctx context.Context, namespace, key string, fallback Fallback) ([]byte, error) {
	if val, ok, err := m.Get(ctx, namespace, key); err == nil && ok {
		return val, nil
	}

	val, err := fallback(ctx)
	if err != nil {
		return nil, err
	}
	if setErr := m.Set(ctx, namespace, key, val, 0); setErr != nil {
		m.logger.Warn("cache_store_after_fallback_failed", map[string]interface{}{"error": setErr.Error()})
	}
	return val, nil
}

// Set writes namespace/key to L1 then L2. L2 failure is logged and
// counted but never fails the call; L1 still serves. ttl == 0 uses
// the configured L2 default.
func (m *Manager) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	full := cacheKey(namespace, key)
	l1TTL, l2TTL := m.config.L1TTL, m.config.L2TTL
	if ttl > 0 {
		l1TTL, l2TTL = ttl, ttl
	}

	m.l1.set(full, value, l1TTL)

	if err := m.l2.Set(ctx, full, value, l2TTL); err != nil {
		m.logger.Warn("cache_l2_set_failed", map[string]interface{}{"error": err.Error(), "namespace": namespace})
		m.metrics.IncrementCounter("cache_l2_errors_total", 1)
	}
	return nil
}

// Delete removes namespace/key from both tiers.
func (m *Manager) Delete(ctx context.Context, namespace, key string) error {
	full := cacheKey(namespace, key)
	m.l1.delete(full)
	if err := m.l2.Delete(ctx, full); err != nil {
		m.logger.Warn("cache_l2_delete_failed", map[string]interface{}{"error": err.Error(), "namespace": namespace})
		return err
	}
	return nil
}

// InvalidateNamespace removes every L1 entry under namespace and scans
// L2 for matches, deleting them. Returns the L2 deletion count.
func (m *Manager) InvalidateNamespace(ctx context.Context, namespace string) (int, error) {
	prefix := fmt.Sprintf("cache:%s:", namespace)
	m.l1.deleteByPrefix(prefix)

	keys, err := m.l2.Scan(ctx, prefix+"*")
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, k := range keys {
		if err := m.l2.Delete(ctx, k); err != nil {
			m.logger.Warn("cache_invalidate_delete_failed", map[string]interface{}{"error": err.Error(), "key": k})
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Stats reports hit/miss counters since process start.
func (m *Manager) Stats() Stats {
	l1 := atomic.LoadInt64(&m.l1Hits)
	l2 := atomic.LoadInt64(&m.l2Hits)
	miss := atomic.LoadInt64(&m.misses)
	total := l1 + l2 + miss

	s := Stats{
		L1Hits:    l1,
		L2Hits:    l2,
		Misses:    miss,
		L1Size:    m.l1.len(),
		L1MaxSize: m.config.L1MaxSize,
	}
	if total > 0 {
		s.L1HitRate = float64(l1) / float64(total)
		s.L2HitRate = float64(l2) / float64(total)
		s.OverallHitRate = float64(l1+l2) / float64(total)
	}
	return s
}

// Warm bulk-loads namespace/key/value triples directly into both
// tiers, bypassing the normal fallback path. Used at startup to
// pre-populate frequently seen validations.
func (m *Manager) Warm(ctx context.Context, namespace string, entries map[string][]byte) error {
	for key, value := range entries {
		if err := m.Set(ctx, namespace, key, value, 0); err != nil {
			return err
		}
	}
	return nil
}
