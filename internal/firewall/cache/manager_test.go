package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptfirewall/firewall/internal/firewall/cache"
)

func newTestManager(t *testing.T) (*cache.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := cache.NewRedisStore(client)
	return cache.New(store, cache.Config{}, nil, nil), mr
}

func TestManager_SetThenGetHitsL1(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "validation:default", "key1", []byte("payload"), 0))

	val, ok, err := m.Get(ctx, "validation:default", "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), val)
	assert.Equal(t, int64(1), m.Stats().L1Hits)
}

func TestManager_L2HitPromotesToL1(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("cache:validation:default:key1", "payload"))

	val, ok, err := m.Get(ctx, "validation:default", "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), val)
	assert.Equal(t, int64(1), m.Stats().L2Hits)

	// Second read should now come from L1, not L2.
	_, ok, err = m.Get(ctx, "validation:default", "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), m.Stats().L1Hits)
}

func TestManager_MissReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t)
	_, ok, err := m.Get(context.Background(), "validation:default", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_GetOrLoadUsesFallbackOnMiss(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	calls := 0

	fallback := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}

	val, err := m.GetOrLoad(ctx, "validation:default", "key1", fallback)
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), val)

	val, err = m.GetOrLoad(ctx, "validation:default", "key1", fallback)
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), val)
	assert.Equal(t, 1, calls, "fallback must only run once after the value is cached")
}

func TestManager_DeleteRemovesFromBothTiers(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "validation:default", "key1", []byte("payload"), 0))

	require.NoError(t, m.Delete(ctx, "validation:default", "key1"))

	_, ok, err := m.Get(ctx, "validation:default", "key1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("cache:validation:default:key1"))
}

func TestManager_InvalidateNamespaceDeletesAllMatches(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "validation:p1", "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "validation:p1", "b", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, "validation:p2", "c", []byte("3"), 0))

	n, err := m.InvalidateNamespace(ctx, "validation:p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ := m.Get(ctx, "validation:p1", "a")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "validation:p2", "c")
	assert.True(t, ok)
}

func TestManager_L2FailureIsSwallowedAndL1StillServes(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "validation:default", "key1", []byte("payload"), 0))

	mr.Close()

	val, ok, err := m.Get(ctx, "validation:default", "key1")
	require.NoError(t, err)
	require.True(t, ok, "L1 must still serve once L2 is unreachable")
	assert.Equal(t, []byte("payload"), val)
}

func TestManager_WarmPrePopulatesBothTiers(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	err := m.Warm(ctx, "validation:default", map[string][]byte{
		"key1": []byte("v1"),
		"key2": []byte("v2"),
	})
	require.NoError(t, err)

	_, ok, _ := m.Get(ctx, "validation:default", "key1")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "validation:default", "key2")
	assert.True(t, ok)
}

var errFallback = errors.New("fallback failed")

func TestManager_GetOrLoadPropagatesFallbackError(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.GetOrLoad(context.Background(), "validation:default", "key1", func(ctx context.Context) ([]byte, error) {
		return nil, errFallback
	})
	assert.ErrorIs(t, err, errFallback)
}
