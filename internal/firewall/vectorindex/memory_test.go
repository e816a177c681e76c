package vectorindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptfirewall/firewall/internal/core"
	"github.com/promptfirewall/firewall/internal/firewall/vectorindex"
)

func mustEntry(id string, vec []float32, category string) core.CorpusEntry {
	return core.CorpusEntry{PatternID: id, Vector: vec, Text: id, Category: category, Severity: core.SeverityHigh}
}

func TestMemoryIndex_KNNReturnsClosestFirst(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, mustEntry("exact", []float32{1, 0, 0}, "jailbreak")))
	require.NoError(t, idx.Upsert(ctx, mustEntry("orthogonal", []float32{0, 1, 0}, "jailbreak")))
	require.NoError(t, idx.Upsert(ctx, mustEntry("close", []float32{0.9, 0.1, 0}, "jailbreak")))

	hits, err := idx.KNN(ctx, []float32{1, 0, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact", hits[0].Entry.PatternID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "close", hits[1].Entry.PatternID)
}

func TestMemoryIndex_KNNFiltersByCategory(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, mustEntry("a", []float32{1, 0}, "jailbreak")))
	require.NoError(t, idx.Upsert(ctx, mustEntry("b", []float32{1, 0}, "exfiltration")))

	hits, err := idx.KNN(ctx, []float32{1, 0}, 10, "exfiltration")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Entry.PatternID)
}

func TestMemoryIndex_KNNCapsAtMaxK(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, idx.Upsert(ctx, mustEntry(string(rune('a'+i)), []float32{1, float32(i)}, "")))
	}

	hits, err := idx.KNN(ctx, []float32{1, 0}, 100, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), vectorindex.MaxK)
}

func TestMemoryIndex_DeleteRemovesEntry(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, mustEntry("a", []float32{1, 0}, "")))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, idx.Delete(ctx, "a"))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
