package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/promptfirewall/firewall/internal/core"
)

// MemoryIndex is a brute-force in-process Index: fine for test
// corpora and small deployments that don't need a pgvector instance.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]core.CorpusEntry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]core.CorpusEntry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, entry core.CorpusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.PatternID] = entry
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, patternID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, patternID)
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) KNN(ctx context.Context, vec []float32, k int, category string) ([]Hit, error) {
	k = clampK(k)

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if category != "" && e.Category != category {
			continue
		}
		hits = append(hits, Hit{Entry: e, Similarity: cosineSimilarity(vec, e.Vector)})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Entry.PatternID < hits[j].Entry.PatternID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
