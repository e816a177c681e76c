// Package vectorindex stores the similarity corpus backing semantic
// detection. Upsert/delete mutate the corpus; KNN returns the k
// nearest neighbors by cosine similarity, optionally filtered to a
// category.
package vectorindex

import (
	"context"

	"github.com/promptfirewall/firewall/internal/core"
)

// Hit is one KNN result: the matched corpus entry plus its cosine
// similarity to the query vector, in [-1, 1] (normalized vectors put
// it in [0, 1] in practice).
type Hit struct {
	Entry      core.CorpusEntry
	Similarity float64
}

// Index is the similarity search contract every SemanticDetector
// backend implements: pgvector-backed for production, in-memory for
// tests and small deployments.
type Index interface {
	Upsert(ctx context.Context, entry core.CorpusEntry) error
	Delete(ctx context.Context, patternID string) error
	// KNN returns up to k entries most similar to vec. When category is
	// non-empty, only entries with a matching Category are considered.
	KNN(ctx context.Context, vec []float32, k int, category string) ([]Hit, error)
	Count(ctx context.Context) (int, error)
}

// MaxK is the hard cap on KNN fan-out.
const MaxK = 10

func clampK(k int) int {
	if k <= 0 {
		return MaxK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}
