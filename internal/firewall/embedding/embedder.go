// Package embedding provides text-to-vector adapters over pluggable
// remote models. Implementations never silently substitute a zero
// vector on failure; they return an EmbeddingError and let the
// caller degrade.
package embedding

import (
	"context"
	"math"

	"github.com/promptfirewall/firewall/internal/core"
)

// Embedder produces a fixed-dimensional, L2-normalized vector for a
// text. Implementations MAY run off the caller's goroutine internally
// (batching, connection reuse) but MUST honor ctx cancellation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Normalize L2-normalizes v in place and returns it. Embedder
// implementations call this before returning so cosine similarity and
// dot product agree downstream, regardless of whether the underlying
// model already normalizes.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// wrapErr is the shared helper every provider uses to satisfy "raise
// an EmbeddingError, never a bare error".
func wrapErr(model string, err error) error {
	if err == nil {
		return nil
	}
	return core.NewEmbeddingError(model, err)
}
