package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
)

// MockEmbedder deterministically maps a text to a unit vector using a
// seeded PRNG keyed off an FNV hash of the text, so the same text
// always produces the same vector without any model or network call.
// Options inject failures for resilience tests.
type MockEmbedder struct {
	dimensions int
	failAfter  int
	failAlways bool

	mu    sync.Mutex
	calls int
}

type MockEmbedderOption func(*MockEmbedder)

// WithFailAfter makes the embedder return an error starting on the
// n-th call (1-indexed), useful for exercising the circuit breaker.
func WithFailAfter(n int) MockEmbedderOption {
	return func(m *MockEmbedder) { m.failAfter = n }
}

// WithAlwaysFail makes every call fail.
func WithAlwaysFail() MockEmbedderOption {
	return func(m *MockEmbedder) { m.failAlways = true }
}

func NewMockEmbedder(dimensions int, opts ...MockEmbedderOption) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	m := &MockEmbedder{dimensions: dimensions}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockEmbedder) Dimensions() int { return m.dimensions }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	calls := m.calls
	m.mu.Unlock()
	if m.failAlways || (m.failAfter > 0 && calls >= m.failAfter) {
		return nil, wrapErr("mock", errMockInjectedFailure)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, m.dimensions)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}
	return Normalize(vec), nil
}

var errMockInjectedFailure = errors.New("mock embedder: injected failure")
