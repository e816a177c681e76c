// Package semantic implements similarity-based detection: embed the
// prompt, search the vector corpus for near neighbors, and turn hits
// above a similarity threshold into detections. Check never fails:
// any embedding or index failure degrades to an empty result so regex
// detection still covers the request.
package semantic

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/promptfirewall/firewall/internal/core"
	"github.com/promptfirewall/firewall/internal/firewall/embedding"
	"github.com/promptfirewall/firewall/internal/firewall/vectorindex"
	"github.com/promptfirewall/firewall/pkg/observability"
	"github.com/promptfirewall/firewall/pkg/resilience"
)

// maxRetries bounds the exponential backoff applied to a single
// embedder or vector-index call before the circuit breaker records the
// attempt as one failure; it exists to ride out a single transient
// blip (a dropped connection, a momentary timeout) without tripping
// the breaker on noise. Intervals are sized for an in-process or
// same-datacenter RPC, not a browser-facing retry.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)
}

const maxRetries = 2

func withRetry(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, newRetryBackoff(ctx))
}

const defaultThreshold = 0.85
const knnK = 10

// Detector is SemanticDetector. The threshold is stored behind an
// atomic so setThreshold never races with a concurrent Check.
type Detector struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	logger   observability.Logger
	metrics  observability.MetricsClient

	// embedderBreaker and indexBreaker wrap the two external
	// dependencies Check calls into; nil means "call directly", which
	// keeps New usable without a resilience.Registry in tests.
	embedderBreaker *resilience.CircuitBreaker
	indexBreaker    *resilience.CircuitBreaker

	threshold atomic.Uint64 // float64 bits
}

// Option configures optional Detector behavior beyond its required
// collaborators.
type Option func(*Detector)

// WithCircuitBreakers wraps the embedder and vector index calls Check
// makes with the given breakers. A trip on either surfaces as an empty
// detection list, exactly like any other embedding or KNN failure.
func WithCircuitBreakers(embedderBreaker, indexBreaker *resilience.CircuitBreaker) Option {
	return func(d *Detector) {
		d.embedderBreaker = embedderBreaker
		d.indexBreaker = indexBreaker
	}
}

func New(embedder embedding.Embedder, index vectorindex.Index, logger observability.Logger, metrics observability.MetricsClient, opts ...Option) *Detector {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	d := &Detector{embedder: embedder, index: index, logger: logger, metrics: metrics}
	for _, opt := range opts {
		opt(d)
	}
	d.SetThreshold(defaultThreshold)
	return d
}

// embed calls the embedder, retrying transient failures a bounded
// number of times before the call (as a whole) counts against
// embedderBreaker, if set.
func (d *Detector) embed(ctx context.Context, text string) ([]float32, error) {
	attempt := func(ctx context.Context) ([]float32, error) {
		var vec []float32
		err := withRetry(ctx, func() error {
			v, embedErr := d.embedder.Embed(ctx, text)
			if embedErr != nil {
				return embedErr
			}
			vec = v
			return nil
		})
		return vec, err
	}

	if d.embedderBreaker == nil {
		return attempt(ctx)
	}
	var vec []float32
	err := d.embedderBreaker.Execute(ctx, func(ctx context.Context) error {
		v, attemptErr := attempt(ctx)
		if attemptErr != nil {
			return attemptErr
		}
		vec = v
		return nil
	}, nil)
	if err != nil {
		return nil, core.NewCircuitBreakerError("embedder", err)
	}
	return vec, nil
}

// knn calls the vector index, retrying transient failures a bounded
// number of times before the call counts against indexBreaker, if set.
func (d *Detector) knn(ctx context.Context, vec []float32, k int, category string) ([]vectorindex.Hit, error) {
	attempt := func(ctx context.Context) ([]vectorindex.Hit, error) {
		var hits []vectorindex.Hit
		err := withRetry(ctx, func() error {
			h, knnErr := d.index.KNN(ctx, vec, k, category)
			if knnErr != nil {
				return knnErr
			}
			hits = h
			return nil
		})
		return hits, err
	}

	if d.indexBreaker == nil {
		return attempt(ctx)
	}
	var hits []vectorindex.Hit
	err := d.indexBreaker.Execute(ctx, func(ctx context.Context) error {
		h, attemptErr := attempt(ctx)
		if attemptErr != nil {
			return attemptErr
		}
		hits = h
		return nil
	}, nil)
	if err != nil {
		return nil, core.NewCircuitBreakerError("vector_index", err)
	}
	return hits, nil
}

// Threshold returns the current similarity cutoff.
func (d *Detector) Threshold() float64 {
	return float64FromBits(d.threshold.Load())
}

// SetThreshold updates the similarity cutoff. x outside [0, 1] is
// silently clamped rather than rejected, since this is called from
// config reload paths that must never fail construction.
func (d *Detector) SetThreshold(x float64) {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	d.threshold.Store(bitsFromFloat64(x))
}

// Check embeds prompt, searches the corpus, and returns detections for
// every hit at or above the current threshold. Any failure along the
// way is logged and swallowed, returning nil.
func (d *Detector) Check(ctx context.Context, prompt string) []core.Detection {
	ctx, span := observability.StartSpan(ctx, "semantic.check")
	defer span.End()

	vec, err := d.embed(ctx, prompt)
	if err != nil {
		derr := core.NewDetectionError("semantic", err)
		d.logger.Warn("semantic_embed_failed", map[string]interface{}{"error": derr.Error()})
		d.metrics.IncrementCounter("semantic_embed_failures_total", 1)
		return nil
	}

	threshold := d.Threshold()
	hits, err := d.knn(ctx, vec, knnK, "")
	if err != nil {
		derr := core.NewDetectionError("semantic", err)
		d.logger.Warn("semantic_knn_failed", map[string]interface{}{"error": derr.Error()})
		d.metrics.IncrementCounter("semantic_knn_failures_total", 1)
		return nil
	}

	var detections []core.Detection
	for _, hit := range hits {
		if hit.Similarity < threshold {
			continue
		}

		// Corpus entries loaded from an external index can carry
		// arbitrary severity strings; unknown ones default to medium.
		severity := core.ParseSeverity(string(hit.Entry.Severity))

		detections = append(detections, core.Detection{
			Kind:           core.DetectionSemantic,
			MatchedPattern: hit.Entry.PatternID,
			Confidence:     hit.Similarity,
			Severity:       severity,
			Category:       hit.Entry.Category,
			Positions:      nil,
			Metadata: map[string]interface{}{
				"pattern_text":      hit.Entry.Text,
				"similarity_score":  hit.Similarity,
				"threshold":         threshold,
				"confidence_bucket": confidenceBucket(hit.Similarity),
			},
		})

		d.metrics.IncrementCounterWithLabels("semantic_detections_total", 1, map[string]string{
			"category":          hit.Entry.Category,
			"confidence_bucket": confidenceBucket(hit.Similarity),
		})
	}
	return detections
}

func confidenceBucket(similarity float64) string {
	switch {
	case similarity >= 0.95:
		return "very_high"
	case similarity >= 0.90:
		return "high"
	case similarity >= 0.85:
		return "medium"
	default:
		return "low"
	}
}

// AddPattern embeds text and upserts it into the corpus under id. When
// id is empty, a UUID is generated so every corpus entry has a stable
// identifier even when the caller doesn't supply one (e.g. a corpus
// seeded from free-form example text rather than a named pattern).
func (d *Detector) AddPattern(ctx context.Context, id, text, category string, severity core.Severity, metadata map[string]interface{}) error {
	if id == "" {
		id = uuid.NewString()
	}
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	return d.index.Upsert(ctx, core.CorpusEntry{
		PatternID: id,
		Vector:    vec,
		Text:      text,
		Category:  category,
		Severity:  severity,
		Metadata:  metadata,
	})
}

// RemovePattern deletes a corpus entry. Absence is not an error.
func (d *Detector) RemovePattern(ctx context.Context, id string) error {
	return d.index.Delete(ctx, id)
}

// EmbeddingCount reports the number of entries currently in the corpus.
func (d *Detector) EmbeddingCount(ctx context.Context) (int, error) {
	return d.index.Count(ctx)
}
