// Package pipeline implements the validation orchestrator: cache
// lookup, parallel detector fan-out, policy evaluation, and result
// caching composed under a single request.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptfirewall/firewall/internal/core"
	"github.com/promptfirewall/firewall/internal/firewall/cache"
	"github.com/promptfirewall/firewall/internal/firewall/policy"
	"github.com/promptfirewall/firewall/internal/firewall/regex"
	"github.com/promptfirewall/firewall/internal/firewall/semantic"
	"github.com/promptfirewall/firewall/pkg/observability"
)

// Pipeline is DetectorPipeline: it owns no detection logic of its own,
// only the orchestration: cache-or-compute, fan-out, merge, decide.
type Pipeline struct {
	regex    *regex.Detector
	semantic *semantic.Detector
	policy   *policy.Engine
	cache    *cache.Manager

	cacheEnabled bool

	logger  observability.Logger
	metrics observability.MetricsClient

	initOnce sync.Once
	ready    atomic.Bool
}

// New builds a Pipeline. cacheMgr may be nil, in which case caching is
// disabled entirely (every request is computed fresh).
func New(regexDetector *regex.Detector, semanticDetector *semantic.Detector, policyEngine *policy.Engine, cacheMgr *cache.Manager, logger observability.Logger, metrics observability.MetricsClient) *Pipeline {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	return &Pipeline{
		regex:        regexDetector,
		semantic:     semanticDetector,
		policy:       policyEngine,
		cache:        cacheMgr,
		cacheEnabled: cacheMgr != nil,
		logger:       logger,
		metrics:      metrics,
	}
}

// Initialize performs any deferred wiring. It's idempotent and safe to
// call concurrently; later callers observe an already-initialized
// pipeline. Components here are already constructed via dependency
// injection, so this mainly exists as the documented startup hook and
// a readiness flag for health checks.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.initOnce.Do(func() {
		p.logger.Info("pipeline_initialized", map[string]interface{}{
			"cache_enabled": p.cacheEnabled,
		})
		p.ready.Store(true)
	})
	return nil
}

func (p *Pipeline) Ready() bool { return p.ready.Load() }

func requestID(prompt string, t0 time.Time) string {
	h := sha256.Sum256([]byte(prompt + strconv.FormatInt(t0.UnixNano(), 10)))
	return hex.EncodeToString(h[:])[:16]
}

func promptCacheKey(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:])
}

// Validate classifies one prompt. It never returns a Go error:
// failures are reported as a ValidationResult with status=ERROR
// carrying a human-readable message, never a stack trace.
func (p *Pipeline) Validate(ctx context.Context, prompt core.Prompt) core.ValidationResult {
	_ = p.Initialize(ctx)

	ctx, span := observability.StartSpan(ctx, "pipeline.validate")
	defer span.End()

	t0 := time.Now()
	reqID := requestID(prompt.Text, t0)

	// Resolve an omitted policy ID up front so cache namespaces and the
	// result's policy_id reflect the policy actually applied, not "".
	policyID := prompt.PolicyID
	if policyID == "" {
		policyID = p.policy.DefaultPolicyID()
	}

	if err := ctx.Err(); err != nil {
		return p.errorResult(reqID, policyID, "request deadline exceeded before validation started", t0)
	}

	namespace := fmt.Sprintf("validation:%s", policyID)
	cacheKey := promptCacheKey(prompt.Text)

	if p.cacheEnabled {
		if raw, hit, err := p.cache.Get(ctx, namespace, cacheKey); err == nil && hit {
			result, decodeErr := decodeResult(raw)
			if decodeErr == nil {
				result.Cached = true
				result.LatencyMs = latencyMs(t0)
				p.metrics.IncrementCounterWithLabels("validation_total", 1, map[string]string{
					"status":    string(result.Status),
					"policy_id": policyID,
					"cache":     "hit",
				})
				return result
			}
		}
	}

	regexDetections, semanticDetections := p.fanOut(ctx, prompt.Text)
	if ctx.Err() != nil {
		return p.errorResult(reqID, policyID, "request deadline exceeded during detection", t0)
	}

	detections := make([]core.Detection, 0, len(regexDetections)+len(semanticDetections))
	detections = append(detections, regexDetections...)
	detections = append(detections, semanticDetections...)

	action, reason, err := p.policy.Evaluate(prompt.Text, detections, policyID)
	if err != nil {
		p.logger.Warn("policy_evaluation_failed", map[string]interface{}{"error": err.Error(), "policy_id": policyID})
		p.metrics.IncrementCounterWithLabels("validation_total", 1, map[string]string{
			"status":    string(core.StatusError),
			"policy_id": policyID,
			"cache":     "miss",
		})
		return core.ValidationResult{
			Status:     core.StatusError,
			IsSafe:     false,
			Detections: detections,
			PolicyID:   policyID,
			LatencyMs:  latencyMs(t0),
			Message:    "policy evaluation failed: " + policyErrorMessage(err),
			RequestID:  reqID,
		}
	}

	status, isSafe := core.StatusForAction(action)
	result := core.ValidationResult{
		Status:     status,
		IsSafe:     isSafe,
		Detections: detections,
		PolicyID:   policyID,
		LatencyMs:  latencyMs(t0),
		Message:    reason,
		Cached:     false,
		RequestID:  reqID,
	}

	if isSafe && p.cacheEnabled {
		if raw, encodeErr := json.Marshal(result); encodeErr == nil {
			if setErr := p.cache.Set(ctx, namespace, cacheKey, raw, 0); setErr != nil {
				p.logger.Warn("cache_write_failed", map[string]interface{}{"error": setErr.Error()})
			}
		}
	}

	p.emitDetectionMetrics(detections, status)
	p.metrics.IncrementCounterWithLabels("validation_total", 1, map[string]string{
		"status":    string(status),
		"policy_id": policyID,
		"cache":     "miss",
	})
	p.metrics.RecordHistogram("validation_duration_seconds", time.Since(t0).Seconds(), map[string]string{"policy_id": policyID})

	return result
}

// fanOut runs regex and semantic detection concurrently, isolating
// each detector's failure so a panic or error in one never loses the
// other's detections.
func (p *Pipeline) fanOut(ctx context.Context, prompt string) ([]core.Detection, []core.Detection) {
	var (
		wg                 sync.WaitGroup
		regexDetections    []core.Detection
		semanticDetections []core.Detection
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		defer p.recoverDetector("regex")
		_, span := observability.StartSpan(ctx, "pipeline.detect.regex")
		defer span.End()
		regexDetections = p.regex.Check(prompt)
	}()

	go func() {
		defer wg.Done()
		defer p.recoverDetector("semantic")
		ctx, span := observability.StartSpan(ctx, "pipeline.detect.semantic")
		defer span.End()
		semanticDetections = p.semantic.Check(ctx, prompt)
	}()

	wg.Wait()
	return regexDetections, semanticDetections
}

func (p *Pipeline) recoverDetector(name string) {
	if r := recover(); r != nil {
		p.logger.Error("detector_panicked", map[string]interface{}{"detector": name, "recovered": fmt.Sprint(r)})
		p.metrics.IncrementCounterWithLabels("detector_failures_total", 1, map[string]string{"detector": name})
	}
}

func (p *Pipeline) errorResult(reqID, policyID, message string, t0 time.Time) core.ValidationResult {
	p.metrics.IncrementCounterWithLabels("validation_total", 1, map[string]string{
		"status":    string(core.StatusError),
		"policy_id": policyID,
		"cache":     "miss",
	})
	return core.ValidationResult{
		Status:    core.StatusError,
		IsSafe:    false,
		PolicyID:  policyID,
		LatencyMs: latencyMs(t0),
		Message:   message,
		RequestID: reqID,
	}
}

func (p *Pipeline) emitDetectionMetrics(detections []core.Detection, status core.Status) {
	for _, d := range detections {
		p.metrics.IncrementCounterWithLabels("detections_total", 1, map[string]string{
			"kind":     string(d.Kind),
			"severity": string(d.Severity),
			"blocked":  strconv.FormatBool(status == core.StatusBlocked),
		})
	}
}

// BatchValidate runs every prompt concurrently; a single item's
// failure never aborts the batch; it only ever produces a per-item
// ERROR result, since Validate itself never returns a Go error.
func (p *Pipeline) BatchValidate(ctx context.Context, prompts []core.Prompt) []core.ValidationResult {
	results := make([]core.ValidationResult, len(prompts))

	var wg sync.WaitGroup
	wg.Add(len(prompts))
	for i, prompt := range prompts {
		i, prompt := i, prompt
		go func() {
			defer wg.Done()
			results[i] = p.Validate(ctx, prompt)
		}()
	}
	wg.Wait()
	return results
}

// Reload refreshes the regex and policy snapshots. The semantic
// corpus is managed separately through addPattern/removePattern.
func (p *Pipeline) Reload() error {
	if err := p.regex.Reload(); err != nil {
		return err
	}
	return p.policy.Reload()
}

func decodeResult(raw []byte) (core.ValidationResult, error) {
	var result core.ValidationResult
	err := json.Unmarshal(raw, &result)
	return result, err
}

func latencyMs(t0 time.Time) float64 {
	return float64(time.Since(t0).Microseconds()) / 1000.0
}

func policyErrorMessage(err error) string {
	if pe, ok := err.(*core.PolicyError); ok {
		return pe.Error()
	}
	return "internal policy error"
}
