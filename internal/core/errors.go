package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError means the pipeline itself failed to produce any
// result (both detectors raised, policy crashed, or the deadline
// expired). It surfaces as status=ERROR.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps cause (which may be nil) with a human
// message safe to surface to callers.
func NewValidationError(reason string, cause error) *ValidationError {
	return &ValidationError{Reason: reason, Err: errors.WithStack(cause)}
}

// DetectionError means a single detector failed; the pipeline catches
// it, contributes an empty detection list for that branch, and
// continues.
type DetectionError struct {
	Detector string
	Err      error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detector %q failed: %v", e.Detector, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

func NewDetectionError(detector string, cause error) *DetectionError {
	return &DetectionError{Detector: detector, Err: errors.WithStack(cause)}
}

// PolicyError means the requested policy is unknown or disabled. It's
// fatal to the request (unlike DetectionError).
type PolicyError struct {
	PolicyID string
	Reason   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %q: %s", e.PolicyID, e.Reason)
}

func NewPolicyError(policyID, reason string) *PolicyError {
	return &PolicyError{PolicyID: policyID, Reason: reason}
}

// CacheError is an L2 cache failure. It's always swallowed by the
// cache manager; L1 keeps operating and the error is only surfaced for
// logging/metrics.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func NewCacheError(op string, cause error) *CacheError {
	return &CacheError{Op: op, Err: errors.WithStack(cause)}
}

// EmbeddingError is raised by an Embedder implementation. At the
// semantic-detector boundary it's converted into a DetectionError.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with model %q failed: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func NewEmbeddingError(model string, cause error) *EmbeddingError {
	return &EmbeddingError{Model: model, Err: errors.WithStack(cause)}
}

// CircuitBreakerError wraps resilience.ErrOpen when a breaker protecting
// a detector's external dependency is open; at the detector boundary it
// becomes a DetectionError so the pipeline keeps the other branch's
// detections.
type CircuitBreakerError struct {
	Name string
	Err  error
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %q: %v", e.Name, e.Err)
}

func (e *CircuitBreakerError) Unwrap() error { return e.Err }

func NewCircuitBreakerError(name string, cause error) *CircuitBreakerError {
	return &CircuitBreakerError{Name: name, Err: cause}
}
