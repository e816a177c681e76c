// Package resilience implements the circuit breaker the firewall core
// wraps around fallible external dependencies (the embedder, the
// vector index): a consecutive-failure threshold trips the breaker
// open, and a recovery timeout gates a single half-open probe.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/promptfirewall/firewall/pkg/observability"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned (or passed to a fallback) when a call is
// rejected because the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls when a breaker trips and how long it waits before
// probing again.
type Config struct {
	// FailureThreshold is the number of consecutive failures, while
	// CLOSED, that trips the breaker to OPEN.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays OPEN before a call
	// is allowed through as a HALF_OPEN probe.
	ResetTimeout time.Duration
	// ExpectedError, if non-nil, restricts which errors count as
	// failures; other errors propagate without affecting state. A nil
	// value counts every non-nil error returned by the wrapped call.
	ExpectedError func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// Snapshot is a point-in-time, read-only view of a breaker's state.
type Snapshot struct {
	Name             string
	State            State
	FailureCount     int
	FailureThreshold int
	LastFailureTime  time.Time
}

// CircuitBreaker wraps fallible calls and tracks CLOSED/OPEN/HALF_OPEN
// transitions: a failure counter drives CLOSED->OPEN, a recovery
// timeout drives OPEN->HALF_OPEN on the next call, and a single probe
// result drives HALF_OPEN back to CLOSED (success) or OPEN (failure).
// All state lives behind one mutex held only for the transition
// bookkeeping, never while fn runs.
type CircuitBreaker struct {
	name   string
	config Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time

	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a breaker in the CLOSED state.
func New(name string, config Config, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	return &CircuitBreaker{
		name:    name,
		config:  config.withDefaults(),
		state:   Closed,
		logger:  logger,
		metrics: metrics,
	}
}

// Call is the fn signature accepted by Execute.
type Call func(ctx context.Context) error

// Execute runs fn under the breaker's protection. If the breaker is
// OPEN and the reset timeout hasn't elapsed, fn is never called:
// fallback runs if provided, otherwise ErrOpen is returned. A call
// that's let through (CLOSED, or a single HALF_OPEN probe) updates
// state based on whether fn returned an error matching ExpectedError.
func (b *CircuitBreaker) Execute(ctx context.Context, fn Call, fallback Call) error {
	if !b.allow() {
		b.logger.Warn("circuit_open_request_rejected", map[string]interface{}{"name": b.name})
		b.metrics.IncrementCounterWithLabels("circuit_breaker_rejected_total", 1, map[string]string{"name": b.name})
		if fallback != nil {
			return fallback(ctx)
		}
		return ErrOpen
	}

	err := fn(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}

	if b.config.ExpectedError != nil && !b.config.ExpectedError(err) {
		// Unrelated error: propagate without affecting breaker state.
		return err
	}

	b.onFailure()
	if fallback != nil {
		return fallback(ctx)
	}
	return err
}

// allow reports whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the reset timeout has elapsed.
func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if time.Since(b.lastFailureTime) >= b.config.ResetTimeout {
			b.state = HalfOpen
			b.logger.Info("circuit_half_open_attempting_reset", map[string]interface{}{"name": b.name})
			return true
		}
		return false
	default:
		return false
	}
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.logger.Info("circuit_closed", map[string]interface{}{"name": b.name})
	}
	b.state = Closed
	b.failureCount = 0
}

func (b *CircuitBreaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()
	b.metrics.IncrementCounterWithLabels("circuit_breaker_failures_total", 1, map[string]string{"name": b.name})

	if b.state == HalfOpen {
		b.state = Open
		b.logger.Warn("circuit_opened", map[string]interface{}{"name": b.name, "from": "half_open"})
		return
	}

	b.failureCount++
	if b.failureCount >= b.config.FailureThreshold {
		b.state = Open
		b.logger.Warn("circuit_opened", map[string]interface{}{"name": b.name, "failure_count": b.failureCount})
	}
}

// State returns the current state (racily; intended for observability,
// not for control flow).
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to CLOSED with a zeroed failure count.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.logger.Info("circuit_manually_reset", map[string]interface{}{"name": b.name})
}

// Snapshot returns a copy of the breaker's current state for the registry's GetAllStates.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.config.FailureThreshold,
		LastFailureTime:  b.lastFailureTime,
	}
}
