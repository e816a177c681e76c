package resilience

import (
	"sync"

	"github.com/promptfirewall/firewall/pkg/observability"
)

// Registry maps names to lazily created circuit breakers, one per
// named external dependency.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewRegistry creates an empty registry.
func NewRegistry(logger observability.Logger, metrics observability.MetricsClient) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
		metrics:  metrics,
	}
}

// GetOrCreate returns the named breaker, creating it with config on
// first use. Subsequent calls for the same name ignore config and
// return the existing breaker.
func (r *Registry) GetOrCreate(name string, config Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, config, r.logger, r.metrics)
	r.breakers[name] = b
	return b
}

// GetAllStates returns a snapshot of every registered breaker, keyed
// by name.
func (r *Registry) GetAllStates() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// ResetAll forces every registered breaker back to CLOSED.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
