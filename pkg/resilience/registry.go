// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
)

// Registry owns one circuit breaker per guarded dependency. Breakers are
// created on first use with the registry defaults and live for the process
// lifetime.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults BreakerConfig
	emitter  core.EventEmitter
	now      func() time.Time
}

// RegistryOption configures a registry.
type RegistryOption func(*Registry)

// WithRegistryEmitter sets the emitter passed to every created breaker.
func WithRegistryEmitter(emitter core.EventEmitter) RegistryOption {
	return func(r *Registry) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithRegistryClock injects a clock for deterministic tests.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a breaker registry with the given per-breaker defaults.
func NewRegistry(defaults BreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		emitter:  core.NoopEventEmitter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for the named dependency, creating it if needed.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config, WithEmitter(r.emitter), WithClock(r.now))
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the named dependency's breaker.
func (r *Registry) Execute(ctx context.Context, name string, fn func() error) error {
	return r.Get(name).Call(ctx, fn)
}

// Status returns a snapshot of every breaker, sorted by name.
func (r *Registry) Status() []BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BreakerStatus, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
