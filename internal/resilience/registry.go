// SPDX-License-Identifier: MIT

package resilience

import "sync"

// Registry is the named lookup of circuit breakers. It is initialized at
// startup; request handlers look breakers up and never construct them.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
}

// NewRegistry creates a registry that applies cfg to breakers it creates.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: cfg,
	}
}

// Get returns the breaker registered under name, creating it on first use.
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
	cb = New(name, r.defaults)
	r.breakers[name] = cb
	return cb
}

// Lookup returns the breaker under name without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Register installs a pre-configured breaker, replacing any previous entry.
func (r *Registry) Register(name string, cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[name] = cb
}
