package resilience

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// BreakerStatus is the admin view of one breaker
type BreakerStatus struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

// CircuitBreakerRegistry lazily creates one breaker per name from a shared
// template configuration
type CircuitBreakerRegistry struct {
	breakers      map[string]*CircuitBreaker
	template      CircuitBreakerConfig
	onStateChange StateChangeFunc
	logger        *zap.Logger
	mutex         sync.RWMutex
}

// NewCircuitBreakerRegistry creates a new registry. template's Name is
// replaced by each breaker's own name.
func NewCircuitBreakerRegistry(template *CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerRegistry {
	if template == nil {
		template = DefaultCircuitBreakerConfig("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		template: *template,
		logger:   logger,
	}
}

// OnStateChange sets the callback attached to breakers created afterwards
func (r *CircuitBreakerRegistry) OnStateChange(fn StateChangeFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.onStateChange = fn
}

// Get returns a circuit breaker by name, creating one if it doesn't exist
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mutex.RLock()
	if cb, ok := r.breakers[name]; ok {
		r.mutex.RUnlock()
		return cb
	}
	r.mutex.RUnlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg := r.template
	cfg.Name = name
	cb := NewCircuitBreaker(&cfg, r.logger)
	if r.onStateChange != nil {
		cb.OnStateChange(r.onStateChange)
	}
	r.breakers[name] = cb

	r.logger.Debug("Created circuit breaker", zap.String("name", name))
	return cb
}

// RemovePrefix drops every breaker whose name starts with prefix and
// returns how many were removed
func (r *CircuitBreakerRegistry) RemovePrefix(prefix string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	removed := 0
	for name := range r.breakers {
		if strings.HasPrefix(name, prefix) {
			delete(r.breakers, name)
			removed++
		}
	}
	return removed
}

// Statuses returns every breaker's state sorted by name
func (r *CircuitBreakerRegistry) Statuses() []BreakerStatus {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	out := make([]BreakerStatus, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, BreakerStatus{
			Name:   cb.Name(),
			State:  cb.State().String(),
			Counts: cb.Counts(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset resets all circuit breakers
func (r *CircuitBreakerRegistry) Reset() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
