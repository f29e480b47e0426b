package resilience

import "sync"

// Registry holds the process-wide circuit breakers and rate limiters,
// keyed by operation name. It is constructed once at startup and passed by
// reference to the components that need guarded execution; the same name
// always yields the same instance.
type Registry struct {
	breakerConfig BreakerConfig
	limiterConfig LimiterConfig
	onStateChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	limiters map[string]*RateLimiter
}

// NewRegistry creates an empty registry. onStateChange is attached to every
// breaker the registry creates; it may be nil.
func NewRegistry(breakerConfig BreakerConfig, limiterConfig LimiterConfig, onStateChange StateChangeFunc) *Registry {
	return &Registry{
		breakerConfig: breakerConfig,
		limiterConfig: limiterConfig,
		onStateChange: onStateChange,
		breakers:      make(map[string]*CircuitBreaker),
		limiters:      make(map[string]*RateLimiter),
	}
}

// Breaker returns the circuit breaker for the named operation, creating it
// on first use.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewCircuitBreaker(name, r.breakerConfig, r.onStateChange)
		r.breakers[name] = b
	}
	return b
}

// Limiter returns the rate limiter for the named operation, creating it on
// first use.
func (r *Registry) Limiter(name string) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[name]
	if !ok {
		l = NewRateLimiter(name, r.limiterConfig)
		r.limiters[name] = l
	}
	return l
}
