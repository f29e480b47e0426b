// Package resilience provides the shared failure-handling primitives used
// around flaky collaborators: a circuit breaker, a fixed-window rate
// limiter with a backpressure pause switch, an exponential-backoff retry
// wrapper, and a registry of per-operation-name singletons.
//
// Breaker and limiter state is process-wide and keyed by operation name;
// mutation is synchronized against concurrent callers of the same named
// operation, while different operations are independent. Multi-instance
// deployments would need an external shared store for this state.
package resilience
