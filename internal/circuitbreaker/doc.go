// Package circuitbreaker implements the circuit breaker pattern for
// backend failover.
//
// A circuit breaker prevents cascading failures by temporarily blocking
// requests to failing backends. It has three states:
//
//   - CLOSED: Normal operation, requests pass through
//   - OPEN: Backend failing, requests blocked
//   - HALF_OPEN: Testing if backend recovered
//
// Recovery is lazy: an OPEN breaker moves to HALF_OPEN inside IsAvailable
// once the recovery timeout has elapsed, so no background timer is needed.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 60*time.Second)
//	ref := backend.Ref{Provider: "acme", Model: "large"}
//	if registry.IsAvailable(ref) {
//	    // Make request...
//	    if err != nil {
//	        registry.RecordFailure(ref, err.Error())
//	    } else {
//	        registry.RecordSuccess(ref)
//	    }
//	}
package circuitbreaker
