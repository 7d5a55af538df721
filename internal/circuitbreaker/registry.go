package circuitbreaker

import (
	"sync"
	"time"

	"github.com/mkarlsen/consensus-router/internal/backend"
)

// Registry owns every breaker in the process, keyed by backend Ref.
// Breakers are created lazily with the registry's default thresholds and
// only ever reached through the registry's accessors.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[backend.Ref]*CircuitBreaker
	threshold int
	timeout   time.Duration
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[backend.Ref]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

// GetOrCreate returns the breaker for ref, creating it on first reference.
func (r *Registry) GetOrCreate(ref backend.Ref) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[ref]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[ref]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	r.breakers[ref] = cb
	return cb
}

// IsAvailable is the pass-through availability gate for one backend.
func (r *Registry) IsAvailable(ref backend.Ref) bool {
	return r.GetOrCreate(ref).IsAvailable()
}

// RecordSuccess is the pass-through success hook for one backend.
func (r *Registry) RecordSuccess(ref backend.Ref) {
	r.GetOrCreate(ref).RecordSuccess()
}

// RecordFailure is the pass-through failure hook for one backend.
func (r *Registry) RecordFailure(ref backend.Ref, reason string) {
	r.GetOrCreate(ref).RecordFailure(reason)
}

// StatusSnapshot returns the serialized state of every breaker, keyed by
// "provider/model", for the operator surface and the persisted snapshot.
func (r *Registry) StatusSnapshot() map[string]Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snap := make(map[string]Snapshot, len(r.breakers))
	for ref, cb := range r.breakers {
		snap[ref.Key()] = cb.Snapshot()
	}
	return snap
}

// Restore recreates breakers from a persisted snapshot. Keys that fail to
// parse are skipped; load is best-effort.
func (r *Registry) Restore(snapshots map[string]Snapshot) {
	for key, snap := range snapshots {
		ref, err := backend.ParseKey(key)
		if err != nil {
			continue
		}
		r.GetOrCreate(ref).Restore(snap)
	}
}

// Reset forces one breaker back to CLOSED. No-op if the backend has never
// been seen.
func (r *Registry) Reset(ref backend.Ref) {
	r.mutex.RLock()
	cb, exists := r.breakers[ref]
	r.mutex.RUnlock()

	if exists {
		cb.Reset()
	}
}

// ResetAll forces every breaker back to CLOSED with zeroed counters.
func (r *Registry) ResetAll() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
