package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mkarlsen/consensus-router/internal/backend"
)

// Health gate defaults per the tracker's callers.
const (
	DefaultMinSuccessRate      = 0.8
	DefaultRecentFailureWindow = time.Hour
)

// Tracker owns the per-backend rolling statistics. One instance per
// process, injected into every consumer; all mutation is serialized
// through its lock.
type Tracker struct {
	mutex  sync.RWMutex
	stats  map[backend.Ref]*backendStats
	logger *slog.Logger
	now    func() time.Time
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		stats:  make(map[backend.Ref]*backendStats),
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the tracker's time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mutex.Lock()
	t.now = now
	t.mutex.Unlock()
}

// RecordSuccess folds one successful call into the backend's statistics.
// Latency and cost are sanitized before accumulation.
func (t *Tracker) RecordSuccess(ref backend.Ref, latencyMs, cost float64, taskType string) {
	latencyMs, clamped := sanitize(latencyMs)
	if clamped {
		t.logger.Warn("clamped invalid latency sample",
			slog.String("backend", ref.Key()))
	}
	cost, clamped = sanitize(cost)
	if clamped {
		t.logger.Warn("clamped invalid cost sample",
			slog.String("backend", ref.Key()))
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.statsFor(ref).recordSuccess(latencyMs, cost, taskType, t.now())
}

// RecordFailure folds one failed call into the backend's statistics.
func (t *Tracker) RecordFailure(ref backend.Ref, errMsg, taskType string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.statsFor(ref).recordFailure(errMsg, taskType, t.now())
}

// IsHealthy reports whether the backend passes both health gates. Unseen
// backends are presumed healthy.
func (t *Tracker) IsHealthy(ref backend.Ref, minSuccessRate float64, recentWindow time.Duration) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s, ok := t.stats[ref]
	if !ok {
		return true
	}
	return s.isHealthy(minSuccessRate, recentWindow, t.now())
}

// Score ranks the backend for selection; see backendStats.score.
func (t *Tracker) Score(ref backend.Ref, preferCost, preferSpeed bool) float64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s, ok := t.stats[ref]
	if !ok {
		return 0.5
	}
	return s.score(preferCost, preferSpeed, t.now())
}

// SuccessRate returns the backend's lifetime success rate (1.0 unseen).
func (t *Tracker) SuccessRate(ref backend.Ref) float64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s, ok := t.stats[ref]
	if !ok {
		return 1.0
	}
	return s.successRate()
}

// TotalRequests returns how many outcomes have been recorded for ref.
func (t *Tracker) TotalRequests(ref backend.Ref) int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s, ok := t.stats[ref]
	if !ok {
		return 0
	}
	return s.totalRequests()
}

// LastFailure returns when ref last failed; ok is false if it never has.
func (t *Tracker) LastFailure(ref backend.Ref) (time.Time, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s, ok := t.stats[ref]
	if !ok || s.lastFailure.IsZero() {
		return time.Time{}, false
	}
	return s.lastFailure, true
}

// Refs returns every backend the tracker has seen.
func (t *Tracker) Refs() []backend.Ref {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	refs := make([]backend.Ref, 0, len(t.stats))
	for ref := range t.stats {
		refs = append(refs, ref)
	}
	return refs
}

// HealthyRefs returns every seen backend currently passing the default
// health gates.
func (t *Tracker) HealthyRefs() []backend.Ref {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	now := t.now()
	refs := make([]backend.Ref, 0, len(t.stats))
	for ref, s := range t.stats {
		if s.isHealthy(DefaultMinSuccessRate, DefaultRecentFailureWindow, now) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Reset drops the statistics for one backend. Operator command.
func (t *Tracker) Reset(ref backend.Ref) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.stats, ref)
}

// ResetAll drops all statistics. Operator command.
func (t *Tracker) ResetAll() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.stats = make(map[backend.Ref]*backendStats)
}

// statsFor must be called with the write lock held.
func (t *Tracker) statsFor(ref backend.Ref) *backendStats {
	s, ok := t.stats[ref]
	if !ok {
		s = newBackendStats()
		t.stats[ref] = s
	}
	return s
}
