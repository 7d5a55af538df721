package router

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/mkarlsen/consensus-router/internal/audit"
	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/circuitbreaker"
	"github.com/mkarlsen/consensus-router/internal/metrics"
)

// Persister flushes the process state snapshot after a mutation. Save
// failures are logged, never surfaced to callers.
type Persister interface {
	Persist() error
}

// Config tunes selection behavior. Zero values fall back to the defaults
// below via Normalize.
type Config struct {
	// ExplorationRate is the probability of deliberately returning a
	// non-top-scored candidate, clamped to [0,1].
	ExplorationRate float64

	// Auto-disable: a backend with at least MinRequestsForAutoDisable
	// samples whose failure rate reaches AutoDisableFailureRate is
	// excluded for AutoDisableCooldown measured from its last failure.
	MinRequestsForAutoDisable int
	AutoDisableFailureRate    float64
	AutoDisableCooldown       time.Duration

	// TaskPreferences seeds the candidate set per task type.
	TaskPreferences map[string][]backend.Ref

	// FallbackChain is walked in order when the primary choice fails or
	// no scored candidate survives filtering.
	FallbackChain []backend.Ref

	// LastResort is returned when even the fallback chain is empty.
	LastResort backend.Ref
}

const (
	defaultExplorationRate    = 0.10
	defaultMinAutoDisableReqs = 5
	defaultAutoDisableRate    = 0.5
	defaultAutoDisableCool    = time.Hour
)

// Normalize fills defaults and clamps the exploration rate.
func (c Config) Normalize() Config {
	if c.ExplorationRate == 0 {
		c.ExplorationRate = defaultExplorationRate
	}
	if c.ExplorationRate < 0 {
		c.ExplorationRate = 0
	}
	if c.ExplorationRate > 1 {
		c.ExplorationRate = 1
	}
	if c.MinRequestsForAutoDisable == 0 {
		c.MinRequestsForAutoDisable = defaultMinAutoDisableReqs
	}
	if c.AutoDisableFailureRate == 0 {
		c.AutoDisableFailureRate = defaultAutoDisableRate
	}
	if c.AutoDisableCooldown == 0 {
		c.AutoDisableCooldown = defaultAutoDisableCool
	}
	if c.LastResort == (backend.Ref{}) {
		c.LastResort = backend.Ref{Provider: "openai", Model: "gpt-4o-mini"}
	}
	return c
}

// Router picks the best backend for each request from rolling metrics,
// circuit state and the configured fallback chain. Selection never fails:
// with nothing healthy left it degrades to the fallback chain and finally
// to a hard-coded last resort, because callers must always receive
// something to attempt.
type Router struct {
	cfg      Config
	circuits *circuitbreaker.Registry
	tracker  *metrics.Tracker
	trail    *audit.Trail
	saver    Persister
	logger   *slog.Logger

	now     func() time.Time
	randF64 func() float64
	randInt func(n int) int
}

func New(
	cfg Config,
	circuits *circuitbreaker.Registry,
	tracker *metrics.Tracker,
	trail *audit.Trail,
	saver Persister,
	logger *slog.Logger,
) *Router {
	return &Router{
		cfg:      cfg.Normalize(),
		circuits: circuits,
		tracker:  tracker,
		trail:    trail,
		saver:    saver,
		logger:   logger,
		now:      time.Now,
		randF64:  rand.Float64,
		randInt:  rand.Intn,
	}
}

// SetClock replaces the router's time source. Test hook.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// SetRandom replaces the router's randomness sources. Test hook.
func (r *Router) SetRandom(f64 func() float64, intn func(int) int) {
	r.randF64 = f64
	r.randInt = intn
}

// SelectBackend returns the backend to try for a task. The candidate set
// is the task preference table, every backend whose metrics look healthy,
// and the fallback chain; excluded, circuit-unavailable and auto-disabled
// pairs are removed. Candidates are ranked by score; with probability
// ExplorationRate (unless forceExploit) a uniformly random non-best
// candidate is returned instead, which keeps weaker backends' health data
// fresh.
func (r *Router) SelectBackend(taskType string, preferCost, preferSpeed bool, exclude map[backend.Ref]bool, forceExploit bool) backend.Ref {
	candidates := r.candidates(taskType, exclude)

	if len(candidates) == 0 {
		chosen := r.degrade(taskType)
		r.logger.Warn("no viable candidate, degrading",
			slog.String("task_type", taskType),
			slog.String("backend", chosen.Key()))
		return chosen
	}

	scored := make([]scoredRef, 0, len(candidates))
	for _, ref := range candidates {
		scored = append(scored, scoredRef{
			ref:   ref,
			score: r.tracker.Score(ref, preferCost, preferSpeed),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	// Exploration picks uniformly among all non-best candidates; a
	// near-best and a terrible candidate are equally likely on purpose,
	// to maximize diversity of fresh health data.
	if !forceExploit && len(scored) > 1 && r.randF64() < r.cfg.ExplorationRate {
		pick := scored[1+r.randInt(len(scored)-1)]
		r.logger.Debug("exploring non-best candidate",
			slog.String("backend", pick.ref.Key()),
			slog.Float64("score", pick.score))
		return pick.ref
	}

	best := scored[0]
	r.logger.Debug("selected backend",
		slog.String("task_type", taskType),
		slog.String("backend", best.ref.Key()),
		slog.Float64("score", best.score),
		slog.Int("candidates", len(scored)))
	return best.ref
}

// RecordResult reports a call outcome back into metrics and the circuit
// registry together, then persists the snapshot.
func (r *Router) RecordResult(ref backend.Ref, success bool, latencyMs, cost float64, errMsg, taskType string) {
	if success {
		r.tracker.RecordSuccess(ref, latencyMs, cost, taskType)
		r.circuits.RecordSuccess(ref)
	} else {
		r.tracker.RecordFailure(ref, errMsg, taskType)
		r.circuits.RecordFailure(ref, errMsg)
	}
	r.persist()
}

// IsAutoDisabled reports whether the backend's sustained failure rate has
// temporarily excluded it. This is rate-based and slower-moving than the
// circuit breaker, which reacts to consecutive failures; both gates apply.
func (r *Router) IsAutoDisabled(ref backend.Ref) (bool, string) {
	total := r.tracker.TotalRequests(ref)
	if total < r.cfg.MinRequestsForAutoDisable {
		return false, ""
	}

	failureRate := 1.0 - r.tracker.SuccessRate(ref)
	if failureRate < r.cfg.AutoDisableFailureRate {
		return false, ""
	}

	lastFailure, ok := r.tracker.LastFailure(ref)
	if !ok {
		return false, ""
	}
	if r.now().Sub(lastFailure) >= r.cfg.AutoDisableCooldown {
		// Cooldown elapsed, eligible again.
		return false, ""
	}

	return true, fmt.Sprintf("failure rate %.0f%% over %d requests", failureRate*100, total)
}

// GetFallback walks the fallback chain for a replacement after a failed
// call. The failed pair is always skipped, as are pairs whose circuit is
// unavailable or whose metrics look unhealthy. ok is false when the chain
// is exhausted.
func (r *Router) GetFallback(failed backend.Ref, reason string) (backend.Ref, bool) {
	for _, ref := range r.cfg.FallbackChain {
		if ref == failed {
			continue
		}
		if !r.circuits.IsAvailable(ref) {
			continue
		}
		if !r.tracker.IsHealthy(ref, metrics.DefaultMinSuccessRate, metrics.DefaultRecentFailureWindow) {
			continue
		}

		r.emit(audit.Event{
			Type:    audit.EventFallback,
			Backend: ref.Key(),
			Reason:  fmt.Sprintf("%s failed: %s", failed.Key(), reason),
		})
		r.logger.Info("falling back",
			slog.String("from", failed.Key()),
			slog.String("to", ref.Key()),
			slog.String("reason", reason))
		return ref, true
	}

	r.logger.Warn("fallback chain exhausted",
		slog.String("failed", failed.Key()),
		slog.String("reason", reason))
	return backend.Ref{}, false
}

// Reset clears one backend's circuit and metrics. Operator command.
func (r *Router) Reset(ref backend.Ref) {
	r.circuits.Reset(ref)
	r.tracker.Reset(ref)
	r.emit(audit.Event{Type: audit.EventReset, Backend: ref.Key()})
	r.persist()
}

// ResetAll clears every circuit and all metrics. Operator command.
func (r *Router) ResetAll() {
	r.circuits.ResetAll()
	r.tracker.ResetAll()
	r.emit(audit.Event{Type: audit.EventReset, Reason: "reset all"})
	r.persist()
}

type scoredRef struct {
	ref   backend.Ref
	score float64
}

// candidates builds the deduplicated, filtered candidate set.
func (r *Router) candidates(taskType string, exclude map[backend.Ref]bool) []backend.Ref {
	seen := make(map[backend.Ref]bool)
	var out []backend.Ref

	add := func(ref backend.Ref) {
		if seen[ref] {
			return
		}
		seen[ref] = true

		if exclude[ref] {
			return
		}
		if !r.circuits.IsAvailable(ref) {
			return
		}
		if disabled, _ := r.IsAutoDisabled(ref); disabled {
			return
		}
		out = append(out, ref)
	}

	for _, ref := range r.cfg.TaskPreferences[taskType] {
		add(ref)
	}
	for _, ref := range r.tracker.HealthyRefs() {
		add(ref)
	}
	for _, ref := range r.cfg.FallbackChain {
		add(ref)
	}

	return out
}

// degrade picks the least-bad option when filtering removed everything:
// the first fallback entry that is at least circuit-available and not
// auto-disabled, else the first entry unconditionally (attempting beats
// refusing), else the hard-coded last resort.
func (r *Router) degrade(taskType string) backend.Ref {
	for _, ref := range r.cfg.FallbackChain {
		if !r.circuits.IsAvailable(ref) {
			continue
		}
		if disabled, _ := r.IsAutoDisabled(ref); disabled {
			continue
		}
		return ref
	}

	if len(r.cfg.FallbackChain) > 0 {
		return r.cfg.FallbackChain[0]
	}

	return r.cfg.LastResort
}

func (r *Router) emit(event audit.Event) {
	if r.trail == nil {
		return
	}
	r.trail.Emit(event)
}

func (r *Router) persist() {
	if r.saver == nil {
		return
	}
	if err := r.saver.Persist(); err != nil {
		r.logger.Error("failed to persist state snapshot", slog.Any("err", err))
	}
}
