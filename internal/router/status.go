package router

import (
	"time"

	"github.com/mkarlsen/consensus-router/internal/audit"
	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/circuitbreaker"
	"github.com/mkarlsen/consensus-router/internal/metrics"
)

// BackendView is the merged per-backend line on the operator surface.
type BackendView struct {
	metrics.BackendStatus
	Score             float64 `json:"score"`
	CircuitState      string  `json:"circuit_state"`
	AutoDisabled      bool    `json:"auto_disabled"`
	AutoDisableReason string  `json:"auto_disable_reason,omitempty"`
}

// Status is the full operator snapshot.
type Status struct {
	GeneratedAt    time.Time                          `json:"generated_at"`
	Backends       map[string]BackendView             `json:"backends"`
	Circuits       map[string]circuitbreaker.Snapshot `json:"circuits"`
	RecentFallback []audit.Event                      `json:"recent_events"`
}

// Status assembles the operator view: per-backend health, score and
// circuit state plus the recent audit events.
func (r *Router) Status() Status {
	circuits := r.circuits.StatusSnapshot()
	backends := make(map[string]BackendView)

	for key, bs := range r.tracker.StatusAll() {
		ref, err := backend.ParseKey(key)
		if err != nil {
			continue
		}

		view := BackendView{
			BackendStatus: bs,
			Score:         r.tracker.Score(ref, false, false),
			CircuitState:  circuitbreaker.StateClosed.String(),
		}
		if cs, ok := circuits[key]; ok {
			view.CircuitState = cs.State
		}
		view.AutoDisabled, view.AutoDisableReason = r.IsAutoDisabled(ref)
		backends[key] = view
	}

	status := Status{
		GeneratedAt: r.now(),
		Backends:    backends,
		Circuits:    circuits,
	}
	if r.trail != nil {
		status.RecentFallback = r.trail.Recent()
	}
	return status
}
