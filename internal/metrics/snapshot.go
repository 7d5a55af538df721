package metrics

import (
	"log/slog"
	"time"

	"github.com/mkarlsen/consensus-router/internal/backend"
)

// Snapshot is the serialized form of one backend's statistics.
type Snapshot struct {
	SuccessCount   int                   `json:"success_count"`
	FailureCount   int                   `json:"failure_count"`
	TotalLatencyMs float64               `json:"total_latency_ms"`
	TotalCost      float64               `json:"total_cost"`
	LastSuccess    *time.Time            `json:"last_success,omitempty"`
	LastFailure    *time.Time            `json:"last_failure,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
	RollingLatency []float64             `json:"rolling_latencies,omitempty"`
	RollingCost    []float64             `json:"rolling_costs,omitempty"`
	TaskTypes      map[string]taskCounts `json:"task_type_stats,omitempty"`
}

// BackendStatus is the derived, human-facing view served on the operator
// surface.
type BackendStatus struct {
	IsHealthy        bool    `json:"healthy"`
	SuccessCount     int     `json:"success_count"`
	FailureCount     int     `json:"failure_count"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	RollingLatencyMs float64 `json:"rolling_avg_latency_ms"`
	RollingCost      float64 `json:"rolling_avg_cost"`
	P50LatencyMs     float64 `json:"p50_latency_ms"`
	P95LatencyMs     float64 `json:"p95_latency_ms"`
	P99LatencyMs     float64 `json:"p99_latency_ms"`
	LastError        string  `json:"last_error,omitempty"`
}

// SnapshotAll captures every backend's statistics keyed by
// "provider/model" for persistence.
func (t *Tracker) SnapshotAll() map[string]Snapshot {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make(map[string]Snapshot, len(t.stats))
	for ref, s := range t.stats {
		out[ref.Key()] = snapshotOf(s)
	}
	return out
}

// Restore loads persisted statistics. Keys that fail to parse are
// skipped; absent fields keep their zero defaults.
func (t *Tracker) Restore(snapshots map[string]Snapshot) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for key, snap := range snapshots {
		ref, err := backend.ParseKey(key)
		if err != nil {
			t.logger.Warn("skipping malformed snapshot key",
				slog.String("key", key))
			continue
		}
		t.stats[ref] = statsFromSnapshot(snap)
	}
}

// StatusAll returns the derived view of every backend for display.
func (t *Tracker) StatusAll() map[string]BackendStatus {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	now := t.now()
	out := make(map[string]BackendStatus, len(t.stats))
	for ref, s := range t.stats {
		out[ref.Key()] = BackendStatus{
			IsHealthy:        s.isHealthy(DefaultMinSuccessRate, DefaultRecentFailureWindow, now),
			SuccessCount:     s.successCount,
			FailureCount:     s.failureCount,
			SuccessRate:      s.successRate(),
			AvgLatencyMs:     s.avgLatencyMs(),
			RollingLatencyMs: s.rollingAvgLatencyMs(),
			RollingCost:      s.rollingAvgCost(),
			P50LatencyMs:     s.latencyPercentile(0.50),
			P95LatencyMs:     s.latencyPercentile(0.95),
			P99LatencyMs:     s.latencyPercentile(0.99),
			LastError:        s.lastError,
		}
	}
	return out
}

func snapshotOf(s *backendStats) Snapshot {
	snap := Snapshot{
		SuccessCount:   s.successCount,
		FailureCount:   s.failureCount,
		TotalLatencyMs: s.totalLatencyMs,
		TotalCost:      s.totalCost,
		LastError:      s.lastError,
		RollingLatency: append([]float64(nil), s.rollingLatency...),
		RollingCost:    append([]float64(nil), s.rollingCost...),
	}
	if !s.lastSuccess.IsZero() {
		ts := s.lastSuccess
		snap.LastSuccess = &ts
	}
	if !s.lastFailure.IsZero() {
		ts := s.lastFailure
		snap.LastFailure = &ts
	}
	if len(s.taskTypes) > 0 {
		snap.TaskTypes = make(map[string]taskCounts, len(s.taskTypes))
		for task, tc := range s.taskTypes {
			snap.TaskTypes[task] = *tc
		}
	}
	return snap
}

func statsFromSnapshot(snap Snapshot) *backendStats {
	s := newBackendStats()
	s.successCount = snap.SuccessCount
	s.failureCount = snap.FailureCount
	s.totalLatencyMs = snap.TotalLatencyMs
	s.totalCost = snap.TotalCost
	s.lastError = snap.LastError
	if snap.LastSuccess != nil {
		s.lastSuccess = *snap.LastSuccess
	}
	if snap.LastFailure != nil {
		s.lastFailure = *snap.LastFailure
	}

	s.rollingLatency = append([]float64(nil), snap.RollingLatency...)
	if len(s.rollingLatency) > rollingWindow {
		s.rollingLatency = s.rollingLatency[len(s.rollingLatency)-rollingWindow:]
	}
	s.rollingCost = append([]float64(nil), snap.RollingCost...)
	if len(s.rollingCost) > rollingWindow {
		s.rollingCost = s.rollingCost[len(s.rollingCost)-rollingWindow:]
	}

	for task, tc := range snap.TaskTypes {
		counts := tc
		s.taskTypes[task] = &counts
	}
	return s
}
