package metrics

import (
	"math"
	"sort"
	"time"
)

// rollingWindow bounds the per-backend latency and cost ring buffers.
const rollingWindow = 20

// minScoreSamples is how many observations a backend needs before scoring
// moves off the neutral default. Below this the backend is neither
// preferred nor excluded, which keeps exploration possible.
const minScoreSamples = 3

// taskCounts tracks per-task-type outcomes for one backend.
type taskCounts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// backendStats is the mutable per-backend record. All access goes through
// the Tracker, which holds the lock.
type backendStats struct {
	successCount   int
	failureCount   int
	totalLatencyMs float64
	totalCost      float64
	lastSuccess    time.Time
	lastFailure    time.Time
	lastError      string
	rollingLatency []float64
	rollingCost    []float64
	taskTypes      map[string]*taskCounts
}

func newBackendStats() *backendStats {
	return &backendStats{
		taskTypes: make(map[string]*taskCounts),
	}
}

func (s *backendStats) recordSuccess(latencyMs, cost float64, taskType string, now time.Time) {
	s.successCount++
	s.totalLatencyMs += latencyMs
	s.totalCost += cost
	s.lastSuccess = now

	s.rollingLatency = append(s.rollingLatency, latencyMs)
	if len(s.rollingLatency) > rollingWindow {
		s.rollingLatency = s.rollingLatency[1:]
	}
	s.rollingCost = append(s.rollingCost, cost)
	if len(s.rollingCost) > rollingWindow {
		s.rollingCost = s.rollingCost[1:]
	}

	if taskType != "" {
		s.taskCountsFor(taskType).Success++
	}
}

func (s *backendStats) recordFailure(errMsg, taskType string, now time.Time) {
	s.failureCount++
	s.lastFailure = now
	s.lastError = errMsg

	if taskType != "" {
		s.taskCountsFor(taskType).Failure++
	}
}

func (s *backendStats) taskCountsFor(taskType string) *taskCounts {
	tc, ok := s.taskTypes[taskType]
	if !ok {
		tc = &taskCounts{}
		s.taskTypes[taskType] = tc
	}
	return tc
}

func (s *backendStats) totalRequests() int {
	return s.successCount + s.failureCount
}

// successRate defaults to 1.0 for unseen backends so new candidates are
// not penalized before they have any history.
func (s *backendStats) successRate() float64 {
	total := s.totalRequests()
	if total == 0 {
		return 1.0
	}
	return float64(s.successCount) / float64(total)
}

func (s *backendStats) avgLatencyMs() float64 {
	if s.successCount == 0 {
		return 0
	}
	return s.totalLatencyMs / float64(s.successCount)
}

func (s *backendStats) avgCost() float64 {
	if s.successCount == 0 {
		return 0
	}
	return s.totalCost / float64(s.successCount)
}

// rollingAvgLatencyMs falls back to the lifetime average when the window
// is empty (e.g. right after a snapshot from an older version loaded).
func (s *backendStats) rollingAvgLatencyMs() float64 {
	if len(s.rollingLatency) == 0 {
		return s.avgLatencyMs()
	}
	return mean(s.rollingLatency)
}

func (s *backendStats) rollingAvgCost() float64 {
	if len(s.rollingCost) == 0 {
		return s.avgCost()
	}
	return mean(s.rollingCost)
}

func (s *backendStats) latencyPercentile(p float64) float64 {
	return percentile(s.rollingLatency, p)
}

// isHealthy applies the two health gates: a sustained low success rate
// once enough samples exist, and a failure more recent than the last
// success inside the recent-failure window.
func (s *backendStats) isHealthy(minSuccessRate float64, recentWindow time.Duration, now time.Time) bool {
	if s.totalRequests() >= 5 && s.successRate() < minSuccessRate {
		return false
	}
	if !s.lastFailure.IsZero() && s.lastFailure.After(s.lastSuccess) {
		if now.Sub(s.lastFailure) < recentWindow {
			return false
		}
	}
	return true
}

// score ranks a backend for selection. Latency and cost enter on a log
// scale so a single outlier cannot dominate the comparison, and the
// preference flags shift emphasis additively.
func (s *backendStats) score(preferCost, preferSpeed bool, now time.Time) float64 {
	if s.totalRequests() < minScoreSamples {
		return 0.5
	}

	score := s.successRate()

	if lat := s.rollingAvgLatencyMs(); lat > 0 {
		latencySec := lat / 1000.0
		weight := 0.15
		if preferSpeed {
			weight = 0.30
		}
		score += weight * (1.0 / (1.0 + math.Log10(latencySec+1)))
	}

	if cost := s.rollingAvgCost(); cost > 0 {
		weight := 0.15
		if preferCost {
			weight = 0.30
		}
		score += weight * (1.0 / (1.0 + math.Log10(cost*100+1)))
	}

	if !s.lastFailure.IsZero() {
		since := now.Sub(s.lastFailure)
		switch {
		case since < time.Hour:
			score *= 0.5
		case since < 6*time.Hour:
			score *= 0.8
		}
	}

	return score
}

// sanitize clamps non-finite or negative measurements to zero so one
// malformed report cannot poison the aggregates. Returns the clamped
// value and whether clamping happened.
func sanitize(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return v, false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile computes a linear-interpolated percentile over an unsorted
// sample. p is in [0,1].
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}

	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
