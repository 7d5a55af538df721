// Package metrics tracks rolling per-backend performance statistics.
//
// For every (provider, model) pair the Tracker keeps success and failure
// counts, lifetime latency and cost totals, bounded rolling windows of the
// last 20 latency and cost samples, and per-task-type outcome counts.
// Derived values (success rate, rolling averages, interpolated P50/P95/P99
// latency) are computed on read, never stored.
//
// All inputs are sanitized: a non-finite or negative latency or cost is
// clamped to zero with a warning so one malformed report cannot corrupt
// the aggregates.
//
// The tracker also answers the two questions selection needs: IsHealthy
// (success-rate gate plus a recent-failure gate) and Score, a multi-factor
// ranking with log-scale latency and cost normalization and time-decayed
// failure penalties.
package metrics
