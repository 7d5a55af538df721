// Package consensus answers one query with several backends at once.
//
// The engine selects 2-3 credentialed backends under a budget, queries
// them in parallel with individual timeouts, scores how much their
// answers agree (a judge call when available, a deterministic word-set
// heuristic otherwise) and merges them into a single answer with a
// calibrated confidence. Partial failure is normal: a failed backend is
// excluded, and even total failure produces an explicit degraded record
// rather than an error.
package consensus
