// Package store persists router state across restarts.
//
// The snapshot is a single JSON document holding every circuit breaker's
// state, every backend's rolling metrics and the recent audit events.
// Writes are crash-safe: the document goes to a temp file in the same
// directory and is atomically renamed over the previous snapshot. Loads
// are best-effort: a missing or corrupted snapshot means starting empty,
// never a startup failure.
package store
