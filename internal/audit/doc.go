// Package audit keeps a bounded trail of routing decisions.
//
// Fallback walks, consensus calls and operator resets emit events through
// a buffered channel consumed by a dedicated goroutine, so the request
// path never blocks on bookkeeping. The most recent 100 events are
// retained, served on the operator surface and included in the persisted
// snapshot.
package audit
