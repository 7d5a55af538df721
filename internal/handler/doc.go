// Package handler implements the operator-facing HTTP handlers: status
// and circuit inspection, manual resets, and consensus queries.
package handler
