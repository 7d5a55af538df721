// Package router implements adaptive backend selection.
//
// For each request the router builds a candidate set from the task-type
// preference table, every backend whose rolling metrics look healthy, and
// the configured fallback chain. Candidates behind an open circuit or
// under a rate-based auto-disable are filtered out, the rest are ranked by
// the metrics score, and with a small configurable probability a non-best
// candidate is deliberately chosen so weaker backends keep producing
// fresh health data.
//
// Selection never returns an error. When everything has been filtered
// away the router degrades through the fallback chain and finally to a
// hard-coded last resort: in a best-effort system, handing the caller a
// possibly-unhealthy backend beats refusing to answer.
package router
