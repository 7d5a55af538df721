// Package backend defines backend identity and the invocation capability.
//
// A backend is a (provider, model) pair that can answer a normalized
// Request with a normalized Result. The Ref value type is used as the map
// key everywhere state is tracked per backend. Invoker is the single
// interface the routing and consensus layers call through; the HTTPInvoker
// implementation speaks a plain JSON contract and carries no
// vendor-specific protocol knowledge.
package backend
