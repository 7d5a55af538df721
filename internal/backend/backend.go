package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Ref identifies one interchangeable backend: a provider plus the model
// variant it is asked for. It is comparable and used directly as a map key.
type Ref struct {
	Provider string
	Model    string
}

// Key returns the canonical "provider/model" form used in snapshots,
// status output and operator commands.
func (r Ref) Key() string {
	return r.Provider + "/" + r.Model
}

func (r Ref) String() string {
	return r.Key()
}

// ParseKey parses a "provider/model" key back into a Ref. The model part
// may itself contain slashes (some providers version models that way).
func ParseKey(key string) (Ref, error) {
	provider, model, ok := strings.Cut(key, "/")
	if !ok || provider == "" || model == "" {
		return Ref{}, fmt.Errorf("invalid backend key %q: want provider/model", key)
	}
	return Ref{Provider: provider, Model: model}, nil
}

// Request is the normalized query handed to any backend.
type Request struct {
	Query    string  `json:"query"`
	TaskType string  `json:"task_type,omitempty"`
	MaxCost  float64 `json:"max_cost_usd,omitempty"`
}

// Result is the normalized answer every backend reduces to, regardless of
// its wire protocol.
type Result struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations,omitempty"`
	CostUSD   float64  `json:"cost_usd"`
}

// CallError is the typed failure an invoker returns. Reason is the short
// string fed into failure bookkeeping; Err carries the underlying cause.
type CallError struct {
	Backend Ref
	Reason  string
	Err     error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend.Key(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Backend.Key(), e.Reason)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// FailureReason extracts the bookkeeping reason from an invocation error.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}
