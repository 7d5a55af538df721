package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Invoker is the capability the router and consensus engine consume to
// actually call a backend. Implementations own all wire-protocol concerns.
type Invoker interface {
	Invoke(ctx context.Context, ref Ref, req Request) (*Result, error)
}

// Endpoint describes where one backend is reachable and what a single call
// is expected to cost.
type Endpoint struct {
	URL           string
	APIKeyEnv     string
	EstimatedCost float64
}

// HTTPInvoker calls backends over a plain JSON POST contract: the Request
// is the body, the Result is the response. It is deliberately not a
// vendor adapter; anything speaking this contract can sit behind it.
type HTTPInvoker struct {
	client    *http.Client
	endpoints map[Ref]Endpoint
	logger    *slog.Logger
}

// NewHTTPInvoker creates an invoker for the configured endpoints with a
// shared per-call timeout.
func NewHTTPInvoker(endpoints map[Ref]Endpoint, timeout time.Duration, logger *slog.Logger) *HTTPInvoker {
	return &HTTPInvoker{
		client:    &http.Client{Timeout: timeout},
		endpoints: endpoints,
		logger:    logger,
	}
}

// Endpoints returns the configured endpoint table.
func (inv *HTTPInvoker) Endpoints() map[Ref]Endpoint {
	return inv.endpoints
}

// HasCredentials reports whether the backend's API key is actually present
// in the environment. Backends without credentials are never fanned out to.
func (inv *HTTPInvoker) HasCredentials(ref Ref) bool {
	ep, ok := inv.endpoints[ref]
	if !ok {
		return false
	}
	if ep.APIKeyEnv == "" {
		return true
	}
	return os.Getenv(ep.APIKeyEnv) != ""
}

// EstimatedCost returns the configured per-call cost estimate for a backend,
// zero if unknown.
func (inv *HTTPInvoker) EstimatedCost(ref Ref) float64 {
	return inv.endpoints[ref].EstimatedCost
}

func (inv *HTTPInvoker) Invoke(ctx context.Context, ref Ref, req Request) (*Result, error) {
	ep, ok := inv.endpoints[ref]
	if !ok {
		return nil, &CallError{Backend: ref, Reason: "no endpoint configured"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &CallError{Backend: ref, Reason: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Backend: ref, Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.APIKeyEnv != "" {
		if key := os.Getenv(ep.APIKeyEnv); key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		}
	}

	start := time.Now()
	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, &CallError{Backend: ref, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the log, never for the caller.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		inv.logger.Warn("backend returned non-200",
			slog.String("backend", ref.Key()),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)))
		return nil, &CallError{
			Backend: ref,
			Reason:  fmt.Sprintf("status %d", resp.StatusCode),
		}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &CallError{Backend: ref, Reason: "decode response", Err: err}
	}

	inv.logger.Debug("backend call completed",
		slog.String("backend", ref.Key()),
		slog.Duration("duration", time.Since(start)),
		slog.Float64("cost_usd", result.CostUSD))

	return &result, nil
}
