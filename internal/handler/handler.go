package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/consensus"
	"github.com/mkarlsen/consensus-router/internal/router"
)

// Researcher runs one consensus query. The consensus engine satisfies it.
type Researcher interface {
	ResearchWithConsensus(ctx context.Context, query string, budgetUSD float64, callerID string) *consensus.Record
}

type OperatorHandler struct {
	logger *slog.Logger
	router *router.Router
	engine Researcher
}

type queryRequest struct {
	Query     string  `json:"query"`
	BudgetUSD float64 `json:"budget_usd"`
	CallerID  string  `json:"caller_id"`
}

// Status serves the full operator view: per-backend metrics and scores,
// circuit states and recent fallback events.
func (h *OperatorHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.router.Status())
}

// Circuits serves just the circuit breaker snapshots.
func (h *OperatorHandler) Circuits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.router.Status().Circuits)
}

// Reset clears circuit state, metrics history and any auto-disable for
// one backend, named by a backend=provider/model query parameter.
func (h *OperatorHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Query().Get("backend")
	ref, err := backend.ParseKey(key)
	if err != nil {
		http.Error(w, "backend must be provider/model", http.StatusBadRequest)
		return
	}

	h.router.Reset(ref)
	h.logger.Info("operator reset backend", slog.String("backend", ref.Key()))
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": ref.Key()})
}

// ResetAll clears state for every tracked backend.
func (h *OperatorHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.router.ResetAll()
	h.logger.Info("operator reset all backends")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Query runs a consensus research call and returns the merged record.
func (h *OperatorHandler) Query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query cannot be empty", http.StatusBadRequest)
		return
	}
	if req.BudgetUSD <= 0 {
		http.Error(w, "budget_usd must be positive", http.StatusBadRequest)
		return
	}
	if req.CallerID == "" {
		req.CallerID = extractClientIP(r)
	}

	h.logger.Info("received consensus query",
		slog.String("caller", req.CallerID),
		slog.Float64("budget_usd", req.BudgetUSD))

	record := h.engine.ResearchWithConsensus(r.Context(), req.Query, req.BudgetUSD, req.CallerID)
	h.writeJSON(w, http.StatusOK, record)
}

func (h *OperatorHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", slog.Any("err", err))
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func NewOperatorHandler(logger *slog.Logger, rt *router.Router, engine Researcher) *OperatorHandler {
	return &OperatorHandler{
		logger: logger,
		router: rt,
		engine: engine,
	}
}
