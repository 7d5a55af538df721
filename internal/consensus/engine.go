package consensus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsen/consensus-router/internal/audit"
	"github.com/mkarlsen/consensus-router/internal/backend"
)

// Response is one backend's contribution to a consensus call.
type Response struct {
	Backend   backend.Ref `json:"backend"`
	Answer    string      `json:"answer"`
	Citations []string    `json:"citations,omitempty"`
	CostUSD   float64     `json:"cost_usd"`
	LatencyMs float64     `json:"latency_ms"`
}

// Record is the outcome of one consensus call. It is transient, owned by
// the caller.
type Record struct {
	ID             string     `json:"id"`
	Query          string     `json:"query"`
	Responses      []Response `json:"responses"`
	AgreementScore float64    `json:"agreement_score"`
	MergedAnswer   string     `json:"merged_answer"`
	Confidence     float64    `json:"confidence"`
	TotalCostUSD   float64    `json:"total_cost_usd"`
}

// CostEstimator answers which backends are actually callable and what a
// call is expected to cost. The HTTP invoker satisfies it.
type CostEstimator interface {
	HasCredentials(ref backend.Ref) bool
	EstimatedCost(ref backend.Ref) float64
}

// Recorder receives per-backend outcomes so consensus traffic feeds the
// same rolling metrics as routed traffic. The adaptive router satisfies
// it; a nil recorder is allowed for isolated use.
type Recorder interface {
	RecordResult(ref backend.Ref, success bool, latencyMs, cost float64, errMsg, taskType string)
}

// Judge rates inter-answer agreement, typically with one lightweight
// model call. Any failure falls back to the deterministic heuristic.
type Judge interface {
	RateAgreement(ctx context.Context, query string, answers []string) (float64, error)
}

// Config tunes consensus behavior.
type Config struct {
	// Candidates are the backends eligible for fan-out, in no particular
	// order; selection sorts them by estimated cost.
	Candidates []backend.Ref

	// MaxProviders caps the fan-out width. Default 3.
	MaxProviders int

	// MinMultiProviderBudget is the budget floor below which only the
	// single cheapest backend is queried. Default $0.10.
	MinMultiProviderBudget float64

	// CallTimeout bounds each individual backend call. Default 60s.
	CallTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.MaxProviders == 0 {
		c.MaxProviders = 3
	}
	if c.MinMultiProviderBudget == 0 {
		c.MinMultiProviderBudget = 0.10
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// Engine fans a query out to several backends in parallel, measures how
// much they agree and merges their answers into one calibrated result.
type Engine struct {
	cfg      Config
	invoker  backend.Invoker
	costs    CostEstimator
	judge    Judge
	recorder Recorder
	trail    *audit.Trail
	logger   *slog.Logger
}

func New(
	cfg Config,
	invoker backend.Invoker,
	costs CostEstimator,
	judge Judge,
	recorder Recorder,
	trail *audit.Trail,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg.normalize(),
		invoker:  invoker,
		costs:    costs,
		judge:    judge,
		recorder: recorder,
		trail:    trail,
		logger:   logger,
	}
}

// ResearchWithConsensus queries several backends about the same question
// and returns a merged answer with a calibrated confidence. It always
// returns a record: with no usable backend the record says so explicitly
// with confidence zero rather than failing.
func (e *Engine) ResearchWithConsensus(ctx context.Context, query string, budgetUSD float64, callerID string) *Record {
	record := &Record{
		ID:    uuid.NewString(),
		Query: query,
	}

	selected := e.selectBackends(budgetUSD)
	if len(selected) == 0 {
		record.MergedAnswer = "No backend was available for this query: no candidate has credentials configured within the given budget."
		record.Confidence = 0
		e.logger.Warn("consensus call had no usable backends",
			slog.String("caller", callerID),
			slog.Float64("budget_usd", budgetUSD))
		return record
	}

	record.Responses = e.fanOut(ctx, query, selected)
	for _, resp := range record.Responses {
		record.TotalCostUSD += resp.CostUSD
	}

	switch len(record.Responses) {
	case 0:
		record.MergedAnswer = "All selected backends failed to answer this query."
		record.Confidence = 0
	case 1:
		// A single answer carries no agreement signal either way.
		record.AgreementScore = 0.5
		record.MergedAnswer = record.Responses[0].Answer
		record.Confidence = calibrate(record.AgreementScore)
	default:
		record.AgreementScore = e.agreement(ctx, query, record.Responses)
		record.MergedAnswer = merge(record.Responses, record.AgreementScore)
		record.Confidence = calibrate(record.AgreementScore)
	}

	e.emitAudit(record, callerID)
	return record
}

// selectBackends picks 2-3 credentialed backends under the budget. Below
// the multi-provider floor only the single cheapest is queried; otherwise
// candidates are added cheapest-first while budget and the provider cap
// allow.
func (e *Engine) selectBackends(budgetUSD float64) []backend.Ref {
	var candidates []backend.Ref
	for _, ref := range e.cfg.Candidates {
		if e.costs.HasCredentials(ref) {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return e.costs.EstimatedCost(candidates[i]) < e.costs.EstimatedCost(candidates[j])
	})

	cheapest := candidates[0]
	if budgetUSD < e.cfg.MinMultiProviderBudget {
		if budgetUSD < e.costs.EstimatedCost(cheapest) {
			return nil
		}
		return []backend.Ref{cheapest}
	}

	var selected []backend.Ref
	remaining := budgetUSD
	for _, ref := range candidates {
		if len(selected) >= e.cfg.MaxProviders {
			break
		}
		cost := e.costs.EstimatedCost(ref)
		if cost > remaining {
			break
		}
		selected = append(selected, ref)
		remaining -= cost
	}
	return selected
}

// fanOut queries every selected backend in parallel and collects whatever
// succeeded. One slow or failed backend only costs its own slot: each
// call gets its own timeout and failures are excluded, not fatal.
func (e *Engine) fanOut(ctx context.Context, query string, refs []backend.Ref) []Response {
	results := make(chan *Response, len(refs))
	var wg sync.WaitGroup

	for _, ref := range refs {
		wg.Add(1)
		go func(ref backend.Ref) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
			defer cancel()

			start := time.Now()
			result, err := e.invoker.Invoke(callCtx, ref, backend.Request{
				Query:    query,
				TaskType: "consensus",
			})
			latencyMs := float64(time.Since(start).Milliseconds())

			if err != nil {
				reason := backend.FailureReason(err)
				e.logger.Warn("consensus backend failed",
					slog.String("backend", ref.Key()),
					slog.String("reason", reason))
				if e.recorder != nil {
					e.recorder.RecordResult(ref, false, 0, 0, reason, "consensus")
				}
				return
			}

			if e.recorder != nil {
				e.recorder.RecordResult(ref, true, latencyMs, result.CostUSD, "", "consensus")
			}
			results <- &Response{
				Backend:   ref,
				Answer:    result.Answer,
				Citations: result.Citations,
				CostUSD:   result.CostUSD,
				LatencyMs: latencyMs,
			}
		}(ref)
	}

	wg.Wait()
	close(results)

	responses := make([]Response, 0, len(refs))
	for resp := range results {
		responses = append(responses, *resp)
	}
	// Stable order for merging regardless of arrival order.
	sort.Slice(responses, func(i, j int) bool {
		return responses[i].Backend.Key() < responses[j].Backend.Key()
	})
	return responses
}

// agreement asks the judge first and falls back to the deterministic
// word-overlap heuristic, so the engine never depends on another network
// call to produce a score.
func (e *Engine) agreement(ctx context.Context, query string, responses []Response) float64 {
	answers := make([]string, len(responses))
	for i, resp := range responses {
		answers[i] = truncate(resp.Answer, judgeAnswerLimit)
	}

	if e.judge != nil {
		score, err := e.judge.RateAgreement(ctx, query, answers)
		if err == nil {
			return clamp01(score)
		}
		e.logger.Warn("agreement judge failed, using heuristic",
			slog.Any("err", err))
	}

	return ComputeAgreement(responses)
}

func (e *Engine) emitAudit(record *Record, callerID string) {
	if e.trail == nil {
		return
	}

	backends := make([]string, len(record.Responses))
	for i, resp := range record.Responses {
		backends[i] = resp.Backend.Key()
	}
	e.trail.Emit(audit.Event{
		ID:        record.ID,
		Type:      audit.EventConsensus,
		Backends:  backends,
		Reason:    callerID,
		Agreement: record.AgreementScore,
		CostUSD:   record.TotalCostUSD,
	})
}

// calibrate maps agreement to caller-facing confidence: a 0.2 floor even
// at total disagreement (conflicting answers are still informative),
// scaling to 1.0 at perfect agreement.
func calibrate(agreement float64) float64 {
	confidence := agreement*0.8 + 0.2
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const judgeAnswerLimit = 1500

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
