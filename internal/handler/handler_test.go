package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/circuitbreaker"
	"github.com/mkarlsen/consensus-router/internal/consensus"
	"github.com/mkarlsen/consensus-router/internal/handler"
	"github.com/mkarlsen/consensus-router/internal/metrics"
	"github.com/mkarlsen/consensus-router/internal/router"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine records the last query and returns a canned record.
type fakeEngine struct {
	lastQuery  string
	lastBudget float64
	lastCaller string
	record     *consensus.Record
}

func (f *fakeEngine) ResearchWithConsensus(ctx context.Context, query string, budgetUSD float64, callerID string) *consensus.Record {
	f.lastQuery = query
	f.lastBudget = budgetUSD
	f.lastCaller = callerID
	return f.record
}

var _ = Describe("OperatorHandler", func() {
	var (
		circuits *circuitbreaker.Registry
		tracker  *metrics.Tracker
		rt       *router.Router
		engine   *fakeEngine
		h        *handler.OperatorHandler
	)

	ref := backend.Ref{Provider: "openai", Model: "gpt-4o-mini"}

	BeforeEach(func() {
		circuits = circuitbreaker.NewRegistry(5, time.Minute)
		tracker = metrics.NewTracker(quietLogger())
		rt = router.New(router.Config{}, circuits, tracker, nil, nil, quietLogger())
		engine = &fakeEngine{record: &consensus.Record{
			ID:           "rec-1",
			MergedAnswer: "paris",
			Confidence:   1.0,
		}}
		h = handler.NewOperatorHandler(quietLogger(), rt, engine)
	})

	Describe("Status", func() {
		It("should return the router status as JSON", func() {
			rt.RecordResult(ref, true, 120, 0.01, "", "research")

			rec := httptest.NewRecorder()
			h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var status router.Status
			Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
			Expect(status.Backends).To(HaveKey("openai/gpt-4o-mini"))
		})

		It("should reject non-GET methods", func() {
			rec := httptest.NewRecorder()
			h.Status(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("Circuits", func() {
		It("should return circuit snapshots keyed by backend", func() {
			circuits.RecordFailure(ref, "timeout")

			rec := httptest.NewRecorder()
			h.Circuits(rec, httptest.NewRequest(http.MethodGet, "/circuits", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var snaps map[string]circuitbreaker.Snapshot
			Expect(json.Unmarshal(rec.Body.Bytes(), &snaps)).To(Succeed())
			Expect(snaps).To(HaveKey("openai/gpt-4o-mini"))
			Expect(snaps["openai/gpt-4o-mini"].Failures).To(Equal(1))
		})
	})

	Describe("Reset", func() {
		It("should clear circuit and metric state for one backend", func() {
			for i := 0; i < 5; i++ {
				circuits.RecordFailure(ref, "timeout")
			}
			Expect(circuits.IsAvailable(ref)).To(BeFalse())

			rec := httptest.NewRecorder()
			h.Reset(rec, httptest.NewRequest(http.MethodPost, "/reset?backend=openai/gpt-4o-mini", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(circuits.IsAvailable(ref)).To(BeTrue())
		})

		It("should reject a malformed backend key", func() {
			rec := httptest.NewRecorder()
			h.Reset(rec, httptest.NewRequest(http.MethodPost, "/reset?backend=nonsense", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject non-POST methods", func() {
			rec := httptest.NewRecorder()
			h.Reset(rec, httptest.NewRequest(http.MethodGet, "/reset?backend=openai/gpt-4o-mini", nil))
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("ResetAll", func() {
		It("should clear state for every backend", func() {
			other := backend.Ref{Provider: "anthropic", Model: "claude-sonnet"}
			for i := 0; i < 5; i++ {
				circuits.RecordFailure(ref, "timeout")
				circuits.RecordFailure(other, "timeout")
			}

			rec := httptest.NewRecorder()
			h.ResetAll(rec, httptest.NewRequest(http.MethodPost, "/reset-all", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(circuits.IsAvailable(ref)).To(BeTrue())
			Expect(circuits.IsAvailable(other)).To(BeTrue())
		})
	})

	Describe("Query", func() {
		post := func(body string) *httptest.ResponseRecorder {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
			h.Query(rec, req)
			return rec
		}

		It("should run the consensus engine and return its record", func() {
			rec := post(`{"query":"capital of France?","budget_usd":0.5,"caller_id":"ops"}`)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(engine.lastQuery).To(Equal("capital of France?"))
			Expect(engine.lastBudget).To(Equal(0.5))
			Expect(engine.lastCaller).To(Equal("ops"))

			var record consensus.Record
			Expect(json.Unmarshal(rec.Body.Bytes(), &record)).To(Succeed())
			Expect(record.MergedAnswer).To(Equal("paris"))
		})

		It("should default the caller to the client address", func() {
			rec := post(`{"query":"q","budget_usd":0.5}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(engine.lastCaller).NotTo(BeEmpty())
		})

		It("should reject an empty query", func() {
			rec := post(`{"query":"  ","budget_usd":0.5}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject a non-positive budget", func() {
			rec := post(`{"query":"q","budget_usd":0}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject malformed JSON", func() {
			rec := post(`{"query":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
