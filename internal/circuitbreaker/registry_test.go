package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	acme := backend.Ref{Provider: "acme", Model: "large"}
	globex := backend.Ref{Provider: "globex", Model: "fast"}

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(3, 60*time.Second)
	})

	Describe("GetOrCreate", func() {
		It("should lazily create a breaker per backend", func() {
			cb := registry.GetOrCreate(acme)
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same backend", func() {
			Expect(registry.GetOrCreate(acme)).To(BeIdenticalTo(registry.GetOrCreate(acme)))
		})

		It("should keep backends independent", func() {
			registry.RecordFailure(acme, "timeout")
			registry.RecordFailure(acme, "timeout")
			registry.RecordFailure(acme, "timeout")

			Expect(registry.IsAvailable(acme)).To(BeFalse())
			Expect(registry.IsAvailable(globex)).To(BeTrue())
		})

		It("should be safe under concurrent access", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					registry.RecordFailure(acme, "timeout")
					registry.IsAvailable(globex)
					registry.RecordSuccess(globex)
				}()
			}
			wg.Wait()

			Expect(registry.GetOrCreate(acme).Failures()).To(Equal(50))
		})
	})

	Describe("StatusSnapshot", func() {
		It("should report every breaker keyed by provider/model", func() {
			registry.RecordSuccess(acme)
			registry.RecordFailure(globex, "timeout")

			snap := registry.StatusSnapshot()
			Expect(snap).To(HaveKey("acme/large"))
			Expect(snap).To(HaveKey("globex/fast"))
			Expect(snap["globex/fast"].Failures).To(Equal(1))
			Expect(snap["globex/fast"].LastReason).To(Equal("timeout"))
		})
	})

	Describe("Restore", func() {
		It("should rebuild breakers from a snapshot", func() {
			registry.RecordFailure(acme, "timeout")
			registry.RecordFailure(acme, "timeout")
			registry.RecordFailure(acme, "timeout")
			snap := registry.StatusSnapshot()

			fresh := circuitbreaker.NewRegistry(3, 60*time.Second)
			fresh.Restore(snap)
			Expect(fresh.GetOrCreate(acme).State()).To(Equal(circuitbreaker.StateOpen))
			Expect(fresh.GetOrCreate(acme).Failures()).To(Equal(3))
		})

		It("should skip malformed keys", func() {
			fresh := circuitbreaker.NewRegistry(3, 60*time.Second)
			fresh.Restore(map[string]circuitbreaker.Snapshot{
				"not-a-key": {State: "OPEN", Failures: 9},
			})
			Expect(fresh.StatusSnapshot()).To(BeEmpty())
		})
	})

	Describe("Reset", func() {
		BeforeEach(func() {
			registry.RecordFailure(acme, "timeout")
			registry.RecordFailure(acme, "timeout")
			registry.RecordFailure(acme, "timeout")
			registry.RecordFailure(globex, "timeout")
			registry.RecordFailure(globex, "timeout")
			registry.RecordFailure(globex, "timeout")
		})

		It("should reset a single breaker", func() {
			registry.Reset(acme)
			Expect(registry.IsAvailable(acme)).To(BeTrue())
			Expect(registry.IsAvailable(globex)).To(BeFalse())
		})

		It("should ignore resets for unseen backends", func() {
			registry.Reset(backend.Ref{Provider: "nobody", Model: "here"})
			Expect(registry.StatusSnapshot()).To(HaveLen(2))
		})

		It("should reset all breakers", func() {
			registry.ResetAll()
			Expect(registry.IsAvailable(acme)).To(BeTrue())
			Expect(registry.IsAvailable(globex)).To(BeTrue())
			Expect(registry.GetOrCreate(acme).Failures()).To(BeZero())
		})
	})
})
