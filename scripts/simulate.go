// simulate runs a synthetic traffic simulation against the adaptive router
// and prints the resulting selection distribution and backend health.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/circuitbreaker"
	"github.com/mkarlsen/consensus-router/internal/metrics"
	"github.com/mkarlsen/consensus-router/internal/router"
)

type simulatedBackend struct {
	ref         backend.Ref
	successRate float64
	latencyMs   float64
	costUSD     float64
}

var (
	totalReqs = flag.Int("requests", 1000, "Total requests to simulate")
	degrade   = flag.Int("degrade-after", 0, "Degrade the first backend to 20% success after N requests (0 = never)")
	verbose   = flag.Bool("verbose", false, "Log router activity")
)

func main() {
	flag.Parse()

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	backends := []simulatedBackend{
		{ref: backend.Ref{Provider: "openai", Model: "gpt-4o-mini"}, successRate: 0.98, latencyMs: 800, costUSD: 0.01},
		{ref: backend.Ref{Provider: "anthropic", Model: "claude-sonnet"}, successRate: 0.97, latencyMs: 1200, costUSD: 0.05},
		{ref: backend.Ref{Provider: "google", Model: "gemini-flash"}, successRate: 0.90, latencyMs: 600, costUSD: 0.008},
	}

	chain := make([]backend.Ref, len(backends))
	for i, sb := range backends {
		chain[i] = sb.ref
	}

	circuits := circuitbreaker.NewRegistry(5, time.Minute)
	tracker := metrics.NewTracker(log)
	rt := router.New(router.Config{FallbackChain: chain}, circuits, tracker, nil, nil, log)

	selections := make(map[backend.Ref]int)
	failures := make(map[backend.Ref]int)

	fmt.Printf("Simulating %d requests over %d backends...\n\n", *totalReqs, len(backends))

	for i := 0; i < *totalReqs; i++ {
		if *degrade > 0 && i == *degrade {
			backends[0].successRate = 0.20
			fmt.Printf("--- degraded %s to 20%% success at request %d ---\n\n", backends[0].ref.Key(), i)
		}

		ref := rt.SelectBackend("simulation", false, false, nil, false)
		selections[ref]++

		sb, ok := lookup(backends, ref)
		if !ok {
			// Router degraded to something outside the simulated set.
			rt.RecordResult(ref, false, 0, 0, "no such backend", "simulation")
			failures[ref]++
			continue
		}

		latency := sb.latencyMs * (0.8 + 0.4*rand.Float64())
		if rand.Float64() < sb.successRate {
			rt.RecordResult(ref, true, latency, sb.costUSD, "", "simulation")
		} else {
			rt.RecordResult(ref, false, 0, 0, "simulated error", "simulation")
			failures[ref]++
		}
	}

	printReport(rt, selections, failures)
}

func lookup(backends []simulatedBackend, ref backend.Ref) (simulatedBackend, bool) {
	for _, sb := range backends {
		if sb.ref == ref {
			return sb, true
		}
	}
	return simulatedBackend{}, false
}

func printReport(rt *router.Router, selections, failures map[backend.Ref]int) {
	refs := make([]backend.Ref, 0, len(selections))
	total := 0
	for ref, n := range selections {
		refs = append(refs, ref)
		total += n
	}
	sort.Slice(refs, func(i, j int) bool { return selections[refs[i]] > selections[refs[j]] })

	fmt.Println("Selection distribution:")
	for _, ref := range refs {
		n := selections[ref]
		fmt.Printf("  %-32s %6d (%5.1f%%)  failures: %d\n",
			ref.Key(), n, 100*float64(n)/float64(total), failures[ref])
	}

	fmt.Println("\nFinal backend status:")
	status := rt.Status()
	keys := make([]string, 0, len(status.Backends))
	for key := range status.Backends {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		view := status.Backends[key]
		fmt.Printf("  %-32s score=%.3f circuit=%s healthy=%v\n",
			key, view.Score, view.CircuitState, view.IsHealthy)
	}
}
