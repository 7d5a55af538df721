package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkarlsen/consensus-router/config"
	"github.com/mkarlsen/consensus-router/internal/audit"
	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/circuitbreaker"
	"github.com/mkarlsen/consensus-router/internal/consensus"
	"github.com/mkarlsen/consensus-router/internal/handler"
	"github.com/mkarlsen/consensus-router/internal/httpserver"
	"github.com/mkarlsen/consensus-router/internal/metrics"
	"github.com/mkarlsen/consensus-router/internal/router"
	"github.com/mkarlsen/consensus-router/internal/store"
	"github.com/mkarlsen/consensus-router/pkg/logger"
)

const auditBufferSize = 64

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recoveryTimeout, err := time.ParseDuration(cfg.Circuit.RecoveryTimeout)
	if err != nil {
		log.Error("invalid circuit recovery timeout", slog.Any("err", err))
		os.Exit(1)
	}

	circuits := circuitbreaker.NewRegistry(cfg.Circuit.FailureThreshold, recoveryTimeout)
	tracker := metrics.NewTracker(log)
	trail := audit.NewTrail(auditBufferSize, log)
	trail.Start(ctx)

	st := store.New(cfg.Snapshot.Path, circuits, tracker, trail, log)
	st.Load()

	endpoints, err := buildEndpoints(cfg)
	if err != nil {
		log.Error("failed to build backend endpoints", slog.Any("err", err))
		os.Exit(1)
	}

	callTimeout, err := time.ParseDuration(cfg.Consensus.CallTimeout)
	if err != nil {
		log.Error("invalid consensus call timeout", slog.Any("err", err))
		os.Exit(1)
	}
	invoker := backend.NewHTTPInvoker(endpoints, callTimeout, log)

	routerCfg, err := buildRouterConfig(cfg, log)
	if err != nil {
		log.Error("failed to build router config", slog.Any("err", err))
		os.Exit(1)
	}
	rt := router.New(routerCfg, circuits, tracker, trail, st, log)

	engine := consensus.New(
		buildConsensusConfig(cfg, endpoints, callTimeout),
		invoker,
		invoker,
		consensus.NewPromptJudge(invoker, cheapestRef(endpoints)),
		rt,
		trail,
		log,
	)

	operator := handler.NewOperatorHandler(log, rt, engine)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(operator))
	if err != nil {
		log.Error("failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("consensus router started",
		slog.String("address", cfg.Server.Address),
		slog.Int("backends", len(endpoints)))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		if err := st.Persist(); err != nil {
			log.Error("Error persisting final snapshot", slog.Any("err", err))
		}
		<-trail.Done()
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting server", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func buildEndpoints(cfg *config.Config) (map[backend.Ref]backend.Endpoint, error) {
	endpoints := make(map[backend.Ref]backend.Endpoint, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		ref := backend.Ref{Provider: bc.Provider, Model: bc.Model}
		endpoints[ref] = backend.Endpoint{
			URL:           bc.URL,
			APIKeyEnv:     bc.APIKeyEnv,
			EstimatedCost: bc.EstimatedCost,
		}
	}

	if len(endpoints) == 0 {
		return nil, os.ErrInvalid
	}

	return endpoints, nil
}

func buildRouterConfig(cfg *config.Config, log *slog.Logger) (router.Config, error) {
	cooldown, err := time.ParseDuration(cfg.Router.AutoDisableCooldown)
	if err != nil {
		return router.Config{}, err
	}

	lastResort, err := backend.ParseKey(cfg.Router.LastResort)
	if err != nil {
		return router.Config{}, err
	}

	chain := make([]backend.Ref, 0, len(cfg.Router.FallbackChain))
	for _, key := range cfg.Router.FallbackChain {
		ref, err := backend.ParseKey(key)
		if err != nil {
			return router.Config{}, err
		}
		chain = append(chain, ref)
	}

	prefs := make(map[string][]backend.Ref, len(cfg.Router.TaskPreferences))
	for taskType, keys := range cfg.Router.TaskPreferences {
		for _, key := range keys {
			ref, err := backend.ParseKey(key)
			if err != nil {
				log.Warn("skipping malformed task preference",
					slog.String("task_type", taskType),
					slog.String("key", key))
				continue
			}
			prefs[taskType] = append(prefs[taskType], ref)
		}
	}

	return router.Config{
		ExplorationRate:           cfg.Router.ExplorationRate,
		MinRequestsForAutoDisable: cfg.Router.MinRequestsForAutoDisable,
		AutoDisableFailureRate:    cfg.Router.AutoDisableFailureRate,
		AutoDisableCooldown:       cooldown,
		TaskPreferences:           prefs,
		FallbackChain:             chain,
		LastResort:                lastResort,
	}, nil
}

func buildConsensusConfig(cfg *config.Config, endpoints map[backend.Ref]backend.Endpoint, callTimeout time.Duration) consensus.Config {
	candidates := make([]backend.Ref, 0, len(endpoints))
	for ref := range endpoints {
		candidates = append(candidates, ref)
	}

	return consensus.Config{
		Candidates:             candidates,
		MaxProviders:           cfg.Consensus.MaxProviders,
		MinMultiProviderBudget: cfg.Consensus.MinMultiProviderBudget,
		CallTimeout:            callTimeout,
	}
}

// cheapestRef picks the judge backend: the least expensive configured one.
func cheapestRef(endpoints map[backend.Ref]backend.Endpoint) backend.Ref {
	var best backend.Ref
	bestCost := -1.0
	for ref, ep := range endpoints {
		if bestCost < 0 || ep.EstimatedCost < bestCost {
			best = ref
			bestCost = ep.EstimatedCost
		}
	}
	return best
}
