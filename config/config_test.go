package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkarlsen/consensus-router/config"
)

const validConfig = `
server:
  address: ":8080"
  environment: "dev"

logging:
  level: "info"

backends:
  - provider: "openai"
    model: "gpt-4o-mini"
    url: "https://api.openai.example/v1/query"
    api_key_env: "OPENAI_API_KEY"
    estimated_cost: 0.01
  - provider: "anthropic"
    model: "claude-sonnet"
    url: "https://api.anthropic.example/v1/query"
    api_key_env: "ANTHROPIC_API_KEY"
    estimated_cost: 0.05

circuit:
  failure_threshold: 5
  recovery_timeout: "60s"

router:
  exploration_rate: 0.1
  min_requests_for_auto_disable: 5
  auto_disable_failure_rate: 0.5
  auto_disable_cooldown: "1h"
  fallback_chain:
    - "openai/gpt-4o-mini"
    - "anthropic/claude-sonnet"
  task_preferences:
    research:
      - "anthropic/claude-sonnet"
  last_resort: "openai/gpt-4o-mini"

consensus:
  max_providers: 3
  min_multi_provider_budget: 0.10
  call_timeout: "60s"

snapshot:
  path: "data/state.json"
`

var _ = Describe("Config", func() {
	var tempDir string

	writeConfig := func(content string) {
		configPath := filepath.Join(tempDir, "config.yaml")
		err := os.WriteFile(configPath, []byte(content), 0644)
		Expect(err).NotTo(HaveOccurred())

		err = os.Chdir(tempDir)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with valid config file", func() {
			BeforeEach(func() {
				writeConfig(validConfig)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should parse the backend catalog", func() {
				cfg, _ := config.Load()
				Expect(cfg.Backends).To(HaveLen(2))
				Expect(cfg.Backends[0].Provider).To(Equal("openai"))
				Expect(cfg.Backends[1].EstimatedCost).To(Equal(0.05))
			})

			It("should parse the fallback chain and preferences", func() {
				cfg, _ := config.Load()
				Expect(cfg.Router.FallbackChain).To(Equal([]string{"openai/gpt-4o-mini", "anthropic/claude-sonnet"}))
				Expect(cfg.Router.TaskPreferences).To(HaveKey("research"))
			})

			It("should parse circuit breaker tuning", func() {
				cfg, _ := config.Load()
				Expect(cfg.Circuit.FailureThreshold).To(Equal(5))
				Expect(cfg.Circuit.RecoveryTimeout).To(Equal("60s"))
			})
		})

		Context("with a minimal config file", func() {
			BeforeEach(func() {
				writeConfig(`
backends:
  - provider: "openai"
    model: "gpt-4o-mini"
    url: "https://api.openai.example/v1/query"
    api_key_env: "OPENAI_API_KEY"
    estimated_cost: 0.01
`)
			})

			It("should fill in defaults for everything else", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":8080"))
				Expect(cfg.Router.ExplorationRate).To(Equal(0.10))
				Expect(cfg.Router.LastResort).To(Equal("openai/gpt-4o-mini"))
				Expect(cfg.Consensus.MaxProviders).To(Equal(3))
				Expect(cfg.Snapshot.Path).To(Equal("data/state.json"))
			})
		})

		Context("with an invalid config file", func() {
			It("should reject a backend without credentials variable", func() {
				writeConfig(`
backends:
  - provider: "openai"
    model: "gpt-4o-mini"
    url: "https://api.openai.example/v1/query"
    estimated_cost: 0.01
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject a malformed fallback chain entry", func() {
				writeConfig(`
backends:
  - provider: "openai"
    model: "gpt-4o-mini"
    url: "https://api.openai.example/v1/query"
    api_key_env: "OPENAI_API_KEY"
    estimated_cost: 0.01

router:
  fallback_chain:
    - "not-a-backend-key"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject an out-of-range exploration rate", func() {
				writeConfig(`
backends:
  - provider: "openai"
    model: "gpt-4o-mini"
    url: "https://api.openai.example/v1/query"
    api_key_env: "OPENAI_API_KEY"
    estimated_cost: 0.01

router:
  exploration_rate: 1.5
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		It("should reject an unknown log level", func() {
			writeConfig(validConfig)
			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())

			cfg.Logging.Level = "verbose"
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("should reject an address without a port", func() {
			writeConfig(validConfig)
			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())

			cfg.Server.Address = "localhost"
			Expect(cfg.Validate()).To(HaveOccurred())
		})
	})
})
