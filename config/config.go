package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type BackendConfig struct {
	Provider      string  `mapstructure:"provider"`
	Model         string  `mapstructure:"model"`
	URL           string  `mapstructure:"url"`
	APIKeyEnv     string  `mapstructure:"api_key_env"`
	EstimatedCost float64 `mapstructure:"estimated_cost"`
	TimeoutMs     int     `mapstructure:"timeout_ms"`
}

type CircuitConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	RecoveryTimeout  string `mapstructure:"recovery_timeout"`
}

type RouterConfig struct {
	ExplorationRate           float64             `mapstructure:"exploration_rate"`
	MinRequestsForAutoDisable int                 `mapstructure:"min_requests_for_auto_disable"`
	AutoDisableFailureRate    float64             `mapstructure:"auto_disable_failure_rate"`
	AutoDisableCooldown       string              `mapstructure:"auto_disable_cooldown"`
	FallbackChain             []string            `mapstructure:"fallback_chain"`
	TaskPreferences           map[string][]string `mapstructure:"task_preferences"`
	LastResort                string              `mapstructure:"last_resort"`
}

type ConsensusConfig struct {
	MaxProviders           int     `mapstructure:"max_providers"`
	MinMultiProviderBudget float64 `mapstructure:"min_multi_provider_budget"`
	CallTimeout            string  `mapstructure:"call_timeout"`
}

type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Backends  []BackendConfig `mapstructure:"backends"`
	Circuit   CircuitConfig   `mapstructure:"circuit"`
	Router    RouterConfig    `mapstructure:"router"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("circuit.failure_threshold", 5)
	viper.SetDefault("circuit.recovery_timeout", "60s")
	viper.SetDefault("router.exploration_rate", 0.10)
	viper.SetDefault("router.min_requests_for_auto_disable", 5)
	viper.SetDefault("router.auto_disable_failure_rate", 0.5)
	viper.SetDefault("router.auto_disable_cooldown", "1h")
	viper.SetDefault("router.last_resort", "openai/gpt-4o-mini")
	viper.SetDefault("consensus.max_providers", 3)
	viper.SetDefault("consensus.min_multi_provider_budget", 0.10)
	viper.SetDefault("consensus.call_timeout", "60s")
	viper.SetDefault("snapshot.path", "data/state.json")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
		validation.Field(&c.Circuit,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CircuitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.FailureThreshold,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&cc.RecoveryTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Router,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RouterConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RouterConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.ExplorationRate,
						validation.Min(0.0),
						validation.Max(1.0),
					),
					validation.Field(&rc.MinRequestsForAutoDisable,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&rc.AutoDisableFailureRate,
						validation.Required,
						validation.Min(0.0),
						validation.Max(1.0),
					),
					validation.Field(&rc.AutoDisableCooldown,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.FallbackChain,
						validation.Each(validation.By(validateBackendKey)),
					),
					validation.Field(&rc.LastResort,
						validation.Required,
						validation.By(validateBackendKey),
					),
				)
			}),
		),
		validation.Field(&c.Consensus,
			validation.By(func(value interface{}) error {
				cc, ok := value.(ConsensusConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ConsensusConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.MaxProviders,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&cc.MinMultiProviderBudget,
						validation.Min(0.0),
					),
					validation.Field(&cc.CallTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Snapshot,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SnapshotConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SnapshotConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Path, validation.Required),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 60s, 5m, 1h)")
	}

	return nil
}

// validateBackendKey checks the "provider/model" form used to reference
// a configured backend from fallback chains and task preferences.
func validateBackendKey(value interface{}) error {
	key, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	provider, model, found := strings.Cut(key, "/")
	if !found || provider == "" || model == "" {
		return validation.NewError("validation_invalid_backend_key", "must be in provider/model format")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	bc, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if bc.Provider == "" || bc.Model == "" {
		return validation.NewError("validation_missing_identity", "backend needs provider and model")
	}

	if bc.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(bc.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if bc.APIKeyEnv == "" {
		return validation.NewError("validation_missing_api_key_env", "backend needs an api_key_env variable name")
	}

	if bc.EstimatedCost < 0 {
		return validation.NewError("validation_negative_cost", "estimated_cost cannot be negative")
	}

	return nil
}
