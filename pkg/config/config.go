// Package config provides configuration loading and validation for the brief
// generation pipeline: JSON files with environment variable substitution,
// validation before acceptance, and hardcoded constants for the values users
// should not tune.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// QualityThreshold is the fixed overall score below which a run fails the
// quality gate and the credit is refunded. A named constant by contract:
// never derived, never user-configurable.
const QualityThreshold = 6.0

// Default tuning values. All overridable in the config file.
const (
	DefaultDisagreementThreshold = 1.5
	DefaultArbiterWeight         = 1.5
	DefaultMaxRefinementRounds   = 3
	DefaultMaxFixersPerRound     = 3
	DefaultMaxRetryAttempts      = 3
	DefaultInitialRetryDelayMS   = 1000
	DefaultBackoffFactor         = 2.0
	DefaultJitterFraction        = 0.2
	DefaultStageTimeoutSeconds   = 300
)

// Provider name constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// ProviderConfig selects and authenticates the model provider.
type ProviderConfig struct {
	Name   string `json:"name"`            // anthropic, openai, google, ollama; inferred from model when empty
	Model  string `json:"model"`           // Provider model name
	APIKey string `json:"api_key"`         // Supports ${ENV_VAR} substitution
	Host   string `json:"host,omitempty"`  // Ollama host override
}

// RetryConfig mirrors the invoker policy settings.
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts"`
	InitialDelayMS int     `json:"initial_delay_ms"`
	BackoffFactor  float64 `json:"backoff_factor"`
	JitterFraction float64 `json:"jitter_fraction"`
}

// ScoringConfig tunes consensus scoring.
type ScoringConfig struct {
	DisagreementThreshold float64 `json:"disagreement_threshold"`
	ArbiterWeight         float64 `json:"arbiter_weight"`
	Parallel              bool    `json:"parallel"`
}

// RefinementConfig tunes the repair loop.
type RefinementConfig struct {
	MaxAttempts       int     `json:"max_attempts"`
	MaxFixersPerRound int     `json:"max_fixers_per_round"`
	DimensionFloor    float64 `json:"dimension_floor"`
}

// StorageConfig locates the SQLite databases.
type StorageConfig struct {
	InvestigationDB string `json:"investigation_db"`
	LedgerDB        string `json:"ledger_db"`
}

// Config is the full pipeline configuration.
type Config struct {
	Provider            ProviderConfig   `json:"provider"`
	Retry               RetryConfig      `json:"retry"`
	Scoring             ScoringConfig    `json:"scoring"`
	Refinement          RefinementConfig `json:"refinement"`
	Storage             StorageConfig    `json:"storage"`
	PrometheusURL       string           `json:"prometheus_url,omitempty"`
	MetricsAddr         string           `json:"metrics_addr,omitempty"` // Scrape endpoint, e.g. ":9090"; disabled when empty
	StageTimeoutSeconds int              `json:"stage_timeout_seconds"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:   ProviderAnthropic,
			Model:  "claude-sonnet-4-20250514",
			APIKey: "${ANTHROPIC_API_KEY}",
		},
		Retry: RetryConfig{
			MaxAttempts:    DefaultMaxRetryAttempts,
			InitialDelayMS: DefaultInitialRetryDelayMS,
			BackoffFactor:  DefaultBackoffFactor,
			JitterFraction: DefaultJitterFraction,
		},
		Scoring: ScoringConfig{
			DisagreementThreshold: DefaultDisagreementThreshold,
			ArbiterWeight:         DefaultArbiterWeight,
			Parallel:              true,
		},
		Refinement: RefinementConfig{
			MaxAttempts:       DefaultMaxRefinementRounds,
			MaxFixersPerRound: DefaultMaxFixersPerRound,
			DimensionFloor:    QualityThreshold,
		},
		Storage: StorageConfig{
			InvestigationDB: "briefgen.db",
			LedgerDB:        "ledger.db",
		},
		StageTimeoutSeconds: DefaultStageTimeoutSeconds,
	}
}

// envVarPattern matches ${VAR_NAME} substitution markers.
//
//nolint:gochecknoglobals // Compiled once
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} markers with environment values. Unset
// variables expand to the empty string; validation catches empty keys later.
func expandEnvVars(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// Load reads, expands, validates and returns the config at path. A missing
// file yields the defaults (with env expansion applied to the API key).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else {
			expanded := expandEnvVars(string(raw))
			if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.Provider.APIKey = expandEnvVars(cfg.Provider.APIKey)
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = InferProvider(cfg.Provider.Model)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InferProvider guesses the provider from the model name.
func InferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4"):
		return ProviderOpenAI
	case strings.HasPrefix(m, "gemini"):
		return ProviderGoogle
	default:
		return ProviderOllama
	}
}

// Validate rejects invalid configuration before it is accepted.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model cannot be empty")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry backoff_factor must be >= 1, got %v", c.Retry.BackoffFactor)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("retry jitter_fraction must be in [0,1), got %v", c.Retry.JitterFraction)
	}
	if c.Scoring.DisagreementThreshold <= 0 {
		return fmt.Errorf("scoring disagreement_threshold must be positive, got %v", c.Scoring.DisagreementThreshold)
	}
	if c.Scoring.ArbiterWeight <= 0 {
		return fmt.Errorf("scoring arbiter_weight must be positive, got %v", c.Scoring.ArbiterWeight)
	}
	if c.Refinement.MaxAttempts <= 0 {
		return fmt.Errorf("refinement max_attempts must be positive, got %d", c.Refinement.MaxAttempts)
	}
	if c.Refinement.MaxFixersPerRound <= 0 {
		return fmt.Errorf("refinement max_fixers_per_round must be positive, got %d", c.Refinement.MaxFixersPerRound)
	}
	if c.StageTimeoutSeconds <= 0 {
		return fmt.Errorf("stage_timeout_seconds must be positive, got %d", c.StageTimeoutSeconds)
	}
	return nil
}

// StageTimeout returns the per-stage timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// InitialRetryDelay returns the retry initial delay as a duration.
func (c *Config) InitialRetryDelay() time.Duration {
	return time.Duration(c.Retry.InitialDelayMS) * time.Millisecond
}
