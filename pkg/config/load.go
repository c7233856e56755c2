package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "CHATGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of NewDefaultConfig, then validated.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides.
func LoadConfig(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration and applies environment
// variable overrides. An empty path starts from defaults alone.
//
// The loading sequence is:
// 1. Start from defaults
// 2. Decode YAML from file (if any)
// 3. Apply environment variable overrides (CHATGATE_SECTION_FIELD)
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		var err error
		cfg, err = loadFile(path)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric, boolean, or duration values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Limiter overrides
	envInt("LIMITER_MAX_REQUESTS_PER_MINUTE", &cfg.Limiter.MaxRequestsPerMinute)
	envInt("LIMITER_MAX_TOKENS_PER_MINUTE", &cfg.Limiter.MaxTokensPerMinute)
	envFloat("LIMITER_HEADROOM", &cfg.Limiter.Headroom)
	envString("LIMITER_COST_ESTIMATION_MODEL", &cfg.Limiter.CostEstimationModel)
	envInt("LIMITER_DEFAULT_COMPLETION_TOKENS", &cfg.Limiter.DefaultCompletionTokens)
	envDuration("LIMITER_JITTER", &cfg.Limiter.Jitter)
	envBool("LIMITER_RELEASE_DURING_CALL", &cfg.Limiter.ReleaseDuringCall)

	// Provider overrides
	envString("PROVIDER_NAME", &cfg.Provider.Name)
	envString("PROVIDER_BASE_URL", &cfg.Provider.BaseURL)
	envString("PROVIDER_API_KEY", &cfg.Provider.APIKey)
	envDuration("PROVIDER_TIMEOUT", &cfg.Provider.Timeout)
	envInt("PROVIDER_MAX_RETRIES", &cfg.Provider.MaxRetries)
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	// Ledger overrides
	envBool("LEDGER_ENABLED", &cfg.Ledger.Enabled)
	envString("LEDGER_BACKEND", &cfg.Ledger.Backend)
	envString("LEDGER_SQLITE_PATH", &cfg.Ledger.SQLite.Path)
	envInt("LEDGER_RETENTION_DAYS", &cfg.Ledger.Retention.Days)
	envString("LEDGER_RETENTION_SCHEDULE", &cfg.Ledger.Retention.Schedule)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envString("TELEMETRY_LOGGING_FILE_PATH", &cfg.Telemetry.Logging.File.Path)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
}

func envString(key string, dst *string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
