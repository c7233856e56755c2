// Package config provides configuration management for chatgate.
//
// Configuration is read from YAML with environment variable overrides and
// validated before anything is built from it.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("chatgate.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("chatgate.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("") // defaults + env only
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention CHATGATE_SECTION_FIELD:
//
//   - CHATGATE_LIMITER_MAX_TOKENS_PER_MINUTE overrides limiter.max_tokens_per_minute
//   - CHATGATE_PROVIDER_API_KEY overrides provider.api_key
//   - CHATGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// When no API key is configured anywhere, OPENAI_API_KEY is used.
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Limiter ceilings and headroom are only defaulted when the file omits them;
// an explicit headroom of 0 is reported as invalid rather than replaced.
//
// # Singleton
//
//	if err := config.Initialize(path); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.GetConfig()
//
// For testing, prefer explicit Config instances over the global singleton.
//
// # Example Configuration
//
//	limiter:
//	  max_requests_per_minute: 350
//	  max_tokens_per_minute: 30000
//	  headroom: 0.9
//	  cost_estimation_model: gpt-3.5-turbo
//
//	provider:
//	  base_url: https://api.openai.com/v1
//	  timeout: 60s
//
//	ledger:
//	  enabled: true
//	  backend: sqlite
//	  sqlite:
//	    path: data/ledger.db
//	  retention:
//	    days: 30
//	    schedule: "0 3 * * *"
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
