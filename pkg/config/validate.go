package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "limiter.headroom").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error refers to the given field path.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateLimiter(&cfg.Limiter)...)
	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateTokens(&cfg.Tokens)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateLimiter mirrors the checks the limiter itself performs at
// construction, so a bad file fails at load time with a field path.
func validateLimiter(cfg *LimiterConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxRequestsPerMinute <= 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.max_requests_per_minute",
			Message: "must be positive",
		})
	}
	if cfg.MaxTokensPerMinute <= 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.max_tokens_per_minute",
			Message: "must be positive",
		})
	}

	// Negated so NaN is rejected too.
	if !(cfg.Headroom > 0 && cfg.Headroom <= 1) {
		errs = append(errs, FieldError{
			Field:   "limiter.headroom",
			Message: fmt.Sprintf("headroom %v must be in (0, 1]", cfg.Headroom),
		})
	} else {
		if cfg.MaxRequestsPerMinute > 0 && int(float64(cfg.MaxRequestsPerMinute)*cfg.Headroom) < 1 {
			errs = append(errs, FieldError{
				Field:   "limiter.max_requests_per_minute",
				Message: "effective ceiling after headroom is zero",
			})
		}
		if cfg.MaxTokensPerMinute > 0 && int(float64(cfg.MaxTokensPerMinute)*cfg.Headroom) < 1 {
			errs = append(errs, FieldError{
				Field:   "limiter.max_tokens_per_minute",
				Message: "effective ceiling after headroom is zero",
			})
		}
	}

	if cfg.DefaultCompletionTokens < 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.default_completion_tokens",
			Message: "must not be negative",
		})
	}
	if cfg.Jitter < 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.jitter",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateProvider(cfg *ProviderConfig) []FieldError {
	var errs []FieldError

	if cfg.Name == "" {
		errs = append(errs, FieldError{Field: "provider.name", Message: "provider name is required"})
	}

	if cfg.BaseURL == "" {
		errs = append(errs, FieldError{Field: "provider.base_url", Message: "base URL is required"})
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, FieldError{
			Field:   "provider.base_url",
			Message: fmt.Sprintf("invalid base URL %q: must be an absolute http(s) URL", cfg.BaseURL),
		})
	}

	if cfg.APIKey == "" {
		errs = append(errs, FieldError{
			Field:   "provider.api_key",
			Message: "API key is required (set provider.api_key, CHATGATE_PROVIDER_API_KEY or OPENAI_API_KEY)",
		})
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "provider.timeout", Message: "timeout must be positive"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "provider.max_retries", Message: "must not be negative"})
	}
	if cfg.RetryBackoff < 0 {
		errs = append(errs, FieldError{Field: "provider.retry_backoff", Message: "must not be negative"})
	}

	return errs
}

func validateTokens(cfg *TokensConfig) []FieldError {
	var errs []FieldError

	for model, ratio := range cfg.Models {
		if ratio <= 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("tokens.models.%s", model),
				Message: fmt.Sprintf("characters per token must be positive, got %v", ratio),
			})
		}
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must not be negative"})
	}

	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "ledger.sqlite.path", Message: "path is required for the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.BufferSize <= 0 {
		errs = append(errs, FieldError{Field: "ledger.buffer_size", Message: "buffer size must be positive"})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "ledger.retention.days", Message: "must not be negative"})
	}
	if cfg.Retention.Days > 0 {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "ledger.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Retention.Schedule, err),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: fmt.Sprintf("metrics path %q must start with '/'", cfg.Metrics.Path),
		})
	}

	return errs
}
