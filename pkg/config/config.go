package config

import "time"

// Config is the root configuration structure for chatgate.
type Config struct {
	// Limiter contains the RPM/TPM ceilings and admission settings.
	Limiter LimiterConfig `yaml:"limiter"`

	// Provider contains the upstream chat-completion API settings.
	Provider ProviderConfig `yaml:"provider"`

	// Tokens contains token estimation settings.
	Tokens TokensConfig `yaml:"tokens"`

	// Server contains HTTP server configuration for the serve command.
	Server ServerConfig `yaml:"server"`

	// Ledger contains the optional completed-request usage ledger.
	Ledger LedgerConfig `yaml:"ledger"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LimiterConfig contains rate limiter configuration.
// Values are fixed once a limiter is built from them.
type LimiterConfig struct {
	// MaxRequestsPerMinute is the organization's RPM ceiling.
	// Default: 350
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`

	// MaxTokensPerMinute is the organization's TPM ceiling.
	// Default: 30000
	MaxTokensPerMinute int `yaml:"max_tokens_per_minute"`

	// Headroom scales both ceilings down. Must be in (0, 1].
	// Default: 0.9
	Headroom float64 `yaml:"headroom"`

	// CostEstimationModel selects the characters-per-token ratio used to
	// estimate prompt size. Empty means use the request's own model.
	// Default: "gpt-3.5-turbo"
	CostEstimationModel string `yaml:"cost_estimation_model"`

	// DefaultCompletionTokens is the expected completion size when a request
	// does not set max_tokens.
	// Default: 100
	DefaultCompletionTokens int `yaml:"default_completion_tokens"`

	// Jitter is added to every computed wait.
	// Default: 50ms
	Jitter time.Duration `yaml:"jitter"`

	// ReleaseDuringCall lets other callers run admission while a request is
	// in flight. In-flight estimates are reserved against both ceilings.
	// Default: false
	ReleaseDuringCall bool `yaml:"release_during_call"`
}

// ProviderConfig contains configuration for the upstream provider.
type ProviderConfig struct {
	// Name identifies the provider in logs and metrics.
	// Default: "openai"
	Name string `yaml:"name"`

	// BaseURL is the base URL for the provider's API endpoint.
	// Default: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer credential. Prefer CHATGATE_PROVIDER_API_KEY.
	APIKey string `yaml:"api_key"`

	// Timeout is the per-attempt HTTP timeout.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of extra attempts for network errors and 5xx.
	// Default: 0
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial interval between attempts.
	// Default: 1s
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxIdleConnsPerHost is the maximum idle connections per host.
	// Default: 10
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// IdleConnTimeout is how long an idle connection stays pooled.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// TokensConfig contains token estimation configuration.
type TokensConfig struct {
	// Models contains model-specific characters-per-token ratios. Keys are
	// matched exactly, then as prefixes, then "default".
	Models map[string]float64 `yaml:"models"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds the whole response, which includes any admission
	// wait, so it should exceed one window.
	// Default: 150s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 10485760 (10MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LedgerConfig contains usage ledger configuration.
type LedgerConfig struct {
	// Enabled controls whether completed calls are written to the ledger.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects the store implementation.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// BufferSize is the async write queue length. Entries are dropped when full.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// SQLite contains SQLite backend settings.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention contains pruning settings.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains ledger retention configuration.
type RetentionConfig struct {
	// Days is how many days of entries to keep. 0 keeps everything.
	// Default: 30
	Days int `yaml:"days"`

	// Schedule is a standard 5-field cron expression for pruning.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks API keys and bearer tokens in log output.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// File optionally sends logs to a rotated file instead of stdout.
	File LogFileConfig `yaml:"file"`
}

// LogFileConfig contains rotated log file settings.
type LogFileConfig struct {
	// Path is the log file. Empty means log to stdout.
	Path string `yaml:"path"`

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	// Default: 5
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept.
	// Default: 28
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is exposed.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "chatgate"
	Namespace string `yaml:"namespace"`
}
