package config

import "time"

// Default values for configuration fields.
const (
	// Limiter defaults
	DefaultMaxRequestsPerMinute    = 350
	DefaultMaxTokensPerMinute      = 30000
	DefaultHeadroom                = 0.9
	DefaultCostEstimationModel     = "gpt-3.5-turbo"
	DefaultCompletionTokens        = 100
	DefaultJitter                  = 50 * time.Millisecond
	DefaultReleaseDuringCall       = false
	DefaultTokensCharsPerToken     = 4.0
	DefaultProviderName            = "openai"
	DefaultProviderBaseURL         = "https://api.openai.com/v1"
	DefaultProviderTimeout         = 60 * time.Second
	DefaultProviderMaxRetries      = 0
	DefaultProviderRetryBackoff    = time.Second
	DefaultProviderMaxIdleConns    = 100
	DefaultProviderMaxIdlePerHost  = 10
	DefaultProviderIdleConnTimeout = 90 * time.Second

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 150 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576  // 1MB
	DefaultMaxBodyBytes    = 10485760 // 10MB

	// Ledger defaults
	DefaultLedgerEnabled           = false
	DefaultLedgerBackend           = "sqlite"
	DefaultLedgerBufferSize        = 1000
	DefaultLedgerSQLitePath        = "data/ledger.db"
	DefaultLedgerSQLiteWALMode     = true
	DefaultLedgerSQLiteBusyTimeout = 5 * time.Second
	DefaultLedgerRetentionDays     = 30
	DefaultLedgerRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel      = "info"
	DefaultLoggingFormat     = "json"
	DefaultLoggingRedactPII  = true
	DefaultLogFileMaxSizeMB  = 100
	DefaultLogFileMaxBackups = 5
	DefaultLogFileMaxAgeDays = 28
	DefaultMetricsEnabled    = true
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "chatgate"
)

// NewDefaultConfig returns a Config with every field set to its default.
// LoadConfig decodes YAML on top of it, so booleans and numeric fields
// the file leaves out keep their defaults while explicit values, including
// zero, are preserved for validation.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Limiter: LimiterConfig{
			MaxRequestsPerMinute:    DefaultMaxRequestsPerMinute,
			MaxTokensPerMinute:      DefaultMaxTokensPerMinute,
			Headroom:                DefaultHeadroom,
			CostEstimationModel:     DefaultCostEstimationModel,
			DefaultCompletionTokens: DefaultCompletionTokens,
			Jitter:                  DefaultJitter,
			ReleaseDuringCall:       DefaultReleaseDuringCall,
		},
		Provider: ProviderConfig{
			MaxRetries: DefaultProviderMaxRetries,
		},
		Ledger: LedgerConfig{
			Enabled: DefaultLedgerEnabled,
			SQLite: SQLiteConfig{
				WALMode: DefaultLedgerSQLiteWALMode,
			},
			Retention: RetentionConfig{
				Days: DefaultLedgerRetentionDays,
			},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				RedactPII: DefaultLoggingRedactPII,
			},
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills fields whose zero value is never meaningful.
// Limiter ceilings and headroom are left alone so an explicit zero reaches
// validation instead of being silently replaced.
//
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Provider defaults
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProviderName
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultProviderBaseURL
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = DefaultProviderTimeout
	}
	if cfg.Provider.RetryBackoff == 0 {
		cfg.Provider.RetryBackoff = DefaultProviderRetryBackoff
	}
	if cfg.Provider.MaxIdleConns == 0 {
		cfg.Provider.MaxIdleConns = DefaultProviderMaxIdleConns
	}
	if cfg.Provider.MaxIdleConnsPerHost == 0 {
		cfg.Provider.MaxIdleConnsPerHost = DefaultProviderMaxIdlePerHost
	}
	if cfg.Provider.IdleConnTimeout == 0 {
		cfg.Provider.IdleConnTimeout = DefaultProviderIdleConnTimeout
	}

	// Tokens defaults
	if cfg.Tokens.Models == nil {
		cfg.Tokens.Models = map[string]float64{
			"gpt-4":         4.0,
			"gpt-3.5-turbo": 4.0,
			"default":       DefaultTokensCharsPerToken,
		}
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Ledger defaults
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.BufferSize == 0 {
		cfg.Ledger.BufferSize = DefaultLedgerBufferSize
	}
	if cfg.Ledger.SQLite.Path == "" {
		cfg.Ledger.SQLite.Path = DefaultLedgerSQLitePath
	}
	if cfg.Ledger.SQLite.BusyTimeout == 0 {
		cfg.Ledger.SQLite.BusyTimeout = DefaultLedgerSQLiteBusyTimeout
	}
	if cfg.Ledger.Retention.Schedule == "" {
		cfg.Ledger.Retention.Schedule = DefaultLedgerRetentionSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Logging.File.MaxSizeMB == 0 {
		cfg.Telemetry.Logging.File.MaxSizeMB = DefaultLogFileMaxSizeMB
	}
	if cfg.Telemetry.Logging.File.MaxBackups == 0 {
		cfg.Telemetry.Logging.File.MaxBackups = DefaultLogFileMaxBackups
	}
	if cfg.Telemetry.Logging.File.MaxAgeDays == 0 {
		cfg.Telemetry.Logging.File.MaxAgeDays = DefaultLogFileMaxAgeDays
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}
