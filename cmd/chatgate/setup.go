package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/chatgate/pkg/cli"
	"mercator-hq/chatgate/pkg/config"
	"mercator-hq/chatgate/pkg/limits/ledger"
	"mercator-hq/chatgate/pkg/limits/ratelimit"
	"mercator-hq/chatgate/pkg/processing/tokens"
	"mercator-hq/chatgate/pkg/providers"
	"mercator-hq/chatgate/pkg/providers/openai"
	"mercator-hq/chatgate/pkg/telemetry/health"
	"mercator-hq/chatgate/pkg/telemetry/logging"
)

// loadConfig reads the configuration and stores it as the global instance.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(opts.cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(opts.cfgFile, err)
	}
	if opts.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	config.SetConfig(cfg)
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Errorf("telemetry.logging: %w", err))
	}
	slog.SetDefault(logger.Slog())
	return logger, nil
}

func newProvider(cfg config.ProviderConfig) (*openai.Provider, error) {
	return openai.NewProvider(providers.ProviderConfig{
		Name:                cfg.Name,
		BaseURL:             cfg.BaseURL,
		APIKey:              cfg.APIKey,
		Timeout:             cfg.Timeout,
		MaxRetries:          cfg.MaxRetries,
		RetryBackoff:        cfg.RetryBackoff,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	})
}

func limiterConfig(cfg config.LimiterConfig) ratelimit.Config {
	return ratelimit.Config{
		Name:                    ratelimit.DefaultName,
		MaxRequestsPerMinute:    cfg.MaxRequestsPerMinute,
		MaxTokensPerMinute:      cfg.MaxTokensPerMinute,
		Headroom:                cfg.Headroom,
		CostEstimationModel:     cfg.CostEstimationModel,
		DefaultCompletionTokens: cfg.DefaultCompletionTokens,
		Jitter:                  cfg.Jitter,
		Window:                  ratelimit.DefaultWindow,
		ReleaseDuringCall:       cfg.ReleaseDuringCall,
	}
}

// newLimiter wraps completer in a limiter configured from cfg. Extra options
// (metrics, observer) are applied after the defaults.
func newLimiter(cfg *config.Config, completer providers.Completer, logger *logging.Logger, extra ...ratelimit.Option) (*ratelimit.Limiter, error) {
	opts := []ratelimit.Option{
		ratelimit.WithEstimator(tokens.NewSimpleEstimator(&cfg.Tokens, cfg.Limiter.DefaultCompletionTokens)),
		ratelimit.WithLogger(logger),
	}
	opts = append(opts, extra...)

	lim, err := ratelimit.New(limiterConfig(cfg.Limiter), completer, opts...)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Errorf("limiter: %w", err))
	}
	return lim, nil
}

// ledgerRuntime is an open ledger store with its async recorder.
type ledgerRuntime struct {
	store    ledger.Store
	recorder *ledger.Recorder
	logger   *slog.Logger
}

// openLedger returns nil when the ledger is disabled.
func openLedger(cfg *config.Config, logger *logging.Logger) (*ledgerRuntime, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil
	}

	slogger := logger.Slog().With("component", "ledger")
	store, err := ledger.Open(cfg.Ledger, slogger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	return &ledgerRuntime{
		store:    store,
		recorder: ledger.NewRecorder(store, ledger.RecorderConfig{BufferSize: cfg.Ledger.BufferSize}, slogger),
		logger:   slogger,
	}, nil
}

// scheduler returns the retention scheduler for the ledger.
func (l *ledgerRuntime) scheduler(cfg config.RetentionConfig) *ledger.Scheduler {
	return ledger.NewScheduler(ledger.NewPruner(l.store, cfg.Days, l.logger), cfg.Schedule)
}

// Close drains pending writes and closes the store.
func (l *ledgerRuntime) Close() error {
	if l == nil {
		return nil
	}
	recErr := l.recorder.Close()
	storeErr := l.store.Close()
	if recErr != nil {
		return recErr
	}
	return storeErr
}

// register adds a readiness check that the store answers a query.
func (l *ledgerRuntime) register(checker *health.Checker) {
	if l == nil {
		return
	}
	checker.Register("ledger", func(ctx context.Context) error {
		_, err := l.store.Query(ctx, ledger.Filter{Limit: 1})
		return err
	})
}

// newHealthChecker reports not ready once the provider has failed several
// requests in a row.
func newHealthChecker(provider providers.Provider, l *ledgerRuntime) *health.Checker {
	checker := health.New(2 * time.Second)
	checker.Register("provider", func(context.Context) error {
		h := provider.GetHealth()
		if !h.IsHealthy {
			return fmt.Errorf("%d consecutive failures: %s", h.ConsecutiveFailures, h.LastError)
		}
		return nil
	})
	l.register(checker)
	return checker
}

// observerOption attaches the recorder to a limiter when the ledger is on.
func (l *ledgerRuntime) observerOption() []ratelimit.Option {
	if l == nil {
		return nil
	}
	return []ratelimit.Option{ratelimit.WithObserver(l.recorder)}
}

// runWithLedger opens the ledger for a short-lived command and closes it
// when fn returns.
func runWithLedger(ctx context.Context, cfg *config.Config, logger *logging.Logger, fn func(ctx context.Context, l *ledgerRuntime) error) error {
	l, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(); cerr != nil {
			logger.Warn("failed to close ledger", "error", cerr)
		}
	}()
	return fn(ctx, l)
}
