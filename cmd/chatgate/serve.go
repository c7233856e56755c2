package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/chatgate/pkg/cli"
	"mercator-hq/chatgate/pkg/limits/ratelimit"
	"mercator-hq/chatgate/pkg/server"
)

type serveOptions struct {
	listenAddress string
	dryRun        bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an OpenAI-compatible endpoint behind the rate limiter",
		Long: `Start an HTTP server whose POST /v1/chat/completions forwards to the
configured provider through a single shared rate limiter. Concurrent callers
queue for window capacity instead of tripping the upstream's 429s.

Examples:
  chatgate serve
  chatgate serve --config /etc/chatgate/chatgate.yaml --listen 0.0.0.0:8080
  chatgate serve --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.listenAddress, "listen", "l", "", "override server.listen_address")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "build everything but do not listen")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if opts.listenAddress != "" {
		cfg.Server.ListenAddress = opts.listenAddress
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return cli.NewConfigError(root.cfgFile, err)
	}
	defer provider.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ratelimit.NewMetrics(registry, cfg.Telemetry.Metrics.Namespace)

	ledgerRT, err := openLedger(cfg, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer func() {
		if cerr := ledgerRT.Close(); cerr != nil {
			logger.Warn("failed to close ledger", "error", cerr)
		}
	}()

	limOpts := append([]ratelimit.Option{ratelimit.WithMetrics(metrics)}, ledgerRT.observerOption()...)
	lim, err := newLimiter(cfg, provider, logger, limOpts...)
	if err != nil {
		return err
	}

	srvOpts := server.Options{
		Logger: logger,
		Health: newHealthChecker(provider, ledgerRT),
	}
	if cfg.Telemetry.Metrics.Enabled {
		srvOpts.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
		srvOpts.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	srv := server.New(cfg.Server, lim, srvOpts)

	rpm, tpm := lim.Limits()
	logger.Info("limiter ready",
		"max_requests_per_minute", rpm,
		"max_tokens_per_minute", tpm,
		"release_during_call", cfg.Limiter.ReleaseDuringCall,
		"ledger", cfg.Ledger.Enabled,
	)

	if opts.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid, would listen on %s (rpm=%d, tpm=%d)\n",
			cfg.Server.ListenAddress, rpm, tpm)
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	if ledgerRT != nil {
		scheduler := ledgerRT.scheduler(cfg.Ledger.Retention)
		g.Go(func() error {
			return scheduler.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return cli.NewCommandError("serve", err)
	}
	return nil
}
