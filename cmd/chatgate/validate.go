package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/chatgate/pkg/providers"
	"mercator-hq/chatgate/pkg/telemetry/logging"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and print the effective limits",
		Long: `Load the configuration (file, .env and CHATGATE_* variables), validate it
and print the ceilings the limiter will actually enforce after headroom.

Examples:
  chatgate validate
  chatgate validate --config chatgate.yaml --env prod.env`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			// Never called; New only needs a non-nil completer.
			noop := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
				return nil, fmt.Errorf("validate does not send requests")
			})
			lim, err := newLimiter(cfg, noop, logging.Nop())
			if err != nil {
				return err
			}
			rpm, tpm := lim.Limits()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Configuration valid")
			fmt.Fprintf(out, "  provider:   %s (%s), key %s\n",
				cfg.Provider.Name, cfg.Provider.BaseURL, logging.RedactAPIKey(cfg.Provider.APIKey))
			fmt.Fprintf(out, "  limits:     %d requests/min, %d tokens/min (headroom %.2f)\n",
				rpm, tpm, cfg.Limiter.Headroom)
			fmt.Fprintf(out, "  estimation: %s, %d default completion tokens, jitter %s\n",
				cfg.Limiter.CostEstimationModel, cfg.Limiter.DefaultCompletionTokens, cfg.Limiter.Jitter)
			mode := "held"
			if cfg.Limiter.ReleaseDuringCall {
				mode = "released"
			}
			fmt.Fprintf(out, "  lock mode:  %s during upstream calls\n", mode)
			if cfg.Ledger.Enabled {
				fmt.Fprintf(out, "  ledger:     %s, keep %d days\n", cfg.Ledger.Backend, cfg.Ledger.Retention.Days)
			} else {
				fmt.Fprintln(out, "  ledger:     disabled")
			}
			return nil
		},
	}
}
