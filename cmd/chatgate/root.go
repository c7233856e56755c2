package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile string
	envFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "chatgate",
		Short: "Rate-limited chat-completion gateway",
		Long: `chatgate keeps chat-completion traffic under an organization's
requests-per-minute and tokens-per-minute ceilings.

Each request's token cost is estimated before it is sent. Callers wait until
the trailing one-minute window has room, and each call is recorded with the
usage the API actually reported.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path (defaults and CHATGATE_* env vars when empty)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", "", "dotenv file to load before reading the environment (default .env if present)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newSendCmd(opts),
		newServeCmd(opts),
		newValidateCmd(opts),
		newLedgerCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadEnvFile loads path into the process environment. Variables that are
// already set win. With no path, a missing .env is not an error.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
