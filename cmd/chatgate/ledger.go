package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/chatgate/pkg/cli"
	"mercator-hq/chatgate/pkg/config"
	"mercator-hq/chatgate/pkg/limits/ledger"
)

type ledgerQueryOptions struct {
	since   time.Duration
	limiter string
	model   string
	status  string
	limit   int
	format  string
}

func newLedgerCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and prune the usage ledger",
		Long: `The ledger holds one entry per call made through the limiter: when it was
admitted and completed, how long it waited, the estimated and actual token
counts, and whether it succeeded.`,
	}
	cmd.AddCommand(
		newLedgerQueryCmd(root),
		newLedgerSummaryCmd(root),
		newLedgerPruneCmd(root),
	)
	return cmd
}

func newLedgerQueryCmd(root *rootOptions) *cobra.Command {
	opts := &ledgerQueryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List ledger entries",
		Long: `List ledger entries ordered by completion time.

Examples:
  chatgate ledger query --since 1h
  chatgate ledger query --status error --format json
  chatgate ledger query --model gpt-4 --limit 50 --format csv > calls.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(opts.format)
			if err != nil {
				return err
			}

			entries, err := queryLedger(cmd.Context(), root, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 && format == cli.FormatText {
				fmt.Fprintln(out, "No ledger entries found.")
				return nil
			}
			if format == cli.FormatJSON {
				return cli.NewFormatter(format).FormatTo(out, entries)
			}
			return cli.NewFormatter(format).FormatTo(out, entryTable(entries))
		},
	}
	addFilterFlags(cmd, opts)
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "maximum entries to return (0 for all)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json, csv")
	return cmd
}

func newLedgerSummaryCmd(root *rootOptions) *cobra.Command {
	opts := &ledgerQueryOptions{}

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate ledger entries",
		Long: `Print totals over matching entries, including how far estimates were from
reported usage.

Examples:
  chatgate ledger summary --since 24h
  chatgate ledger summary --model gpt-4 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(opts.format)
			if err != nil {
				return err
			}

			entries, err := queryLedger(cmd.Context(), root, opts)
			if err != nil {
				return err
			}
			summary := ledger.Summarize(entries)
			if format == cli.FormatJSON {
				return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), summary)
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), summaryTable(summary))
		},
	}
	addFilterFlags(cmd, opts)
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json, csv")
	return cmd
}

func newLedgerPruneCmd(root *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old ledger entries",
		Long: `Delete entries that completed before now minus --older-than. Without the
flag, ledger.retention.days from the configuration is used.

Examples:
  chatgate ledger prune
  chatgate ledger prune --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			store, err := ledger.Open(cfg.Ledger, nil)
			if err != nil {
				return cli.NewCommandError("ledger prune", err)
			}
			defer store.Close()

			var deleted int64
			if olderThan > 0 {
				deleted, err = store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			} else {
				deleted, err = ledger.NewPruner(store, cfg.Ledger.Retention.Days, nil).Prune(cmd.Context())
			}
			if err != nil {
				return cli.NewCommandError("ledger prune", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d ledger entries\n", deleted)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete entries older than this (overrides ledger.retention.days)")
	return cmd
}

func addFilterFlags(cmd *cobra.Command, opts *ledgerQueryOptions) {
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only entries completed within this duration (0 for all)")
	cmd.Flags().StringVar(&opts.limiter, "limiter", "", "filter by limiter name")
	cmd.Flags().StringVar(&opts.model, "model", "", "filter by model")
	cmd.Flags().StringVar(&opts.status, "status", "", "filter by status: success, error")
}

func queryLedger(ctx context.Context, root *rootOptions, opts *ledgerQueryOptions) ([]*ledger.Entry, error) {
	switch opts.status {
	case "", ledger.StatusSuccess, ledger.StatusError:
	default:
		return nil, fmt.Errorf("invalid --status %q: must be success or error", opts.status)
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}

	store, err := openLedgerForRead(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	filter := ledger.Filter{
		Limiter: opts.limiter,
		Model:   opts.model,
		Status:  opts.status,
		Limit:   opts.limit,
	}
	if opts.since > 0 {
		filter.Since = time.Now().Add(-opts.since)
	}

	entries, err := store.Query(ctx, filter)
	if err != nil {
		return nil, cli.NewCommandError("ledger query", err)
	}
	return entries, nil
}

// openLedgerForRead opens the configured store even when recording is
// disabled, so an existing database can still be inspected.
func openLedgerForRead(cfg *config.Config) (ledger.Store, error) {
	store, err := ledger.Open(cfg.Ledger, nil)
	if err != nil {
		return nil, cli.NewCommandError("ledger", err)
	}
	return store, nil
}

// entryTable renders entries as rows.
type entryTable []*ledger.Entry

func (t entryTable) Header() []string {
	return []string{"COMPLETED", "REQUEST_ID", "LIMITER", "MODEL", "STATUS", "WAITED", "ESTIMATED", "ACTUAL", "SOURCE", "ERROR"}
}

func (t entryTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{
			e.CompletedAt.UTC().Format(time.RFC3339),
			e.RequestID,
			e.Limiter,
			e.Model,
			e.Status,
			e.Waited.Round(time.Millisecond).String(),
			strconv.Itoa(e.EstimatedTokens),
			strconv.Itoa(e.ActualTokens),
			e.UsageSource,
			e.Error,
		})
	}
	return rows
}

// summaryTable renders a Summary as metric/value rows.
type summaryTable ledger.Summary

func (t summaryTable) Header() []string {
	return []string{"METRIC", "VALUE"}
}

func (t summaryTable) Rows() [][]string {
	return [][]string{
		{"requests", strconv.Itoa(t.Requests)},
		{"failures", strconv.Itoa(t.Failures)},
		{"estimated_tokens", strconv.Itoa(t.EstimatedTokens)},
		{"actual_tokens", strconv.Itoa(t.ActualTokens)},
		{"degraded_usage", strconv.Itoa(t.DegradedUsage)},
	}
}
