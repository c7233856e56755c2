package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/chatgate/pkg/cli"
	"mercator-hq/chatgate/pkg/processing/tokens"
	"mercator-hq/chatgate/pkg/providers"
)

type sendOptions struct {
	model       string
	system      string
	maxTokens   int
	temperature float64
	format      string
	timeout     time.Duration
}

// sendResult is the JSON shape printed by send --format json.
type sendResult struct {
	ID           string                `json:"id"`
	Model        string                `json:"model"`
	Content      string                `json:"content"`
	FinishReason string                `json:"finish_reason"`
	Usage        *providers.TokenUsage `json:"usage,omitempty"`
	UsageSource  tokens.UsageSource    `json:"usage_source"`
	ActualTokens int                   `json:"actual_tokens"`
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send [prompt]",
		Short: "Send one prompt through the rate limiter",
		Long: `Send a single chat-completion request through the rate limiter and print
the reply. The prompt is read from the arguments, or from stdin when none are
given.

Examples:
  chatgate send "Write a haiku about queues"
  echo "Explain TCP slow start" | chatgate send --model gpt-4 --max-tokens 200
  chatgate send --format json "ping"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, root, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "gpt-3.5-turbo", "model to request")
	cmd.Flags().StringVar(&opts.system, "system", "", "optional system message")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "completion token cap (also used as the expected completion size)")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "overall deadline including time spent waiting for capacity (0 for none)")
	return cmd
}

func runSend(cmd *cobra.Command, root *rootOptions, opts *sendOptions, args []string) error {
	format, err := cli.ParseOutputFormat(opts.format)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return fmt.Errorf("csv output is not supported by send")
	}

	prompt, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
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

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	req := &providers.CompletionRequest{
		Model:       opts.model,
		Messages:    buildMessages(opts.system, prompt),
		MaxTokens:   opts.maxTokens,
		Temperature: opts.temperature,
	}

	return runWithLedger(ctx, cfg, logger, func(ctx context.Context, l *ledgerRuntime) error {
		lim, err := newLimiter(cfg, provider, logger, l.observerOption()...)
		if err != nil {
			return err
		}

		resp, err := lim.Send(ctx, req)
		if err != nil {
			return cli.NewCommandError("send", err)
		}

		usage := tokens.ExtractUsage(resp)
		out := cmd.OutOrStdout()
		if format == cli.FormatJSON {
			return cli.NewFormatter(format).FormatTo(out, sendResult{
				ID:           resp.ID,
				Model:        resp.Model,
				Content:      resp.Content,
				FinishReason: resp.FinishReason,
				Usage:        resp.Usage,
				UsageSource:  usage.Source,
				ActualTokens: usage.Tokens,
			})
		}

		fmt.Fprintln(out, resp.Content)
		fmt.Fprintf(cmd.ErrOrStderr(), "\nmodel=%s tokens=%d usage_source=%s finish_reason=%s\n",
			resp.Model, usage.Tokens, usage.Source, resp.FinishReason)
		return nil
	})
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("a prompt is required")
	}
	return prompt, nil
}

func buildMessages(system, prompt string) []providers.Message {
	messages := make([]providers.Message, 0, 2)
	if system != "" {
		messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: system})
	}
	return append(messages, providers.Message{Role: providers.RoleUser, Content: prompt})
}
