// chatgate sends chat-completion requests through a client-side RPM/TPM rate
// limiter so a process stays under its organization's API ceilings.
//
// Usage:
//
//	# One prompt through the limiter
//	chatgate send "Summarize the plot of Hamlet"
//
//	# Serve an OpenAI-compatible endpoint that queues callers
//	chatgate serve --config chatgate.yaml
//
//	# Inspect recorded usage
//	chatgate ledger summary --since 1h
package main

import (
	"fmt"
	"os"

	"mercator-hq/chatgate/pkg/cli"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
