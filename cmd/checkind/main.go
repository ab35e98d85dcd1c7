// Command checkind runs the proactive check-in engine as a daemon and offers
// catalog tooling.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:          "checkind",
		Short:        "Proactive wellbeing check-in daemon",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		cmd.SetContext(logContext(cmd.Context(), debug))
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logs")
	root.AddCommand(newServeCmd(), newCatalogCmd())
	return root
}

// logContext sets up clue logging: terminal format on a TTY, JSON otherwise.
func logContext(ctx context.Context, debug bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}
