package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "statementctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statementctl",
		Short: "Bank statement extraction tools",
		Long: `statementctl runs the extraction pipeline against local files, checks
statement payloads against the validation rules, and prepares the job database.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newIngestCmd(),
		newValidateCmd(),
		newMigrateCmd(),
	)
	return cmd
}
