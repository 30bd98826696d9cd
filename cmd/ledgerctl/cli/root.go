// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// NewRootCommand assembles the ledgerctl command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "ledgerctl",
		Short:   "Operate an odyssey ledger: seed, rebuild, verify and close periods",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.AddCommand(
		newSeedCommand(),
		newRebuildCommand(),
		newVerifyCommand(),
		newPeriodCommand(),
		newJobsCommand(),
	)
	return root
}

// withRuntime loads config from the environment, builds the runtime and
// hands it to fn.
func withRuntime(cmd *cobra.Command, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.Build(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		return err
	}
	defer rt.Close()
	runErr := fn(ctx, rt)
	if err := flushEvents(ctx, rt); err != nil {
		rt.Logger.Warn("flush ledger events", slog.Any("error", err), slog.Int("pending", rt.Outbox.Len()))
	}
	return runErr
}

// flushEvents hands the events a command emitted to the task queue before the
// process exits. Without Redis they are logged and dropped.
func flushEvents(ctx context.Context, rt *app.Runtime) error {
	var queue jobs.Enqueuer
	if rt.Redis != nil {
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: rt.Config.RedisAddr})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		queue = client
	}
	return relayPending(ctx, rt, queue)
}

func relayPending(ctx context.Context, rt *app.Runtime, queue jobs.Enqueuer) error {
	if rt.Outbox.Len() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	relay := &jobs.EventRelay{Outbox: rt.Outbox, Queue: queue, Logger: rt.Logger, Metrics: jobmetrics.NewMetrics(nil)}
	return relay.Flush(ctx)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
