package cli

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func newRebuildCommand() *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute cached balances from posted entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Ledger.Balances.Rebuild(ctx, balances.PeriodRange{From: from, To: to}); err != nil {
					return err
				}
				if err := rt.Reports.Invalidate(ctx); err != nil {
					rt.Logger.Warn("report cache bump", slog.Any("error", err))
				}
				printf(cmd.OutOrStdout(), "balances rebuilt\n")
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first period id (0 = earliest)")
	cmd.Flags().Int64Var(&to, "to", 0, "last period id (0 = latest)")
	return cmd
}

// ErrIntegrity is returned by verify when any check fails.
var ErrIntegrity = errors.New("ledger integrity check failed")

func newVerifyCommand() *cobra.Command {
	var payload jobs.IntegrityPayload
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay balances, recompute the digest chain and check trial balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				job := &jobs.IntegrityJob{
					Balances: rt.Ledger.Balances,
					Chain:    rt.Ledger.Journals,
					Periods:  rt.Ledger.Periods,
					Reports:  rt.Reports,
					Logger:   rt.Logger,
					Metrics:  jobmetrics.NewMetrics(rt.Metrics.Registerer()),
				}
				report, err := job.Run(ctx, payload)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printf(out, "periods checked: %d\n", report.PeriodsCheck)
				for _, m := range report.Mismatches {
					printf(out, "mismatch period=%d account=%d cached=%s/%s replayed=%s/%s\n",
						m.PeriodID, m.AccountID, m.CachedDebit, m.CachedCredit, m.ReplayedDebit, m.ReplayedCredit)
				}
				if report.ChainFault != nil {
					printf(out, "chain: %v\n", report.ChainFault)
				}
				for _, id := range report.Unbalanced {
					printf(out, "unbalanced period=%d\n", id)
				}
				if !report.Clean() {
					return ErrIntegrity
				}
				printf(out, "ok\n")
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&payload.FromPeriodID, "from", 0, "first period id (0 = earliest)")
	cmd.Flags().Int64Var(&payload.ToPeriodID, "to", 0, "last period id (0 = latest)")
	return cmd
}

func newPeriodCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period",
		Short: "Period lifecycle actions",
	}
	var actor int64
	cmd.PersistentFlags().Int64Var(&actor, "actor", 0, "actor id recorded in the audit log")

	transition := func(use, short string, fn func(context.Context, *app.Runtime, int64) (periods.Period, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <period-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return err
				}
				return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
					p, err := fn(ctx, rt, id)
					if err != nil {
						return err
					}
					printf(cmd.OutOrStdout(), "period %s is %s\n", p.Code, p.Status)
					return nil
				})
			},
		}
	}

	var auditRef string
	clearHold := transition("clear-hold", "Lift integrity holds after an external audit", func(ctx context.Context, rt *app.Runtime, id int64) (periods.Period, error) {
		return rt.Ledger.Periods.ClearIntegrityHold(ctx, id, actor, auditRef)
	})
	clearHold.Flags().StringVar(&auditRef, "audit-ref", "", "reference of the audit that cleared the hold")
	_ = clearHold.MarkFlagRequired("audit-ref")

	cmd.AddCommand(
		transition("soft-close", "Move an OPEN period to SOFT_CLOSED", func(ctx context.Context, rt *app.Runtime, id int64) (periods.Period, error) {
			return rt.Ledger.Periods.SoftClose(ctx, id, actor)
		}),
		transition("close", "Move a SOFT_CLOSED period to CLOSED", func(ctx context.Context, rt *app.Runtime, id int64) (periods.Period, error) {
			return rt.Ledger.Periods.ClosePeriod(ctx, id, actor)
		}),
		clearHold,
	)
	return cmd
}
