package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// BalanceVerifier replays balances and reports divergent cells.
type BalanceVerifier interface {
	Verify(ctx context.Context, r balances.PeriodRange) ([]balances.Mismatch, error)
	TrialBalance(ctx context.Context, periodID int64) (balances.TrialBalance, error)
}

// ChainVerifier recomputes the posted-entry digest chain.
type ChainVerifier interface {
	VerifyChain(ctx context.Context) error
}

// PeriodLister lists periods and places integrity holds.
type PeriodLister interface {
	List(ctx context.Context) ([]periods.Period, error)
	FlagIntegrityFault(ctx context.Context, fault *shared.IntegrityFault) error
}

// ReportInvalidator drops cached statements after balances are replaced.
type ReportInvalidator interface {
	Invalidate(ctx context.Context) error
}

// IntegrityReport summarises one integrity run.
type IntegrityReport struct {
	Mismatches   []balances.Mismatch
	ChainFault   *shared.IntegrityFault
	Unbalanced   []int64
	PeriodsCheck int
}

// Clean reports whether nothing was flagged.
func (r IntegrityReport) Clean() bool {
	return len(r.Mismatches) == 0 && r.ChainFault == nil && len(r.Unbalanced) == 0
}

// IntegrityJob verifies the incremental balance cache against a full replay,
// recomputes the digest chain and checks every period's trial balance.
type IntegrityJob struct {
	Balances BalanceVerifier
	Chain    ChainVerifier
	Periods  PeriodLister
	Reports  ReportInvalidator
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	// Parallelism bounds concurrent trial balance checks.
	Parallelism int
}

// Handle is the asynq entry point.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run performs the checks. Faults are flagged on their periods and reported,
// they are not returned as errors.
func (j *IntegrityJob) Run(ctx context.Context, payload IntegrityPayload) (report IntegrityReport, err error) {
	if j == nil || j.Balances == nil || j.Chain == nil || j.Periods == nil {
		return report, errors.New("ledger integrity: job not configured")
	}
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	logger := j.logger()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var verr error
		report.Mismatches, verr = j.Balances.Verify(gctx, balances.PeriodRange{From: payload.FromPeriodID, To: payload.ToPeriodID})
		return verr
	})
	g.Go(func() error {
		cerr := j.Chain.VerifyChain(gctx)
		var fault *shared.IntegrityFault
		if errors.As(cerr, &fault) {
			report.ChainFault = fault
			return j.Periods.FlagIntegrityFault(gctx, fault)
		}
		return cerr
	})
	if err = g.Wait(); err != nil {
		logger.Error("integrity replay failed", slog.Any("error", err))
		return report, err
	}

	list, err := j.Periods.List(ctx)
	if err != nil {
		return report, err
	}
	checked := inRange(list, payload)
	report.PeriodsCheck = len(checked)
	unbalanced := make([]bool, len(checked))
	tg, tctx := errgroup.WithContext(ctx)
	tg.SetLimit(j.parallelism())
	for i, p := range checked {
		tg.Go(func() error {
			_, terr := j.Balances.TrialBalance(tctx, p.ID)
			if errors.Is(terr, shared.ErrIntegrityFault) {
				unbalanced[i] = true
				return nil
			}
			return terr
		})
	}
	if err = tg.Wait(); err != nil {
		return report, err
	}
	for i, bad := range unbalanced {
		if bad {
			report.Unbalanced = append(report.Unbalanced, checked[i].ID)
		}
	}

	for _, m := range report.Mismatches {
		j.metrics().AddMismatches(m.PeriodID, 1)
		logger.Error("balance cache diverged from ledger",
			slog.String("alert", "critical"),
			slog.Int64("period_id", m.PeriodID),
			slog.Int64("account_id", m.AccountID),
			slog.String("cached_debit", m.CachedDebit.String()),
			slog.String("replayed_debit", m.ReplayedDebit.String()),
			slog.String("cached_credit", m.CachedCredit.String()),
			slog.String("replayed_credit", m.ReplayedCredit.String()),
		)
	}
	if report.ChainFault != nil {
		logger.Error("digest chain broken", slog.String("alert", "critical"), slog.Any("error", report.ChainFault))
	}
	for _, id := range report.Unbalanced {
		logger.Error("trial balance not zero", slog.String("alert", "critical"), slog.Int64("period_id", id))
	}
	if len(report.Mismatches) > 0 && j.Reports != nil {
		if ierr := j.Reports.Invalidate(ctx); ierr != nil {
			logger.Warn("report cache bump", slog.Any("error", ierr))
		}
	}

	logger.Info("ledger integrity check completed",
		slog.Int("periods", report.PeriodsCheck),
		slog.Int("mismatches", len(report.Mismatches)),
		slog.Bool("clean", report.Clean()),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func inRange(list []periods.Period, payload IntegrityPayload) []periods.Period {
	from, to := 0, len(list)-1
	for i, p := range list {
		if p.ID == payload.FromPeriodID {
			from = i
		}
		if p.ID == payload.ToPeriodID {
			to = i
		}
	}
	if len(list) == 0 || from > to {
		return nil
	}
	return list[from : to+1]
}

func (j *IntegrityJob) parallelism() int {
	if j.Parallelism > 0 {
		return j.Parallelism
	}
	return 4
}

func (j *IntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *IntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
