package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Matcher runs a reconciliation matching pass.
type Matcher interface {
	RunMatching(ctx context.Context, accountID int64) ([]reconcile.Result, error)
}

// MatchJob proposes matches for bank-feed rows on a schedule. Confirmation
// stays a manual step.
type MatchJob struct {
	Matcher Matcher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle is the asynq entry point.
func (j *MatchJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Matcher == nil {
		return errors.New("reconcile match: job not configured")
	}
	var payload MatchPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics().Track(TaskReconcileMatch)
	defer func() { err = tracker.End(err) }()

	results, err := j.Matcher.RunMatching(ctx, payload.AccountID)
	if err != nil {
		return err
	}
	proposed := 0
	for _, r := range results {
		if r.Status == reconcile.ResultProposed {
			proposed++
		}
	}
	j.logger().Info("reconciliation pass completed",
		slog.Int64("account_id", payload.AccountID),
		slog.Int("transactions", len(results)),
		slog.Int("proposed", proposed),
		slog.Int("unmatched", len(results)-proposed),
	)
	return nil
}

func (j *MatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileMatch))
	}
	return slog.Default().With(slog.String("job", TaskReconcileMatch))
}

func (j *MatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
