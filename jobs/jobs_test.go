package jobs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func TestIntegrityJobCleanLedger(t *testing.T) {
	f := ledgertest.New(t)
	f.Post(ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00"))

	job := &jobs.IntegrityJob{
		Balances: f.Ledger.Balances,
		Chain:    f.Ledger.Journals,
		Periods:  f.Ledger.Periods,
		Logger:   quietLogger(),
		Metrics:  newMetrics(),
	}
	report, err := job.Run(f.Ctx, jobs.IntegrityPayload{})
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.Equal(t, 1, report.PeriodsCheck)
}

func TestIntegrityJobFlagsDivergentCache(t *testing.T) {
	f := ledgertest.New(t)
	f.Post(ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00"))
	f.Ledger.Balances.ApplyIncrement(balances.Increment{
		PeriodID:  f.Period.ID,
		AccountID: f.Cash.ID,
		Date:      ledgertest.Jan2025,
		Side:      shared.SideDebit,
		Amount:    ledgertest.Amount("1.00"),
	}, 1)

	invalidator := &countingInvalidator{}
	job := &jobs.IntegrityJob{
		Balances: f.Ledger.Balances,
		Chain:    f.Ledger.Journals,
		Periods:  f.Ledger.Periods,
		Reports:  invalidator,
		Logger:   quietLogger(),
		Metrics:  newMetrics(),
	}
	task, err := jobs.NewIntegrityTask(jobs.IntegrityPayload{FromPeriodID: f.Period.ID, ToPeriodID: f.Period.ID})
	require.NoError(t, err)
	require.NoError(t, job.Handle(f.Ctx, task))

	p, err := f.Ledger.Periods.Get(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.True(t, p.OnHold())
	require.Equal(t, f.Cash.ID, p.Holds[0].AccountID)
	require.Equal(t, 1, invalidator.calls)

	// the cache was replaced by the replay
	require.True(t, f.Balance(f.Cash).Equal(ledgertest.Amount("10.00")))

	report, err := job.Run(f.Ctx, jobs.IntegrityPayload{})
	require.NoError(t, err)
	require.True(t, report.Clean())
}

type stubBalances struct {
	tbErr error
}

func (s stubBalances) Verify(context.Context, balances.PeriodRange) ([]balances.Mismatch, error) {
	return nil, nil
}

func (s stubBalances) TrialBalance(_ context.Context, periodID int64) (balances.TrialBalance, error) {
	if periodID == 2 {
		return balances.TrialBalance{}, s.tbErr
	}
	return balances.TrialBalance{}, nil
}

type stubChain struct{ err error }

func (s stubChain) VerifyChain(context.Context) error { return s.err }

type stubPeriods struct {
	list    []periods.Period
	flagged []*shared.IntegrityFault
}

func (s *stubPeriods) List(context.Context) ([]periods.Period, error) { return s.list, nil }

func (s *stubPeriods) FlagIntegrityFault(_ context.Context, fault *shared.IntegrityFault) error {
	s.flagged = append(s.flagged, fault)
	return nil
}

func TestIntegrityJobReportsChainAndTrialBalanceFaults(t *testing.T) {
	ps := &stubPeriods{list: []periods.Period{{ID: 1}, {ID: 2}, {ID: 3}}}
	chainFault := &shared.IntegrityFault{PeriodID: 3, Reason: "digest mismatch at sequence 9"}
	job := &jobs.IntegrityJob{
		Balances:    stubBalances{tbErr: &shared.IntegrityFault{PeriodID: 2, Reason: "not zero"}},
		Chain:       stubChain{err: chainFault},
		Periods:     ps,
		Logger:      quietLogger(),
		Metrics:     newMetrics(),
		Parallelism: 1,
	}

	report, err := job.Run(context.Background(), jobs.IntegrityPayload{FromPeriodID: 2})
	require.NoError(t, err)
	require.False(t, report.Clean())
	require.Equal(t, chainFault, report.ChainFault)
	require.Equal(t, []int64{2}, report.Unbalanced)
	require.Equal(t, 2, report.PeriodsCheck)
	require.Len(t, ps.flagged, 1)

	boom := errors.New("store down")
	job.Chain = stubChain{err: boom}
	_, err = job.Run(context.Background(), jobs.IntegrityPayload{})
	require.ErrorIs(t, err, boom)
}

func TestIntegrityJobRejectsBadPayload(t *testing.T) {
	job := &jobs.IntegrityJob{}
	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = job.Run(context.Background(), jobs.IntegrityPayload{})
	require.Error(t, err)
}

func TestMatchJobProposes(t *testing.T) {
	f := ledgertest.New(t)
	f.Post(ledgertest.Debit(f.Bank, "75.00"), ledgertest.Credit(f.Revenue, "75.00"))
	_, err := f.Ledger.Reconcile.Ingest(f.Ctx, []reconcile.ExternalTransaction{{
		ID: "feed-1", Amount: ledgertest.Amount("75.00"), ValueDate: ledgertest.Jan2025.AddDate(0, 0, 10),
	}})
	require.NoError(t, err)

	job := &jobs.MatchJob{Matcher: f.Ledger.Reconcile, Logger: quietLogger(), Metrics: newMetrics()}
	task, err := jobs.NewMatchTask(jobs.MatchPayload{AccountID: f.Bank.ID})
	require.NoError(t, err)
	require.NoError(t, job.Handle(f.Ctx, task))

	proposals, err := f.Ledger.Reconcile.Proposals(f.Ctx, reconcile.ProposalProposed)
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	err = job.Handle(f.Ctx, asynq.NewTask(jobs.TaskReconcileMatch, []byte("[")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeQueue struct {
	tasks  []*asynq.Task
	failAt int
	err    error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.failAt > 0 && len(q.tasks)+1 == q.failAt {
		q.failAt = 0
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func emitN(o *shared.Outbox, n int) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		o.Emit(shared.NewEvent(shared.EventEntryPosted, string(rune('a'+i)), at))
	}
}

func TestEventRelayFlush(t *testing.T) {
	outbox := shared.NewOutbox()
	queue := &fakeQueue{failAt: 2, err: errors.New("redis down")}
	relay := &jobs.EventRelay{Outbox: outbox, Queue: queue, Logger: quietLogger(), Metrics: newMetrics()}

	emitN(outbox, 3)
	require.Error(t, relay.Flush(context.Background()))
	require.Len(t, queue.tasks, 1)
	require.Equal(t, 2, outbox.Len())

	require.NoError(t, relay.Flush(context.Background()))
	require.Len(t, queue.tasks, 3)
	require.Zero(t, outbox.Len())

	var evt shared.Event
	require.NoError(t, json.Unmarshal(queue.tasks[2].Payload(), &evt))
	require.Equal(t, "c", evt.EntityID)
	require.Equal(t, jobs.TaskLedgerEvent, queue.tasks[2].Type())
}

func TestEventRelaySkipsDuplicateIDs(t *testing.T) {
	outbox := shared.NewOutbox()
	queue := &fakeQueue{failAt: 1, err: asynq.ErrTaskIDConflict}
	relay := &jobs.EventRelay{Outbox: outbox, Queue: queue, Logger: quietLogger(), Metrics: newMetrics()}

	emitN(outbox, 2)
	require.NoError(t, relay.Flush(context.Background()))
	require.Len(t, queue.tasks, 1)
	require.Zero(t, outbox.Len())
}

func TestEventRelayWithoutQueueDrops(t *testing.T) {
	outbox := shared.NewOutbox()
	relay := &jobs.EventRelay{Outbox: outbox, Logger: quietLogger(), Metrics: newMetrics()}
	emitN(outbox, 2)
	require.NoError(t, relay.Flush(context.Background()))
	require.Zero(t, outbox.Len())
}

func TestEventRelayRunFlushesOnShutdown(t *testing.T) {
	outbox := shared.NewOutbox()
	queue := &fakeQueue{}
	relay := &jobs.EventRelay{Outbox: outbox, Queue: queue, Logger: quietLogger(), Metrics: newMetrics(), Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	emitN(outbox, 1)
	require.Eventually(t, func() bool { return outbox.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEventLogHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := jobs.EventLogHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

	evt := shared.NewEvent(shared.EventIntegrityFault, "4", time.Now()).With("reason", "drift")
	task, err := jobs.NewEventTask(evt)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Contains(t, buf.String(), `"alert":"critical"`)
	require.Contains(t, buf.String(), `"reason":"drift"`)

	buf.Reset()
	task, err = jobs.NewEventTask(shared.NewEvent(shared.EventBudgetExceeded, "9", time.Now()).With("overage", "12.00"))
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Contains(t, buf.String(), `"level":"WARN"`)
	require.Contains(t, buf.String(), `"alert":"budget"`)

	err = handler(context.Background(), asynq.NewTask(jobs.TaskLedgerEvent, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	jobs.NewHandler(nil, quietLogger()).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), jobs.QueueEvents)
}

func relayedTotal(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "odyssey_ledger_events_relayed_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestEventRelayCountsOnlyEnqueuedEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	outbox := shared.NewOutbox()
	relay := &jobs.EventRelay{Outbox: outbox, Logger: quietLogger(), Metrics: jobmetrics.NewMetrics(reg)}

	// duplicates are already on the queue
	relay.Queue = &fakeQueue{failAt: 1, err: asynq.ErrTaskIDConflict}
	emitN(outbox, 3)
	require.NoError(t, relay.Flush(context.Background()))
	require.Equal(t, float64(2), relayedTotal(t, reg))

	// a failed flush counts what got through before the failure
	relay.Queue = &fakeQueue{failAt: 2, err: errors.New("redis down")}
	emitN(outbox, 3)
	require.Error(t, relay.Flush(context.Background()))
	require.Equal(t, float64(3), relayedTotal(t, reg))
	require.Equal(t, 2, outbox.Len())

	// nothing is counted when events are only logged
	relay.Queue = nil
	require.NoError(t, relay.Flush(context.Background()))
	require.Equal(t, float64(3), relayedTotal(t, reg))
}
