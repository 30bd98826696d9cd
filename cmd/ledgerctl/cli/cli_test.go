package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/store/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, err := accounting.New(accounting.Options{Store: memory.New()})
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))

	month := time.Date(2025, time.March, 17, 0, 0, 0, 0, time.UTC)
	first, err := Seed(ctx, l, SeedOptions{Chart: DefaultChart, Month: month, ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, len(DefaultChart), first.Accounts)
	require.Zero(t, first.Skipped)
	require.NotNil(t, first.Period)
	require.Equal(t, "2025-03", first.Period.Code)
	require.Equal(t, time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC), first.Period.EndDate)

	second, err := Seed(ctx, l, SeedOptions{Chart: DefaultChart, Month: month})
	require.NoError(t, err)
	require.Zero(t, second.Accounts)
	require.Equal(t, len(DefaultChart), second.Skipped)
	require.Nil(t, second.Period)

	chart, err := l.Accounts.Chart(ctx)
	require.NoError(t, err)
	bank, ok := chart.ByCode("1000.10.02")
	require.True(t, ok)
	require.Equal(t, 2, bank.Depth())

	next, err := Seed(ctx, l, SeedOptions{Month: month.AddDate(0, 1, 0)})
	require.NoError(t, err)
	require.Equal(t, "2025-04", next.Period.Code)
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask("integrity", TriggerOptions{FromPeriodID: 3, ToPeriodID: 5})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerIntegrity, task.Type())
	var payload jobs.IntegrityPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(5), payload.ToPeriodID)

	task, err = BuildTask(jobs.TaskReconcileMatch, TriggerOptions{AccountID: 9})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskReconcileMatch, task.Type())

	_, err = BuildTask("payroll", TriggerOptions{})
	require.ErrorContains(t, err, "unsupported job")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsOverMemoryStore(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("LEDGER_LOCK", "local")
	t.Setenv("LOG_FORMAT", "json")

	out, err := run(t, "seed", "--month", "2025-03")
	require.NoError(t, err)
	require.Contains(t, out, "accounts created: 18")
	require.Contains(t, out, "period 2025-03")

	out, err = run(t, "verify")
	require.NoError(t, err)
	require.Contains(t, out, "ok")

	_, err = run(t, "seed", "--month", "March")
	require.ErrorContains(t, err, "invalid --month")

	_, err = run(t, "period", "clear-hold", "1")
	require.Error(t, err)
}

type recordingQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *recordingQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestRelayPendingHandsEventsToQueue(t *testing.T) {
	ctx := context.Background()
	rt := &app.Runtime{Outbox: shared.NewOutbox(), Logger: slog.New(slog.DiscardHandler)}
	l, err := accounting.New(accounting.Options{Store: memory.New(), Events: rt.Outbox})
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	_, err = Seed(ctx, l, SeedOptions{Chart: DefaultChart[:3], Month: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	pending := rt.Outbox.Len()
	require.Positive(t, pending)

	down := &recordingQueue{err: errors.New("redis down")}
	require.Error(t, relayPending(ctx, rt, down))
	require.Equal(t, pending, rt.Outbox.Len())

	queue := &recordingQueue{}
	require.NoError(t, relayPending(ctx, rt, queue))
	require.Len(t, queue.tasks, pending)
	require.Equal(t, jobs.TaskLedgerEvent, queue.tasks[0].Type())
	require.Zero(t, rt.Outbox.Len())

	require.NoError(t, relayPending(ctx, rt, &recordingQueue{err: errors.New("unused")}))
}
