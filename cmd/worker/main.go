package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if cfg.LedgerStore == app.StoreMemory {
		logger.Warn("worker running on the memory store sees only its own ledger; use LEDGER_STORE=postgres")
	}

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	metrics := jobmetrics.NewMetrics(rt.Metrics.Registerer())
	integrity := &jobs.IntegrityJob{
		Balances: rt.Ledger.Balances,
		Chain:    rt.Ledger.Journals,
		Periods:  rt.Ledger.Periods,
		Reports:  rt.Reports,
		Logger:   logger,
		Metrics:  metrics,
	}
	matcher := &jobs.MatchJob{Matcher: rt.Ledger.Reconcile, Logger: logger, Metrics: metrics}

	integrityTask, err := jobs.NewIntegrityTask(jobs.IntegrityPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	matchTask, err := jobs.NewMatchTask(jobs.MatchPayload{})
	if err != nil {
		logger.Error("build match task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: integrity.Handle},
			{Type: jobs.TaskReconcileMatch, Handler: matcher.Handle},
			{Type: jobs.TaskLedgerEvent, Handler: jobs.EventLogHandler(logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
			{Spec: cfg.MatchCron, Task: matchTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	relay := &jobs.EventRelay{Outbox: rt.Outbox, Queue: queue, Logger: logger, Metrics: metrics}
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event relay", slog.Any("error", err))
		}
	}()

	logger.Info("starting worker", slog.String("integrity_cron", cfg.IntegrityCron), slog.String("match_cron", cfg.MatchCron))
	runErr := worker.Run(ctx)
	stopRelay()
	<-relayDone
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker run", slog.Any("error", runErr))
		os.Exit(1)
	}
}
