package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	ledgerhttp "github.com/odyssey-erp/odyssey-ledger/internal/accounting/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/store/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/store/postgres"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
)

// Runtime is a fully wired ledger process: store, engine, reports and metrics.
type Runtime struct {
	Config  *Config
	Logger  *slog.Logger
	Ledger  *accounting.Ledger
	Reports *reports.Service
	Outbox  *shared.Outbox
	Metrics *observability.Metrics
	Redis   *redis.Client
	Pool    *pgxpool.Pool

	closers []func()
}

// Build connects the configured backends and wires the ledger. The caller
// must Close the runtime.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = NewLogger(cfg)
	}
	rt = &Runtime{Config: cfg, Logger: logger, Outbox: shared.NewOutbox(), Metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	cur, err := shared.LookupCurrency(cfg.LedgerCurrency)
	if err != nil {
		return nil, err
	}

	rt.Redis, err = cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		if cfg.LedgerLock == LockRedis {
			return nil, fmt.Errorf("app: redis required for distributed lock: %w", err)
		}
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
		rt.Redis, err = nil, nil
	} else {
		client := rt.Redis
		rt.closers = append(rt.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	}

	var locker shared.Locker = shared.NewLocalLocker()
	if cfg.LedgerLock == LockRedis {
		locker, err = lock.NewRedisLocker(rt.Redis, shared.LedgerLockKey(cfg.LedgerName), lock.Options{Expiry: cfg.LedgerLockTTL}, logger)
		if err != nil {
			return nil, err
		}
	}

	opts := accounting.Options{
		Locker:    locker,
		Currency:  cur,
		Tolerance: cfg.LedgerMatchTolerance,
		Events:    rt.Metrics.Emitter(rt.Outbox),
		Logger:    logger,
	}
	switch cfg.LedgerStore {
	case StorePostgres:
		rt.Pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.Pool.Close)
		store := postgres.New(rt.Pool)
		if cfg.LedgerMigrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		opts.Store = store
		opts.Audit = store.Audit()
	default:
		opts.Store = memory.New()
	}

	rt.Ledger, err = accounting.New(opts)
	if err != nil {
		return nil, err
	}
	if err := rt.Ledger.Start(ctx); err != nil {
		return nil, err
	}

	rt.Reports = reports.NewService(rt.Ledger.Balances, cache.NewReportCache(rt.Redis, cfg.ReportCacheTTL), logger)
	rt.Ledger.Journals.WithObserver(rt.Reports, rt.Metrics)
	return rt, nil
}

// Handler builds the HTTP router over the runtime. jobs may be nil.
func (rt *Runtime) Handler(jobs RouteMounter) http.Handler {
	l := rt.Ledger
	return NewRouter(RouterParams{
		Logger:      rt.Logger,
		Config:      rt.Config,
		Metrics:     rt.Metrics,
		JobsHandler: jobs,
		LedgerHandler: ledgerhttp.NewHandler(rt.Logger, ledgerhttp.Services{
			Accounts:  l.Accounts,
			Periods:   l.Periods,
			Journals:  l.Journals,
			Balances:  l.Balances,
			Reconcile: l.Reconcile,
			Budgets:   l.Budgets,
			Reports:   rt.Reports,
		}),
	})
}

// Close releases backends in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
