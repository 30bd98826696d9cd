// Package accounting assembles the ledger components over one store.
package accounting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/budgets"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Store provides the per-component repositories. Both the memory and the
// Postgres stores satisfy it.
type Store interface {
	Accounts() accounts.Repository
	Periods() periods.Repository
	Journals() journals.Repository
	Reconcile() reconcile.Repository
	Budgets() budgets.Repository
}

// AuditPort records ledger actions.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Options configures a Ledger.
type Options struct {
	Store     Store
	Locker    shared.Locker
	Currency  shared.Currency
	Tolerance int
	Audit     AuditPort
	Events    shared.Emitter
	Observers []journals.Observer
	Logger    *slog.Logger
}

// Ledger is the wired engine: chart, periods, posting, balances, budgets and
// reconciliation.
type Ledger struct {
	Accounts  *accounts.Service
	Periods   *periods.Service
	Journals  *journals.Service
	Balances  *balances.Aggregator
	Budgets   *budgets.Service
	Reconcile *reconcile.Service
	Events    shared.Emitter
}

// New wires the components. Every writer shares opts.Locker.
func New(opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("accounting: store required")
	}
	if opts.Locker == nil {
		opts.Locker = shared.NewLocalLocker()
	}
	if opts.Currency.Code == "" {
		opts.Currency = shared.MustCurrency(shared.DefaultCurrency)
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = reconcile.DefaultDateTolerance
	}
	if opts.Audit == nil {
		opts.Audit = internalShared.NewMemoryAuditLogger()
	}

	periodSvc := periods.NewService(opts.Store.Periods(), opts.Locker, opts.Audit, opts.Events)
	agg := balances.NewAggregator(
		balances.NewRepositorySource(opts.Store.Accounts(), opts.Store.Periods(), opts.Store.Journals()),
		opts.Locker,
		periodSvc,
	)
	periodSvc.WithTrialBalancer(agg)

	budgetSvc := budgets.NewService(opts.Store.Budgets(), agg, opts.Currency, opts.Events, opts.Logger)

	journalSvc := journals.NewService(opts.Store.Journals(), opts.Locker, opts.Currency, opts.Audit, opts.Events)
	journalSvc.WithBalances(agg)
	journalSvc.WithObserver(budgetSvc)
	journalSvc.WithObserver(opts.Observers...)

	return &Ledger{
		Accounts:  accounts.NewService(opts.Store.Accounts(), opts.Events),
		Periods:   periodSvc,
		Journals:  journalSvc,
		Balances:  agg,
		Budgets:   budgetSvc,
		Reconcile: reconcile.NewService(opts.Store.Reconcile(), opts.Currency, opts.Tolerance, opts.Events),
		Events:    opts.Events,
	}, nil
}

// Start loads the balance cache from the store. Call once before serving.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.Balances.Load(ctx); err != nil {
		return fmt.Errorf("accounting: load balances: %w", err)
	}
	return nil
}
