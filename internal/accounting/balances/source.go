package balances

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
)

type repoSource struct {
	accounts accounts.Repository
	periods  periods.Repository
	journals journals.Repository
}

// NewRepositorySource reads replay data through the component repositories,
// whichever store backs them.
func NewRepositorySource(acc accounts.Repository, per periods.Repository, jr journals.Repository) Source {
	return &repoSource{accounts: acc, periods: per, journals: jr}
}

func (s *repoSource) Accounts(ctx context.Context) ([]accounts.Account, error) {
	return s.accounts.List(ctx)
}

func (s *repoSource) Periods(ctx context.Context) ([]periods.Period, error) {
	return s.periods.List(ctx)
}

func (s *repoSource) PostedEntries(ctx context.Context, periodIDs []int64) ([]journals.JournalEntry, error) {
	return s.journals.List(ctx, journals.ListFilter{PeriodIDs: periodIDs, Status: journals.JournalStatusPosted})
}

func (s *repoSource) PostedSince(ctx context.Context, after int64) ([]journals.JournalEntry, error) {
	return s.journals.List(ctx, journals.ListFilter{Status: journals.JournalStatusPosted, AfterSequence: after})
}
