// Package ledgertest builds in-memory ledgers for tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/store/memory"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

// Jan2025 is the first day of the fixture period.
var Jan2025 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// Fixture is a wired ledger over the memory store with a small chart and one
// OPEN period covering January 2025.
type Fixture struct {
	T      testing.TB
	Ctx    context.Context
	Store  *memory.Ledger
	Ledger *accounting.Ledger
	Outbox *shared.Outbox
	Audit  *internalShared.MemoryAuditLogger
	Now    time.Time

	Assets  accounts.Account
	Cash    accounts.Account
	Bank    accounts.Account
	Payable accounts.Account
	Equity  accounts.Account
	Revenue accounts.Account
	Rent    accounts.Account
	Period  periods.Period
}

// New builds the fixture. The clock is frozen at 2025-01-15 12:00 UTC.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{
		T:      t,
		Ctx:    context.Background(),
		Store:  memory.New(),
		Outbox: shared.NewOutbox(),
		Audit:  internalShared.NewMemoryAuditLogger(),
		Now:    time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.Now }
	f.Store.WithNow(clock)

	l, err := accounting.New(accounting.Options{
		Store:  f.Store,
		Audit:  f.Audit,
		Events: f.Outbox,
	})
	require.NoError(t, err)
	l.Accounts.WithNow(clock)
	l.Periods.WithNow(clock)
	l.Journals.WithNow(clock)
	l.Reconcile.WithNow(clock)
	l.Budgets.WithNow(clock)
	require.NoError(t, l.Start(f.Ctx))
	f.Ledger = l

	created, err := l.Accounts.CreateAccounts(f.Ctx, []accounts.CreateAccountInput{
		{Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset},
		{Code: "1000.10", Name: "Cash", Type: accounts.AccountTypeAsset, ParentCode: "1000"},
		{Code: "1000.20", Name: "Bank", Type: accounts.AccountTypeAsset, ParentCode: "1000"},
		{Code: "2000", Name: "Accounts Payable", Type: accounts.AccountTypeLiability},
		{Code: "3000", Name: "Equity", Type: accounts.AccountTypeEquity},
		{Code: "4000", Name: "Revenue", Type: accounts.AccountTypeRevenue},
		{Code: "5000", Name: "Rent", Type: accounts.AccountTypeExpense},
	})
	require.NoError(t, err)
	f.Assets, f.Cash, f.Bank, f.Payable, f.Equity, f.Revenue, f.Rent =
		created[0], created[1], created[2], created[3], created[4], created[5], created[6]

	f.Period = f.AddPeriod("2025-01", Jan2025, Jan2025.AddDate(0, 1, -1))
	f.Outbox.Drain()
	return f
}

// AddPeriod creates the next contiguous period.
func (f *Fixture) AddPeriod(code string, start, end time.Time) periods.Period {
	f.T.Helper()
	p, err := f.Ledger.Periods.CreatePeriod(f.Ctx, periods.CreatePeriodInput{Code: code, StartDate: start, EndDate: end})
	require.NoError(f.T, err)
	return p
}

// Amount parses a decimal literal.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Debit builds a debit line.
func Debit(acc accounts.Account, amount string) journals.PostingLineInput {
	return journals.PostingLineInput{AccountID: acc.ID, Side: shared.SideDebit, Amount: Amount(amount)}
}

// Credit builds a credit line.
func Credit(acc accounts.Account, amount string) journals.PostingLineInput {
	return journals.PostingLineInput{AccountID: acc.ID, Side: shared.SideCredit, Amount: Amount(amount)}
}

// Input builds a posting input for the fixture period dated on date.
func (f *Fixture) Input(date time.Time, lines ...journals.PostingLineInput) journals.PostingInput {
	return journals.PostingInput{PeriodID: f.Period.ID, Date: date, Memo: "test", ActorID: 7, Lines: lines}
}

// Post posts a balanced entry into the fixture period on the 10th.
func (f *Fixture) Post(lines ...journals.PostingLineInput) journals.JournalEntry {
	f.T.Helper()
	entry, err := f.Ledger.Journals.PostJournal(f.Ctx, f.Input(Jan2025.AddDate(0, 0, 9), lines...))
	require.NoError(f.T, err)
	return entry
}

// Balance returns the normal-side closing balance of acc in the fixture period.
func (f *Fixture) Balance(acc accounts.Account) decimal.Decimal {
	f.T.Helper()
	bal, err := f.Ledger.Balances.BalanceAsOf(f.Ctx, acc.ID, balances.AsOf{PeriodID: f.Period.ID})
	require.NoError(f.T, err)
	return bal
}

// Peer wires a second ledger over the fixture store, as another process
// sharing the database would. It has its own lock and balance cache.
func (f *Fixture) Peer() *accounting.Ledger {
	f.T.Helper()
	clock := func() time.Time { return f.Now }
	l, err := accounting.New(accounting.Options{Store: f.Store, Events: f.Outbox})
	require.NoError(f.T, err)
	l.Periods.WithNow(clock)
	l.Journals.WithNow(clock)
	l.Reconcile.WithNow(clock)
	l.Budgets.WithNow(clock)
	require.NoError(f.T, l.Start(f.Ctx))
	return l
}
