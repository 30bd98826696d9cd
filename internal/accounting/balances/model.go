package balances

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// AccountBalance is the derived balance of one account in one period. Closing
// is signed by the account's normal side.
type AccountBalance struct {
	AccountID int64
	PeriodID  int64
	Opening   decimal.Decimal
	NetDebit  decimal.Decimal
	NetCredit decimal.Decimal
	Closing   decimal.Decimal
}

// AsOf selects a balance point: the close of a period or the end of a day.
// Exactly one field must be set.
type AsOf struct {
	PeriodID int64
	Date     time.Time
}

// PeriodRange bounds rebuilds and verifications by period id. Zero bounds are
// open ended; ranges follow period start dates, not id order.
type PeriodRange struct {
	From int64
	To   int64
}

// Increment is a single line's effect on a balance cell.
type Increment struct {
	PeriodID  int64
	AccountID int64
	Date      time.Time
	Side      shared.Side
	Amount    decimal.Decimal
}

// TrialBalanceRow is one account line of a trial balance.
type TrialBalanceRow struct {
	AccountID   int64
	Code        string
	Name        string
	Type        accounts.AccountType
	NormalSide  shared.Side
	Opening     decimal.Decimal
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
	Closing     decimal.Decimal
}

// TrialBalance lists per-account period movements ordered by account code.
type TrialBalance struct {
	PeriodID    int64
	Rows        []TrialBalanceRow
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Balanced reports whether total debits equal total credits.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

// Mismatch is a cell whose cached totals differ from a replay of the store.
type Mismatch struct {
	PeriodID       int64
	AccountID      int64
	CachedDebit    decimal.Decimal
	CachedCredit   decimal.Decimal
	ReplayedDebit  decimal.Decimal
	ReplayedCredit decimal.Decimal
}
