package reports

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bal(code, name string, typ accounts.AccountType, opening, debit, credit string) AccountBalance {
	return AccountBalance{
		Code:       code,
		Name:       name,
		Type:       typ,
		NormalSide: typ.NormalSide(),
		Opening:    d(opening),
		Debit:      d(debit),
		Credit:     d(credit),
	}
}

func TestBuildTrialBalance(t *testing.T) {
	list := []AccountBalance{
		bal("2000", "Accounts Payable", accounts.AccountTypeLiability, "0", "10", "400"),
		bal("1000.20", "Bank", accounts.AccountTypeAsset, "500", "100", "50"),
		bal("1000.10", "Cash", accounts.AccountTypeAsset, "1000", "200", "150"),
	}

	tb := BuildTrialBalance(list)
	require.Len(t, tb.Groups, 2)
	require.Equal(t, "1000", tb.Groups[0].Key)
	require.Equal(t, "1000.10", tb.Groups[0].Accounts[0].Code)
	require.True(t, tb.Groups[0].Debit.Equal(d("300")))
	require.True(t, tb.TotalDebit.Equal(d("310")))
	require.True(t, tb.TotalCredit.Equal(d("600")))
	require.False(t, tb.Balanced)

	require.True(t, tb.Groups[0].Accounts[0].Closing.Equal(d("1050")))
	require.True(t, tb.Groups[1].Accounts[0].Closing.Equal(d("390")))
}

func TestGroupKey(t *testing.T) {
	require.Equal(t, "1000", AccountBalance{Code: "1000"}.GroupKey())
	require.Equal(t, "1000", AccountBalance{Code: "1000.10.01"}.GroupKey())
}

func TestBuildProfitAndLoss(t *testing.T) {
	list := []AccountBalance{
		bal("4000", "Sales", accounts.AccountTypeRevenue, "0", "0", "1200"),
		bal("5100", "Marketing", accounts.AccountTypeExpense, "0", "200", "0"),
		bal("5000", "COGS", accounts.AccountTypeExpense, "0", "300", "0"),
		bal("1000", "Cash", accounts.AccountTypeAsset, "0", "1200", "500"),
	}

	pl := BuildProfitAndLoss(list)
	require.True(t, pl.Revenue.Total.Equal(d("1200")))
	require.True(t, pl.Expense.Total.Equal(d("500")))
	require.True(t, pl.NetIncome.Equal(d("700")))
	require.Equal(t, "5000", pl.Expense.Accounts[0].Code)
}

func TestBuildBalanceSheet(t *testing.T) {
	list := []AccountBalance{
		bal("1000", "Cash", accounts.AccountTypeAsset, "500", "100", "20"),
		bal("2000", "AP", accounts.AccountTypeLiability, "0", "10", "40"),
		bal("3000", "Equity", accounts.AccountTypeEquity, "500", "0", "0"),
		bal("4000", "Sales", accounts.AccountTypeRevenue, "0", "0", "70"),
		bal("5000", "Rent", accounts.AccountTypeExpense, "0", "20", "0"),
	}

	bs := BuildBalanceSheet(list)
	require.True(t, bs.Assets.Total.Equal(d("580")))
	require.True(t, bs.Liabilities.Total.Equal(d("30")))
	require.True(t, bs.Equity.Total.Equal(d("500")))
	require.True(t, bs.CurrentEarnings.Equal(d("50")))
	require.True(t, bs.TotalLiabilitiesAndEquity.Equal(d("580")))
	require.True(t, bs.Balanced())
}

func TestClosingUsesNormalSide(t *testing.T) {
	liability := AccountBalance{NormalSide: shared.SideCredit, Opening: d("100"), Debit: d("30"), Credit: d("10")}
	require.True(t, liability.Closing().Equal(d("80")))
}
