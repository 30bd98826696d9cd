package reports_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
)

func TestServiceStatements(t *testing.T) {
	f := ledgertest.New(t)
	f.Post(ledgertest.Debit(f.Bank, "1000.00"), ledgertest.Credit(f.Equity, "1000.00"))
	f.Post(ledgertest.Debit(f.Cash, "250.00"), ledgertest.Credit(f.Revenue, "250.00"))
	f.Post(ledgertest.Debit(f.Rent, "400.00"), ledgertest.Credit(f.Bank, "400.00"))

	svc := reports.NewService(f.Ledger.Balances, nil, nil)

	tb, err := svc.TrialBalance(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.True(t, tb.Balanced)
	require.True(t, tb.TotalDebit.Equal(ledgertest.Amount("1650.00")))
	require.Equal(t, f.Period.ID, tb.PeriodID)

	pl, err := svc.ProfitAndLoss(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.True(t, pl.NetIncome.Equal(ledgertest.Amount("-150.00")))

	bs, err := svc.BalanceSheet(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.True(t, bs.Assets.Total.Equal(ledgertest.Amount("850.00")))
	require.True(t, bs.Balanced())
}

func TestServiceCachesUntilEntryCommitted(t *testing.T) {
	f := ledgertest.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := reports.NewService(f.Ledger.Balances, cache.NewReportCache(client, time.Minute), nil)
	f.Ledger.Journals.WithObserver(svc)

	f.Post(ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00"))
	first, err := svc.TrialBalance(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.True(t, first.TotalDebit.Equal(ledgertest.Amount("10.00")))

	f.Post(ledgertest.Debit(f.Cash, "5.00"), ledgertest.Credit(f.Revenue, "5.00"))
	second, err := svc.TrialBalance(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.True(t, second.TotalDebit.Equal(ledgertest.Amount("15.00")))

	require.Contains(t, mr.Keys(), "ledger:reports:version")
	version, err := mr.Get("ledger:reports:version")
	require.NoError(t, err)
	require.Equal(t, "2", version)

	require.NoError(t, svc.Invalidate(f.Ctx))
	version, err = mr.Get("ledger:reports:version")
	require.NoError(t, err)
	require.Equal(t, "3", version)
}
