package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func TestUpdateRollsBackOnError(t *testing.T) {
	l := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := l.Accounts().WithTx(ctx, func(ctx context.Context, tx accounts.TxRepository) error {
		if _, err := tx.InsertAccount(ctx, accounts.Account{Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := l.Accounts().List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
	require.Zero(t, l.read().nextID)
}

func TestUpdateHonoursCancelledContext(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	err := l.Periods().WithTx(ctx, func(ctx context.Context, tx periods.TxRepository) error {
		_, err := tx.InsertPeriod(ctx, periods.Period{Code: "2025-01", Status: periods.PeriodStatusOpen})
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	list, err := l.Periods().List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)

	err = l.Periods().WithTx(ctx, func(context.Context, periods.TxRepository) error {
		t.Fatal("transaction body must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadersKeepTheirSnapshot(t *testing.T) {
	l := New()
	ctx := context.Background()
	l.WithNow(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) })

	var id int64
	require.NoError(t, l.Periods().WithTx(ctx, func(ctx context.Context, tx periods.TxRepository) error {
		p, err := tx.InsertPeriod(ctx, periods.Period{Code: "2025-01", Status: periods.PeriodStatusOpen})
		id = p.ID
		return err
	}))

	before := l.read()
	require.NoError(t, l.Periods().WithTx(ctx, func(ctx context.Context, tx periods.TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, id)
		if err != nil {
			return err
		}
		p.Holds = append(p.Holds, periods.Hold{Reason: "drift"})
		return tx.UpdatePeriod(ctx, p)
	}))

	held, ok := before.periods.get(id)
	require.True(t, ok)
	require.Empty(t, held.Holds)
	got, err := l.Periods().Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Holds, 1)

	// returned values are copies
	got.Holds[0].Reason = "edited"
	again, err := l.Periods().Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "drift", again.Holds[0].Reason)
}

func TestAccountCodesAreUnique(t *testing.T) {
	l := New()
	ctx := context.Background()
	insert := func() error {
		return l.Accounts().WithTx(ctx, func(ctx context.Context, tx accounts.TxRepository) error {
			_, err := tx.InsertAccount(ctx, accounts.Account{Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset})
			return err
		})
	}
	require.NoError(t, insert())
	require.ErrorIs(t, insert(), shared.ErrDuplicateCode)

	_, err := l.Accounts().Get(ctx, 404)
	require.ErrorIs(t, err, shared.ErrAccountNotFound)
}
