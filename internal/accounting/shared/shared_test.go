package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := l.Lock(context.Background())
	require.NoError(t, err)
	unlock2()
}

func TestLedgerLockKey(t *testing.T) {
	require.Equal(t, "ledger:default:writer", LedgerLockKey(""))
	require.Equal(t, "ledger:acme:writer", LedgerLockKey("acme"))
}

func TestOutboxDrainAndRequeue(t *testing.T) {
	o := NewOutbox()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	o.Emit(NewEvent(EventEntryPosted, "1", at))
	o.Emit(NewEvent(EventEntryPosted, "2", at))

	select {
	case <-o.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	first := o.Drain()
	require.Len(t, first, 2)
	require.Zero(t, o.Len())

	o.Emit(NewEvent(EventPeriodClosed, "3", at))
	o.Requeue(first)
	all := o.Drain()
	require.Len(t, all, 3)
	require.Equal(t, []string{"1", "2", "3"}, []string{all[0].EntityID, all[1].EntityID, all[2].EntityID})

	var nilBox *Outbox
	nilBox.Emit(NewEvent(EventEntryPosted, "x", at))
	require.Nil(t, nilBox.Drain())
}

func TestEventWithCopiesAttrs(t *testing.T) {
	base := NewEvent(EventEntryPosted, "1", time.Now()).With("a", "1")
	derived := base.With("b", "2")
	require.Len(t, base.Attrs, 1)
	require.Len(t, derived.Attrs, 2)
	require.Equal(t, time.UTC, base.At.Location())
}

func TestLookupCurrency(t *testing.T) {
	cases := []struct {
		code  string
		want  string
		scale int32
	}{
		{"usd", "USD", 2},
		{"", DefaultCurrency, 2},
		{"JPY", "JPY", 0},
		{" eur ", "EUR", 2},
	}
	for _, tc := range cases {
		cur, err := LookupCurrency(tc.code)
		require.NoError(t, err, tc.code)
		require.Equal(t, tc.want, cur.Code)
		require.Equal(t, tc.scale, cur.Scale)
	}

	_, err := LookupCurrency("XX1")
	require.Error(t, err)
}

func TestCurrencyFits(t *testing.T) {
	usd := MustCurrency("USD")
	require.True(t, usd.Fits(decimal.RequireFromString("10.25")))
	require.True(t, usd.Fits(decimal.RequireFromString("10.250")))
	require.False(t, usd.Fits(decimal.RequireFromString("10.255")))
	require.Equal(t, "10.50", usd.Format(decimal.RequireFromString("10.5")))

	jpy := MustCurrency("JPY")
	require.False(t, jpy.Fits(decimal.RequireFromString("1.5")))
	require.Equal(t, "100", jpy.Format(decimal.NewFromInt(100)))
}

func TestSideSigned(t *testing.T) {
	d, c := decimal.NewFromInt(30), decimal.NewFromInt(10)
	require.True(t, SideDebit.Signed(d, c).Equal(decimal.NewFromInt(20)))
	require.True(t, SideCredit.Signed(d, c).Equal(decimal.NewFromInt(-20)))
	require.Equal(t, SideCredit, SideDebit.Opposite())
	require.False(t, Side("sideways").Valid())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, KindNone},
		{NewValidationError(2, ErrUnbalanced, "debit %s credit %s", "1", "2"), KindValidation},
		{fmt.Errorf("wrap: %w", ErrPeriodGap), KindValidation},
		{ErrEntryNotFound, KindNotFound},
		{fmt.Errorf("account 4: %w", ErrBudgetNotFound), KindNotFound},
		{ErrIntegrityHold, KindLocked},
		{ErrElevationRequired, KindLocked},
		{ErrAlreadyReversed, KindConflict},
		{&IntegrityFault{PeriodID: 1, Reason: "drift"}, KindIntegrity},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, Classify(tc.err), "%v", tc.err)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError(1, ErrInvalidAmount, "amount must be positive")
	require.Equal(t, "ledger: invalid amount: line 1: amount must be positive", err.Error())
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, ErrInvalidAmount)

	entry := NewValidationError(-1, ErrTooFewLines, "")
	require.Equal(t, ErrTooFewLines.Error(), entry.Error())

	fault := &IntegrityFault{PeriodID: 3, AccountID: 9, Reason: "drift"}
	require.Contains(t, fault.Error(), "account 9")
	require.ErrorIs(t, fault, ErrIntegrityFault)
}
