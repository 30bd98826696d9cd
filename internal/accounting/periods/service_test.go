package periods_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

var jan = ledgertest.Jan2025

func TestCreatePeriodKeepsRangesContiguous(t *testing.T) {
	f := ledgertest.New(t)

	_, err := f.Ledger.Periods.CreatePeriod(f.Ctx, periods.CreatePeriodInput{
		Code: "2025-03", StartDate: jan.AddDate(0, 2, 0), EndDate: jan.AddDate(0, 3, -1),
	})
	require.ErrorIs(t, err, shared.ErrPeriodGap)

	_, err = f.Ledger.Periods.CreatePeriod(f.Ctx, periods.CreatePeriodInput{
		Code: "overlap", StartDate: jan.AddDate(0, 0, 20), EndDate: jan.AddDate(0, 1, 10),
	})
	require.ErrorIs(t, err, shared.ErrPeriodOverlap)

	_, err = f.Ledger.Periods.CreatePeriod(f.Ctx, periods.CreatePeriodInput{
		Code: "backwards", StartDate: jan.AddDate(0, 2, 0), EndDate: jan.AddDate(0, 1, 0),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.Ledger.Periods.CreatePeriod(f.Ctx, periods.CreatePeriodInput{StartDate: jan, EndDate: jan})
	require.ErrorIs(t, err, shared.ErrValidation)

	feb, err := f.Ledger.Periods.CreatePeriod(f.Ctx, periods.CreatePeriodInput{
		Code: " 2025-02 ", StartDate: jan.AddDate(0, 1, 0), EndDate: jan.AddDate(0, 2, -1),
	})
	require.NoError(t, err)
	require.Equal(t, "2025-02", feb.Code)
	require.Equal(t, periods.PeriodStatusOpen, feb.Status)

	found, err := f.Ledger.Periods.FindByDate(f.Ctx, jan.AddDate(0, 1, 27))
	require.NoError(t, err)
	require.Equal(t, feb.ID, found.ID)

	list, err := f.Ledger.Periods.List(f.Ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, f.Period.ID, list[0].ID)
}

func TestPeriodTransitionsOnlyMoveForward(t *testing.T) {
	f := ledgertest.New(t)

	_, err := f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	soft, err := f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)
	require.Equal(t, periods.PeriodStatusSoftClosed, soft.Status)
	require.NotNil(t, soft.SoftClosedAt)

	_, err = f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	closed, err := f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 2)
	require.NoError(t, err)
	require.Equal(t, periods.PeriodStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	_, err = f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.Ledger.Periods.SoftClose(f.Ctx, 999, 1)
	require.ErrorIs(t, err, shared.ErrPeriodNotFound)

	var tags []shared.EventTag
	for _, evt := range f.Outbox.Drain() {
		tags = append(tags, evt.Tag)
	}
	require.Equal(t, []shared.EventTag{shared.EventPeriodSoftClosed, shared.EventPeriodClosed}, tags)

	var actions []string
	for _, log := range f.Audit.Logs() {
		actions = append(actions, log.Action)
	}
	require.Contains(t, actions, "period.soft_close")
	require.Contains(t, actions, "period.close")
}

func TestClosePeriodRequiresZeroTrialBalance(t *testing.T) {
	f := ledgertest.New(t)
	f.Post(ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00"))
	f.Ledger.Balances.ApplyIncrement(balances.Increment{
		PeriodID:  f.Period.ID,
		AccountID: f.Cash.ID,
		Date:      jan,
		Side:      shared.SideCredit,
		Amount:    ledgertest.Amount("2.00"),
	}, 1)

	_, err := f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)
	_, err = f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 1)
	require.ErrorIs(t, err, shared.ErrUnbalancedPeriod)

	p, err := f.Ledger.Periods.Get(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.Equal(t, periods.PeriodStatusSoftClosed, p.Status)

	require.NoError(t, f.Ledger.Balances.Rebuild(f.Ctx, balances.PeriodRange{}))
	_, err = f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)
}

func TestIntegrityHoldBlocksCloseUntilCleared(t *testing.T) {
	f := ledgertest.New(t)
	fault := &shared.IntegrityFault{PeriodID: f.Period.ID, AccountID: f.Cash.ID, Reason: "drift"}
	require.NoError(t, f.Ledger.Periods.FlagIntegrityFault(f.Ctx, fault))
	require.NoError(t, f.Ledger.Periods.FlagIntegrityFault(f.Ctx, fault))

	p, err := f.Ledger.Periods.Get(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.Len(t, p.Holds, 1)

	_, err = f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)
	_, err = f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 1)
	require.ErrorIs(t, err, shared.ErrIntegrityHold)

	_, err = f.Ledger.Periods.ClearIntegrityHold(f.Ctx, f.Period.ID, 1, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	cleared, err := f.Ledger.Periods.ClearIntegrityHold(f.Ctx, f.Period.ID, 1, "AUD-2025-01")
	require.NoError(t, err)
	require.False(t, cleared.OnHold())

	_, err = f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)
}

func TestCheckPostableGate(t *testing.T) {
	cases := []struct {
		name     string
		period   periods.Period
		elevated bool
		want     error
	}{
		{"open", periods.Period{Status: periods.PeriodStatusOpen}, false, nil},
		{"soft closed", periods.Period{Status: periods.PeriodStatusSoftClosed}, false, shared.ErrElevationRequired},
		{"soft closed elevated", periods.Period{Status: periods.PeriodStatusSoftClosed}, true, nil},
		{"closed", periods.Period{Status: periods.PeriodStatusClosed}, true, shared.ErrPeriodClosed},
		{"held", periods.Period{Status: periods.PeriodStatusOpen, Holds: []periods.Hold{{Reason: "x"}}}, false, shared.ErrIntegrityHold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := periods.CheckPostable(tc.period, tc.elevated)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}
