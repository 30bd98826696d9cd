package journals_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

var jan10 = ledgertest.Jan2025.AddDate(0, 0, 9)

func TestPostJournalMovesBalances(t *testing.T) {
	f := ledgertest.New(t)

	entry := f.Post(ledgertest.Debit(f.Cash, "500.00"), ledgertest.Credit(f.Revenue, "500.00"))

	require.Equal(t, journals.JournalStatusPosted, entry.Status)
	require.EqualValues(t, 1, entry.Sequence)
	require.NotEmpty(t, entry.Digest)
	require.NotNil(t, entry.PostedAt)
	require.True(t, f.Balance(f.Cash).Equal(ledgertest.Amount("500")))
	require.True(t, f.Balance(f.Revenue).Equal(ledgertest.Amount("500")))

	tb, err := f.Ledger.Balances.TrialBalance(f.Ctx, f.Period.ID)
	require.NoError(t, err)
	require.True(t, tb.Balanced())
	require.True(t, tb.TotalDebit.Equal(ledgertest.Amount("500")))
	require.Len(t, tb.Rows, 2)

	events := f.Outbox.Drain()
	require.Len(t, events, 1)
	require.Equal(t, shared.EventEntryPosted, events[0].Tag)
	require.Equal(t, "1", events[0].Attrs["sequence"])

	logs := f.Audit.Logs()
	require.NotEmpty(t, logs)
	require.Equal(t, "journal.post", logs[len(logs)-1].Action)
}

func TestCancelPostedEntryPostsReversal(t *testing.T) {
	f := ledgertest.New(t)
	original := f.Post(ledgertest.Debit(f.Cash, "500.00"), ledgertest.Credit(f.Revenue, "500.00"))

	res, err := f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: original.ID, ActorID: 9})
	require.NoError(t, err)
	require.False(t, res.Discarded)
	require.NotNil(t, res.Reversal)

	rev := *res.Reversal
	require.Equal(t, journals.JournalStatusPosted, rev.Status)
	require.NotNil(t, rev.ReversalOf)
	require.Equal(t, original.ID, *rev.ReversalOf)
	require.EqualValues(t, 2, rev.Sequence)
	require.Len(t, rev.Lines, 2)
	require.Equal(t, shared.SideCredit, rev.Lines[0].Side)
	require.Equal(t, shared.SideDebit, rev.Lines[1].Side)

	require.True(t, f.Balance(f.Cash).IsZero())
	require.True(t, f.Balance(f.Revenue).IsZero())

	stored, err := f.Ledger.Journals.Get(f.Ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, journals.JournalStatusPosted, stored.Status)
	require.Equal(t, original.Digest, stored.Digest)
	require.Equal(t, original.Sequence, stored.Sequence)
	require.Len(t, stored.Lines, 2)
	require.Equal(t, shared.SideDebit, stored.Lines[0].Side)
	require.True(t, stored.Lines[0].Amount.Equal(ledgertest.Amount("500")))

	require.NoError(t, f.Ledger.Journals.VerifyChain(f.Ctx))
}

func TestPostJournalRejectsUnbalancedEntry(t *testing.T) {
	f := ledgertest.New(t)

	_, err := f.Ledger.Journals.PostJournal(f.Ctx, f.Input(jan10,
		ledgertest.Debit(f.Cash, "500.00"),
		ledgertest.Credit(f.Revenue, "400.00"),
	))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	require.Equal(t, shared.KindValidation, shared.Classify(err))

	list, err := f.Ledger.Journals.List(f.Ctx, journals.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
	require.True(t, f.Balance(f.Cash).IsZero())
	require.Zero(t, f.Outbox.Len())
}

func TestPostJournalValidation(t *testing.T) {
	f := ledgertest.New(t)
	_, err := f.Ledger.Accounts.SetActive(f.Ctx, f.Payable.ID, false)
	require.NoError(t, err)

	cases := []struct {
		name string
		in   journals.PostingInput
		want error
		line int
	}{
		{
			name: "single line",
			in:   f.Input(jan10, ledgertest.Debit(f.Cash, "1.00")),
			want: shared.ErrTooFewLines,
			line: -1,
		},
		{
			name: "zero amount",
			in:   f.Input(jan10, ledgertest.Debit(f.Cash, "0"), ledgertest.Credit(f.Revenue, "0")),
			want: shared.ErrInvalidAmount,
			line: 0,
		},
		{
			name: "negative amount",
			in:   f.Input(jan10, ledgertest.Debit(f.Cash, "5.00"), ledgertest.Credit(f.Revenue, "-5.00")),
			want: shared.ErrInvalidAmount,
			line: 1,
		},
		{
			name: "more decimals than the currency",
			in:   f.Input(jan10, ledgertest.Debit(f.Cash, "1.005"), ledgertest.Credit(f.Revenue, "1.005")),
			want: shared.ErrInvalidAmount,
			line: 0,
		},
		{
			name: "bad side",
			in: f.Input(jan10, ledgertest.Debit(f.Cash, "1.00"), journals.PostingLineInput{
				AccountID: f.Revenue.ID, Side: "SIDEWAYS", Amount: ledgertest.Amount("1.00"),
			}),
			want: shared.ErrInvalidSide,
			line: 1,
		},
		{
			name: "unknown account",
			in: f.Input(jan10, ledgertest.Debit(f.Cash, "1.00"), journals.PostingLineInput{
				AccountID: 9999, Side: shared.SideCredit, Amount: ledgertest.Amount("1.00"),
			}),
			want: shared.ErrUnknownAccount,
			line: 1,
		},
		{
			name: "inactive account",
			in:   f.Input(jan10, ledgertest.Debit(f.Cash, "1.00"), ledgertest.Credit(f.Payable, "1.00")),
			want: shared.ErrInactiveAccount,
			line: 1,
		},
		{
			name: "date outside period",
			in:   f.Input(ledgertest.Jan2025.AddDate(0, 1, 0), ledgertest.Debit(f.Cash, "1.00"), ledgertest.Credit(f.Revenue, "1.00")),
			want: shared.ErrDateOutOfRange,
			line: -1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Ledger.Journals.PostJournal(f.Ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, shared.ErrValidation)
			var verr *shared.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.line, verr.Line)
		})
	}

	foreign := f.Input(jan10, ledgertest.Debit(f.Cash, "1.00"), ledgertest.Credit(f.Revenue, "1.00"))
	foreign.Currency = "EUR"
	_, err = f.Ledger.Journals.PostJournal(f.Ctx, foreign)
	require.ErrorIs(t, err, shared.ErrCurrencyMismatch)

	missing := f.Input(jan10, ledgertest.Debit(f.Cash, "1.00"), ledgertest.Credit(f.Revenue, "1.00"))
	missing.PeriodID = 4242
	_, err = f.Ledger.Journals.PostJournal(f.Ctx, missing)
	require.ErrorIs(t, err, shared.ErrPeriodNotFound)

	list, err := f.Ledger.Journals.List(f.Ctx, journals.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestValidateHasNoSideEffects(t *testing.T) {
	f := ledgertest.New(t)

	require.NoError(t, f.Ledger.Journals.Validate(f.Ctx, f.Input(jan10,
		ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00"))))
	err := f.Ledger.Journals.Validate(f.Ctx, f.Input(jan10,
		ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "9.99")))
	require.ErrorIs(t, err, shared.ErrUnbalanced)

	list, err := f.Ledger.Journals.List(f.Ctx, journals.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
	require.Zero(t, f.Outbox.Len())
}

func TestSoftClosedPeriodRequiresElevation(t *testing.T) {
	f := ledgertest.New(t)
	_, err := f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)

	in := f.Input(jan10, ledgertest.Debit(f.Rent, "75.00"), ledgertest.Credit(f.Cash, "75.00"))
	_, err = f.Ledger.Journals.PostJournal(f.Ctx, in)
	require.ErrorIs(t, err, shared.ErrElevationRequired)
	require.Equal(t, shared.KindLocked, shared.Classify(err))

	in.Elevated = true
	entry, err := f.Ledger.Journals.PostJournal(f.Ctx, in)
	require.NoError(t, err)
	require.Equal(t, journals.JournalStatusPosted, entry.Status)

	_, err = f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: entry.ID})
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)
}

func TestClosedPeriodIsImmutable(t *testing.T) {
	f := ledgertest.New(t)
	entry := f.Post(ledgertest.Debit(f.Cash, "120.00"), ledgertest.Credit(f.Revenue, "120.00"))

	_, err := f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)
	_, err = f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)

	in := f.Input(jan10, ledgertest.Debit(f.Cash, "1.00"), ledgertest.Credit(f.Revenue, "1.00"))
	in.Elevated = true
	_, err = f.Ledger.Journals.PostJournal(f.Ctx, in)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	_, err = f.Ledger.Journals.SaveDraft(f.Ctx, in)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	_, err = f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: entry.ID})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	require.True(t, f.Balance(f.Cash).Equal(ledgertest.Amount("120")))
}

func TestCancelTwiceIsRejected(t *testing.T) {
	f := ledgertest.New(t)
	entry := f.Post(ledgertest.Debit(f.Cash, "40.00"), ledgertest.Credit(f.Revenue, "40.00"))

	res, err := f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: entry.ID})
	require.NoError(t, err)

	_, err = f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: entry.ID})
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)
	require.Equal(t, shared.KindConflict, shared.Classify(err))

	_, err = f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: res.Reversal.ID})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	_, err = f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: 777})
	require.ErrorIs(t, err, shared.ErrEntryNotFound)

	require.True(t, f.Balance(f.Cash).IsZero())
}

func TestDraftLifecycle(t *testing.T) {
	f := ledgertest.New(t)

	draft, err := f.Ledger.Journals.SaveDraft(f.Ctx, f.Input(jan10,
		ledgertest.Debit(f.Rent, "900.00"), ledgertest.Credit(f.Cash, "800.00")))
	require.NoError(t, err)
	require.Equal(t, journals.JournalStatusDraft, draft.Status)
	require.Zero(t, draft.Sequence)
	require.True(t, f.Balance(f.Rent).IsZero())

	_, err = f.Ledger.Journals.Post(f.Ctx, journals.PostInput{EntryID: draft.ID})
	require.ErrorIs(t, err, shared.ErrUnbalanced)

	_, err = f.Ledger.Periods.SoftClose(f.Ctx, f.Period.ID, 1)
	require.NoError(t, err)
	_, err = f.Ledger.Periods.ClosePeriod(f.Ctx, f.Period.ID, 1)
	require.ErrorIs(t, err, shared.ErrPendingEntries)

	res, err := f.Ledger.Journals.Cancel(f.Ctx, journals.CancelInput{EntryID: draft.ID})
	require.NoError(t, err)
	require.True(t, res.Discarded)
	require.Nil(t, res.Reversal)

	_, err = f.Ledger.Journals.Get(f.Ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrEntryNotFound)
}

func TestPostDraft(t *testing.T) {
	f := ledgertest.New(t)

	draft, err := f.Ledger.Journals.SaveDraft(f.Ctx, f.Input(jan10,
		ledgertest.Debit(f.Rent, "900.00"), ledgertest.Credit(f.Cash, "900.00")))
	require.NoError(t, err)

	posted, err := f.Ledger.Journals.Post(f.Ctx, journals.PostInput{EntryID: draft.ID, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, draft.ID, posted.ID)
	require.Equal(t, journals.JournalStatusPosted, posted.Status)
	require.EqualValues(t, 1, posted.Sequence)
	require.EqualValues(t, 3, posted.PostedBy)
	require.True(t, f.Balance(f.Rent).Equal(ledgertest.Amount("900")))
	require.True(t, f.Balance(f.Cash).Equal(ledgertest.Amount("-900")))

	_, err = f.Ledger.Journals.Post(f.Ctx, journals.PostInput{EntryID: draft.ID})
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)

	require.NoError(t, f.Ledger.Journals.VerifyChain(f.Ctx))
}

func TestConcurrentPostingKeepsSequenceDense(t *testing.T) {
	f := ledgertest.New(t)

	const writers = 24
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Ledger.Journals.PostJournal(f.Ctx, f.Input(jan10,
				ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00")))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	posted, err := f.Ledger.Journals.List(f.Ctx, journals.ListFilter{Status: journals.JournalStatusPosted})
	require.NoError(t, err)
	require.Len(t, posted, writers)
	for i, e := range posted {
		require.EqualValues(t, i+1, e.Sequence)
	}
	require.True(t, f.Balance(f.Cash).Equal(ledgertest.Amount("240")))
	require.NoError(t, f.Ledger.Journals.VerifyChain(f.Ctx))

	mismatches, err := f.Ledger.Balances.Verify(f.Ctx, balances.PeriodRange{})
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

func TestCancelledContextWritesNothing(t *testing.T) {
	f := ledgertest.New(t)
	ctx, cancel := context.WithCancel(f.Ctx)
	cancel()

	_, err := f.Ledger.Journals.PostJournal(ctx, f.Input(jan10,
		ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00")))
	require.ErrorIs(t, err, context.Canceled)

	list, err := f.Ledger.Journals.List(f.Ctx, journals.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
	require.True(t, f.Balance(f.Cash).IsZero())
}

// tamperedRepo rewrites one stored amount on read, as an out-of-band edit would.
type tamperedRepo struct {
	journals.Repository
	sequence int64
}

func (r tamperedRepo) List(ctx context.Context, filter journals.ListFilter) ([]journals.JournalEntry, error) {
	out, err := r.Repository.List(ctx, filter)
	for i := range out {
		if out[i].Sequence == r.sequence {
			out[i].Lines[0].Amount = out[i].Lines[0].Amount.Add(ledgertest.Amount("0.01"))
		}
	}
	return out, err
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	f := ledgertest.New(t)
	f.Post(ledgertest.Debit(f.Cash, "10.00"), ledgertest.Credit(f.Revenue, "10.00"))
	f.Post(ledgertest.Debit(f.Cash, "20.00"), ledgertest.Credit(f.Revenue, "20.00"))
	f.Post(ledgertest.Debit(f.Cash, "30.00"), ledgertest.Credit(f.Revenue, "30.00"))
	require.NoError(t, f.Ledger.Journals.VerifyChain(f.Ctx))

	svc := journals.NewService(tamperedRepo{Repository: f.Store.Journals(), sequence: 2}, nil, shared.Currency{}, nil, nil)
	err := svc.VerifyChain(f.Ctx)
	var fault *shared.IntegrityFault
	require.True(t, errors.As(err, &fault))
	require.Equal(t, f.Period.ID, fault.PeriodID)
	require.Contains(t, fault.Reason, "sequence 2")
	require.Equal(t, shared.KindIntegrity, shared.Classify(err))
}
