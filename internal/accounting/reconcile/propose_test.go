package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func txn(id string, amount string, d int) ExternalTransaction {
	return ExternalTransaction{ID: id, Amount: decimal.RequireFromString(amount), ValueDate: day(d)}
}

func line(id, seq int64, lineNo int, side shared.Side, amount string, d int) Candidate {
	return Candidate{
		LineID:    id,
		EntryID:   seq,
		AccountID: 10,
		LineNo:    lineNo,
		Sequence:  seq,
		Date:      day(d),
		Side:      side,
		Amount:    decimal.RequireFromString(amount),
	}
}

func TestProposePicksNearestDateThenSequence(t *testing.T) {
	lines := []Candidate{
		line(1, 5, 1, shared.SideDebit, "500.00", 8),
		line(2, 3, 1, shared.SideDebit, "500.00", 12),
		line(3, 4, 2, shared.SideDebit, "500.00", 12),
		line(4, 4, 1, shared.SideDebit, "500.00", 12),
	}
	results := Propose([]ExternalTransaction{txn("T1", "500.00", 11)}, lines, DefaultOptions())
	require.Len(t, results, 1)
	require.Equal(t, ResultProposed, results[0].Status)
	require.Equal(t, int64(2), results[0].Candidate.LineID)
	require.Equal(t, 1, results[0].DayDistance)

	// equal distance and sequence falls back to line number
	results = Propose([]ExternalTransaction{txn("T1", "500.00", 11)}, lines[2:], DefaultOptions())
	require.Equal(t, int64(4), results[0].Candidate.LineID)
}

func TestProposeClaimsLineOnce(t *testing.T) {
	lines := []Candidate{line(1, 1, 1, shared.SideDebit, "75.00", 5)}
	results := Propose([]ExternalTransaction{
		txn("B", "75.00", 5),
		txn("A", "75.00", 5),
	}, lines, DefaultOptions())

	require.Len(t, results, 2)
	require.Equal(t, "A", results[0].TxnID)
	require.Equal(t, ResultProposed, results[0].Status)
	require.Equal(t, "B", results[1].TxnID)
	require.Equal(t, ResultUnmatched, results[1].Status)
	require.Nil(t, results[1].Candidate)
}

func TestProposeEligibility(t *testing.T) {
	cases := []struct {
		name   string
		txn    ExternalTransaction
		line   Candidate
		opts   Options
		status ResultStatus
	}{
		{
			name:   "outside tolerance",
			txn:    txn("T", "10.00", 1),
			line:   line(1, 1, 1, shared.SideDebit, "10.00", 5),
			opts:   DefaultOptions(),
			status: ResultUnmatched,
		},
		{
			name:   "edge of tolerance",
			txn:    txn("T", "10.00", 2),
			line:   line(1, 1, 1, shared.SideDebit, "10.00", 5),
			opts:   DefaultOptions(),
			status: ResultProposed,
		},
		{
			name:   "amount differs",
			txn:    txn("T", "10.01", 5),
			line:   line(1, 1, 1, shared.SideDebit, "10.00", 5),
			opts:   DefaultOptions(),
			status: ResultUnmatched,
		},
		{
			name:   "money out matches credit",
			txn:    txn("T", "-42.50", 5),
			line:   line(1, 1, 1, shared.SideCredit, "42.50", 5),
			opts:   DefaultOptions(),
			status: ResultProposed,
		},
		{
			name:   "money in does not match credit",
			txn:    txn("T", "42.50", 5),
			line:   line(1, 1, 1, shared.SideCredit, "42.50", 5),
			opts:   DefaultOptions(),
			status: ResultUnmatched,
		},
		{
			name:   "account filter",
			txn:    txn("T", "10.00", 5),
			line:   line(1, 1, 1, shared.SideDebit, "10.00", 5),
			opts:   Options{DateTolerance: 3, AccountID: 99},
			status: ResultUnmatched,
		},
		{
			name:   "negative tolerance means same day",
			txn:    txn("T", "10.00", 5),
			line:   line(1, 1, 1, shared.SideDebit, "10.00", 6),
			opts:   Options{DateTolerance: -1},
			status: ResultUnmatched,
		},
		{
			name: "bound account mismatch",
			txn: ExternalTransaction{
				ID: "T", AccountID: 11, Amount: decimal.RequireFromString("10.00"), ValueDate: day(5),
			},
			line:   line(1, 1, 1, shared.SideDebit, "10.00", 5),
			opts:   DefaultOptions(),
			status: ResultUnmatched,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results := Propose([]ExternalTransaction{tc.txn}, []Candidate{tc.line}, tc.opts)
			require.Len(t, results, 1)
			require.Equal(t, tc.status, results[0].Status)
		})
	}
}

func TestProposeDoesNotReorderInput(t *testing.T) {
	txns := []ExternalTransaction{txn("Z", "1.00", 9), txn("A", "1.00", 1)}
	_ = Propose(txns, nil, DefaultOptions())
	require.Equal(t, "Z", txns[0].ID)
}

func TestExternalTransactionValidate(t *testing.T) {
	usd := shared.MustCurrency("USD")
	require.NoError(t, txn("T", "-3.25", 1).Validate(usd))

	bad := []ExternalTransaction{
		{Amount: decimal.RequireFromString("1.00"), ValueDate: day(1)},
		{ID: "T", Amount: decimal.RequireFromString("1.00")},
		{ID: "T", Amount: decimal.Zero, ValueDate: day(1)},
		{ID: "T", Amount: decimal.RequireFromString("1.005"), ValueDate: day(1)},
	}
	for _, b := range bad {
		err := b.Validate(usd)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestProposeIgnoresVoidedLines(t *testing.T) {
	voided := line(1, 1, 1, shared.SideDebit, "60.00", 5)
	voided.Voided = true
	live := line(2, 7, 1, shared.SideDebit, "60.00", 7)

	results := Propose([]ExternalTransaction{txn("T", "60.00", 5)}, []Candidate{voided, live}, DefaultOptions())
	require.Equal(t, ResultProposed, results[0].Status)
	require.Equal(t, int64(2), results[0].Candidate.LineID)

	results = Propose([]ExternalTransaction{txn("T", "60.00", 5)}, []Candidate{voided}, DefaultOptions())
	require.Equal(t, ResultUnmatched, results[0].Status)
}
