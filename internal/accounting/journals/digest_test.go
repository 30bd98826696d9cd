package journals

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func sampleEntry() JournalEntry {
	return JournalEntry{
		Sequence: 4,
		PeriodID: 2,
		Date:     time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		Currency: "USD",
		Memo:     "memo is not sealed",
		Lines: []JournalLine{
			{LineNo: 1, AccountID: 10, Side: shared.SideDebit, Amount: decimal.RequireFromString("12.5")},
			{LineNo: 2, AccountID: 11, Side: shared.SideCredit, Amount: decimal.RequireFromString("12.50")},
		},
	}
}

func TestChainDigestIsStable(t *testing.T) {
	e := sampleEntry()
	first, err := chainDigest("", e, 2)
	require.NoError(t, err)
	require.Len(t, first, 64)

	again, err := chainDigest("", e, 2)
	require.NoError(t, err)
	require.Equal(t, first, again)

	e.Memo = "edited"
	e.Lines[0].ReconState = ReconReconciled
	e.Lines[0].ExternalTxnID = "bank-1"
	unchanged, err := chainDigest("", e, 2)
	require.NoError(t, err)
	require.Equal(t, first, unchanged)
}

func TestChainDigestCoversSealedFields(t *testing.T) {
	base, err := chainDigest("", sampleEntry(), 2)
	require.NoError(t, err)

	mutations := map[string]func(*JournalEntry){
		"amount":   func(e *JournalEntry) { e.Lines[1].Amount = decimal.RequireFromString("12.51") },
		"side":     func(e *JournalEntry) { e.Lines[0].Side = shared.SideCredit },
		"account":  func(e *JournalEntry) { e.Lines[0].AccountID = 99 },
		"sequence": func(e *JournalEntry) { e.Sequence = 5 },
		"date":     func(e *JournalEntry) { e.Date = e.Date.AddDate(0, 0, 1) },
		"reversal": func(e *JournalEntry) { id := int64(3); e.ReversalOf = &id },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := sampleEntry()
			mutate(&e)
			got, err := chainDigest("", e, 2)
			require.NoError(t, err)
			require.NotEqual(t, base, got)
		})
	}

	chained, err := chainDigest(base, sampleEntry(), 2)
	require.NoError(t, err)
	require.NotEqual(t, base, chained)

	_, err = chainDigest("not-hex", sampleEntry(), 2)
	require.Error(t, err)
}
