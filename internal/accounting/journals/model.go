package journals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft     JournalStatus = "DRAFT"
	JournalStatusPosted    JournalStatus = "POSTED"
	JournalStatusCancelled JournalStatus = "CANCELLED"
)

// ReconState tracks a line through bank reconciliation.
type ReconState string

const (
	ReconUnreconciled ReconState = "UNRECONCILED"
	ReconMatched      ReconState = "MATCHED"
	ReconReconciled   ReconState = "RECONCILED"
)

// JournalEntry is an atomic, balanced set of lines. Once POSTED its lines and
// amounts never change; corrections go through a reversing entry.
type JournalEntry struct {
	ID         int64
	Sequence   int64
	PeriodID   int64
	Date       time.Time
	Currency   string
	Memo       string
	Status     JournalStatus
	ReversalOf *int64
	CreatedBy  int64
	PostedBy   int64
	CreatedAt  time.Time
	PostedAt   *time.Time
	Digest     string
	Lines      []JournalLine
}

// JournalLine stores one debit or credit amount for an account.
type JournalLine struct {
	ID            int64
	EntryID       int64
	LineNo        int
	AccountID     int64
	Side          shared.Side
	Amount        decimal.Decimal
	Memo          string
	ReconState    ReconState
	ExternalTxnID string
}

// Signed returns the amount as a debit-positive value.
func (l JournalLine) Signed() decimal.Decimal {
	if l.Side == shared.SideCredit {
		return l.Amount.Neg()
	}
	return l.Amount
}

// Totals sums debit and credit amounts.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		if l.Side == shared.SideDebit {
			debit = debit.Add(l.Amount)
		} else {
			credit = credit.Add(l.Amount)
		}
	}
	return debit, credit
}

// IsReversal reports whether the entry reverses another entry.
func (e JournalEntry) IsReversal() bool {
	return e.ReversalOf != nil
}

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID int64
	Side      shared.Side
	Amount    decimal.Decimal
	Memo      string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	PeriodID int64
	Date     time.Time
	Currency string
	Memo     string
	ActorID  int64
	// Elevated is the caller's assertion of authorization to post into a
	// SOFT_CLOSED period. How it is granted is outside the ledger.
	Elevated bool
	Lines    []PostingLineInput
}

// PostInput posts a previously saved draft.
type PostInput struct {
	EntryID  int64
	ActorID  int64
	Elevated bool
}

// CancelInput cancels a draft or reverses a posted entry.
type CancelInput struct {
	EntryID int64
	ActorID int64
	Memo    string
}

// CancelResult reports what a cancel did. Reversal is nil when a draft was discarded.
type CancelResult struct {
	Original  JournalEntry
	Reversal  *JournalEntry
	Discarded bool
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	PeriodIDs []int64
	Status    JournalStatus
	// AfterSequence keeps only entries sequenced above it.
	AfterSequence int64
}
