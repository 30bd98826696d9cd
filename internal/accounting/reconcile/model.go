package reconcile

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// TxnState tracks an external transaction through matching.
type TxnState string

const (
	TxnUnmatched TxnState = "UNMATCHED"
	TxnProposed  TxnState = "PROPOSED"
	TxnConfirmed TxnState = "CONFIRMED"
)

// ProposalState enumerates match proposal states.
type ProposalState string

const (
	ProposalProposed  ProposalState = "PROPOSED"
	ProposalConfirmed ProposalState = "CONFIRMED"
)

// ExternalTransaction is one bank-feed row. Amount is signed: positive money
// in, which is a debit on the bound bank account.
type ExternalTransaction struct {
	ID          string
	AccountID   int64
	Amount      decimal.Decimal
	ValueDate   time.Time
	Description string
	State       TxnState
	CreatedAt   time.Time
}

// Validate checks a bank-feed row before it is stored.
func (t ExternalTransaction) Validate(cur shared.Currency) error {
	if strings.TrimSpace(t.ID) == "" {
		return shared.NewValidationError(-1, shared.ErrValidation, "transaction id required")
	}
	if t.ValueDate.IsZero() {
		return shared.NewValidationError(-1, shared.ErrValidation, "transaction %s: value date required", t.ID)
	}
	if t.Amount.IsZero() {
		return shared.NewValidationError(-1, shared.ErrInvalidAmount, "transaction %s: zero amount", t.ID)
	}
	if !cur.Fits(t.Amount) {
		return shared.NewValidationError(-1, shared.ErrInvalidAmount, "transaction %s: %s exceeds scale %d", t.ID, t.Amount.String(), cur.Scale)
	}
	return nil
}

// Candidate is a posted, unreconciled ledger line eligible for matching.
type Candidate struct {
	LineID     int64
	EntryID    int64
	AccountID  int64
	LineNo     int
	Sequence   int64
	Date       time.Time
	Side       shared.Side
	Amount     decimal.Decimal
	ReconState journals.ReconState
	// Voided marks lines of an entry that was reversed or that is itself a
	// reversal. Such lines are never matched.
	Voided bool
}

// Signed returns the line amount as seen by the bank: debits positive.
func (c Candidate) Signed() decimal.Decimal {
	if c.Side == shared.SideCredit {
		return c.Amount.Neg()
	}
	return c.Amount
}

// MatchProposal pairs one external transaction with one ledger line.
type MatchProposal struct {
	ID            uuid.UUID
	ExternalTxnID string
	LineID        int64
	EntryID       int64
	AccountID     int64
	Sequence      int64
	DayDistance   int
	State         ProposalState
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
}

// ResultStatus is the outcome of matching one transaction.
type ResultStatus string

const (
	ResultProposed  ResultStatus = "PROPOSED"
	ResultUnmatched ResultStatus = "UNMATCHED"
)

// Result reports the outcome for one transaction. Candidate is nil when unmatched.
type Result struct {
	TxnID       string
	Status      ResultStatus
	Candidate   *Candidate
	DayDistance int
	ProposalID  uuid.UUID
}

// DefaultDateTolerance is the matching window in days either side of the value date.
const DefaultDateTolerance = 3

// Options tunes a matching pass.
type Options struct {
	// DateTolerance is the allowed distance in days; negative values mean zero.
	DateTolerance int
	// AccountID restricts candidates to one ledger account when nonzero.
	AccountID int64
}

// DefaultOptions returns the standard matching options.
func DefaultOptions() Options {
	return Options{DateTolerance: DefaultDateTolerance}
}
