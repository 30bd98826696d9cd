package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the umbrella for malformed or unbalanced input. Never changes state.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrInvalidAmount indicates a negative, zero or over-precise amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInvalidSide indicates a line side other than debit or credit.
	ErrInvalidSide = errors.New("ledger: invalid line side")
	// ErrUnknownAccount indicates a line referencing a missing account.
	ErrUnknownAccount = errors.New("ledger: unknown account")
	// ErrInactiveAccount indicates a line referencing an inactive account.
	ErrInactiveAccount = errors.New("ledger: account inactive")
	// ErrDateOutOfRange indicates journal date mismatch.
	ErrDateOutOfRange = errors.New("ledger: date outside period")
	// ErrCurrencyMismatch indicates an entry currency different from the ledger currency.
	ErrCurrencyMismatch = errors.New("ledger: currency mismatch")
)

var (
	// ErrAlreadyPosted is returned when posting an entry twice.
	ErrAlreadyPosted = errors.New("ledger: entry already posted")
	// ErrPeriodClosed indicates the period is hard closed.
	ErrPeriodClosed = errors.New("ledger: period closed")
	// ErrPeriodNotFound indicates a missing period.
	ErrPeriodNotFound = errors.New("ledger: period not found")
	// ErrPeriodNotOpen indicates the operation requires an open period.
	ErrPeriodNotOpen = errors.New("ledger: period is not open")
	// ErrElevationRequired indicates posting into a soft closed period without elevation.
	ErrElevationRequired = errors.New("ledger: soft closed period requires elevated posting")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrInvalidStatus indicates action can't proceed from the entry's current status.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrAlreadyReversed indicates the posted entry already has a reversing entry.
	ErrAlreadyReversed = errors.New("ledger: entry already reversed")
	// ErrIntegrityHold indicates the period is flagged for manual audit.
	ErrIntegrityHold = errors.New("ledger: period held for integrity audit")
)

var (
	// ErrUnbalancedPeriod indicates a nonzero trial balance at close.
	ErrUnbalancedPeriod = errors.New("periods: trial balance is not zero")
	// ErrPendingEntries indicates drafts remain in the period.
	ErrPendingEntries = errors.New("periods: draft entries pending")
	// ErrInvalidTransition indicates a skipped or backward period transition.
	ErrInvalidTransition = errors.New("periods: invalid status transition")
	// ErrPeriodOverlap indicates the requested period conflicts with an existing range.
	ErrPeriodOverlap = errors.New("periods: period overlaps existing range")
	// ErrPeriodGap indicates the requested period is not contiguous with the last one.
	ErrPeriodGap = errors.New("periods: period must start the day after the previous period")
)

var (
	// ErrAccountNotFound indicates a missing account on lookup.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrDuplicateCode indicates the account code already exists.
	ErrDuplicateCode = errors.New("accounts: duplicate account code")
	// ErrInvalidCode indicates a malformed or non-hierarchical account code.
	ErrInvalidCode = errors.New("accounts: invalid account code")
	// ErrAccountCycle indicates an account would become its own ancestor.
	ErrAccountCycle = errors.New("accounts: account cannot be its own ancestor")
	// ErrParentTypeMismatch indicates a parent whose type differs from the child.
	ErrParentTypeMismatch = errors.New("accounts: parent account type mismatch")
)

var (
	// ErrProposalNotFound indicates a missing match proposal.
	ErrProposalNotFound = errors.New("reconcile: proposal not found")
	// ErrTransactionNotFound indicates a missing external transaction.
	ErrTransactionNotFound = errors.New("reconcile: external transaction not found")
	// ErrDuplicateTransaction indicates a bank-feed row ingested twice.
	ErrDuplicateTransaction = errors.New("reconcile: external transaction already ingested")
	// ErrStaleProposal indicates either side of the proposal changed since it was made.
	ErrStaleProposal = errors.New("reconcile: proposal no longer applicable")
)

// ErrBudgetNotFound indicates no budget is set for an account and period.
var ErrBudgetNotFound = errors.New("budgets: budget not found")

// ErrIntegrityFault marks ledger integrity faults. Not user recoverable.
var ErrIntegrityFault = errors.New("ledger: integrity fault")

// ValidationError describes a single rule violation of a journal entry.
type ValidationError struct {
	Line   int
	Reason string
	Err    error
}

// NewValidationError builds a ValidationError. line is -1 for entry level rules.
func NewValidationError(line int, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Line: line, Err: err, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("%v: line %d: %s", e.Err, e.Line, e.Reason)
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

// Unwrap exposes both the umbrella and the specific sentinel to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// IntegrityFault reports a ledger inconsistency on a period/account pair.
// AccountID is zero when the fault concerns the whole period.
type IntegrityFault struct {
	PeriodID  int64
	AccountID int64
	Reason    string
}

func (f *IntegrityFault) Error() string {
	if f.AccountID != 0 {
		return fmt.Sprintf("%v: period %d account %d: %s", ErrIntegrityFault, f.PeriodID, f.AccountID, f.Reason)
	}
	return fmt.Sprintf("%v: period %d: %s", ErrIntegrityFault, f.PeriodID, f.Reason)
}

func (f *IntegrityFault) Unwrap() error { return ErrIntegrityFault }

// Kind classifies ledger errors for transport mapping.
type Kind string

const (
	KindNone       Kind = ""
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindLocked     Kind = "locked"
	KindIntegrity  Kind = "integrity"
	KindInternal   Kind = "internal"
)

// Classify maps an error onto the ledger taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrIntegrityFault):
		return KindIntegrity
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrDuplicateCode),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrAccountCycle),
		errors.Is(err, ErrParentTypeMismatch),
		errors.Is(err, ErrPeriodOverlap),
		errors.Is(err, ErrPeriodGap):
		return KindValidation
	case errors.Is(err, ErrPeriodNotFound),
		errors.Is(err, ErrEntryNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrProposalNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrBudgetNotFound):
		return KindNotFound
	case errors.Is(err, ErrPeriodClosed),
		errors.Is(err, ErrIntegrityHold),
		errors.Is(err, ErrElevationRequired):
		return KindLocked
	case errors.Is(err, ErrAlreadyPosted),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrPeriodNotOpen),
		errors.Is(err, ErrUnbalancedPeriod),
		errors.Is(err, ErrPendingEntries),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicateTransaction),
		errors.Is(err, ErrStaleProposal):
		return KindConflict
	default:
		return KindInternal
	}
}
