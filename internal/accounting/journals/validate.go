package journals

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Validate checks the structural rules that need no ledger state: line count,
// sides, amount precision and the double-entry balance.
func (in PostingInput) Validate(cur shared.Currency) error {
	if in.PeriodID == 0 {
		return shared.NewValidationError(-1, shared.ErrValidation, "period required")
	}
	if in.Date.IsZero() {
		return shared.NewValidationError(-1, shared.ErrValidation, "entry date required")
	}
	if in.Currency != "" && !strings.EqualFold(in.Currency, cur.Code) {
		return shared.NewValidationError(-1, shared.ErrCurrencyMismatch, "entry %s, ledger %s", in.Currency, cur.Code)
	}
	return validateLines(in.Lines, cur)
}

func validateLines(lines []PostingLineInput, cur shared.Currency) error {
	debit, credit, err := lineTotals(lines, cur)
	if err != nil {
		return err
	}
	if !debit.Equal(credit) {
		return shared.NewValidationError(-1, shared.ErrUnbalanced, "debit %s credit %s", cur.Format(debit), cur.Format(credit))
	}
	return nil
}

// ValidateDraft applies the subset of rules a draft must meet. Drafts may be
// unbalanced; the balance is enforced when they are posted.
func (in PostingInput) ValidateDraft(cur shared.Currency) error {
	if in.PeriodID == 0 {
		return shared.NewValidationError(-1, shared.ErrValidation, "period required")
	}
	if in.Date.IsZero() {
		return shared.NewValidationError(-1, shared.ErrValidation, "entry date required")
	}
	_, _, err := lineTotals(in.Lines, cur)
	return err
}

func lineTotals(lines []PostingLineInput, cur shared.Currency) (decimal.Decimal, decimal.Decimal, error) {
	if len(lines) < 2 {
		return decimal.Zero, decimal.Zero, shared.NewValidationError(-1, shared.ErrTooFewLines, "got %d", len(lines))
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range lines {
		if line.AccountID == 0 {
			return decimal.Zero, decimal.Zero, shared.NewValidationError(idx, shared.ErrUnknownAccount, "missing account")
		}
		if !line.Side.Valid() {
			return decimal.Zero, decimal.Zero, shared.NewValidationError(idx, shared.ErrInvalidSide, "side %q", line.Side)
		}
		if !line.Amount.IsPositive() {
			return decimal.Zero, decimal.Zero, shared.NewValidationError(idx, shared.ErrInvalidAmount, "amount %s must be positive", line.Amount.String())
		}
		if !cur.Fits(line.Amount) {
			return decimal.Zero, decimal.Zero, shared.NewValidationError(idx, shared.ErrInvalidAmount, "%s exceeds %s scale %d", line.Amount.String(), cur.Code, cur.Scale)
		}
		if line.Side == shared.SideDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit, nil
}

// checkAgainstLedger applies the rules needing ledger state: period gate,
// entry date range and active accounts.
func checkAgainstLedger(ctx context.Context, tx TxRepository, period periods.Period, in PostingInput) error {
	if err := periods.CheckPostable(period, in.Elevated); err != nil {
		return err
	}
	if !period.Contains(in.Date) {
		return shared.NewValidationError(-1, shared.ErrDateOutOfRange, "%s not in %s", in.Date.Format(time.DateOnly), period.Code)
	}
	for idx, line := range in.Lines {
		acc, err := tx.GetAccount(ctx, line.AccountID)
		if err != nil {
			if errors.Is(err, shared.ErrAccountNotFound) {
				return shared.NewValidationError(idx, shared.ErrUnknownAccount, "account %d", line.AccountID)
			}
			return err
		}
		if !acc.IsActive {
			return shared.NewValidationError(idx, shared.ErrInactiveAccount, "account %s", acc.Code)
		}
	}
	return nil
}

func toInput(e JournalEntry, elevated bool) PostingInput {
	in := PostingInput{
		PeriodID: e.PeriodID,
		Date:     e.Date,
		Currency: e.Currency,
		Memo:     e.Memo,
		Elevated: elevated,
		Lines:    make([]PostingLineInput, 0, len(e.Lines)),
	}
	for _, l := range e.Lines {
		in.Lines = append(in.Lines, PostingLineInput{AccountID: l.AccountID, Side: l.Side, Amount: l.Amount, Memo: l.Memo})
	}
	return in
}
