// Package budgets tracks per account, per period spending limits and raises
// an event when posted movement crosses a budget's alert threshold.
package budgets

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// DefaultThreshold alerts once movement exceeds the full budgeted amount.
var DefaultThreshold = decimal.NewFromInt(1)

// maxThreshold bounds the alert ratio at ten times the budget.
var maxThreshold = decimal.NewFromInt(10)

// Budget allocates an amount to one account for one period. Movement is
// measured on the account's normal side, so a budget on an expense account
// caps net debits and one on a revenue account tracks net credits.
type Budget struct {
	ID        int64
	AccountID int64
	PeriodID  int64
	Amount    decimal.Decimal
	// Threshold is the ratio of Amount at which the budget alerts; 0.9 alerts at 90%.
	Threshold decimal.Decimal
	// Exceeded is set while movement is above the limit and an alert was raised.
	Exceeded  bool
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Limit is the movement above which the budget alerts.
func (b Budget) Limit() decimal.Decimal {
	return b.Amount.Mul(b.Threshold)
}

// SetBudgetInput creates or replaces the budget of an account and period.
type SetBudgetInput struct {
	AccountID int64
	PeriodID  int64
	Amount    decimal.Decimal
	Threshold decimal.Decimal
	ActorID   int64
}

// Validate checks the input against the ledger currency.
func (in *SetBudgetInput) Validate(cur shared.Currency) error {
	if in.AccountID <= 0 {
		return shared.NewValidationError(-1, shared.ErrValidation, "account id required")
	}
	if in.PeriodID <= 0 {
		return shared.NewValidationError(-1, shared.ErrValidation, "period id required")
	}
	if in.Amount.IsNegative() {
		return shared.NewValidationError(-1, shared.ErrInvalidAmount, "budget %s must not be negative", in.Amount.String())
	}
	if !cur.Fits(in.Amount) {
		return shared.NewValidationError(-1, shared.ErrInvalidAmount, "%s exceeds %s scale %d", in.Amount.String(), cur.Code, cur.Scale)
	}
	if in.Threshold.IsZero() {
		in.Threshold = DefaultThreshold
	}
	if !in.Threshold.IsPositive() || in.Threshold.GreaterThan(maxThreshold) {
		return shared.NewValidationError(-1, shared.ErrValidation, "threshold %s must be in (0, %s]", in.Threshold.String(), maxThreshold.String())
	}
	return nil
}

// Variance compares a budget with the movement posted against it.
type Variance struct {
	Budget Budget
	Actual decimal.Decimal
	// Remaining is Amount minus Actual; negative once overspent.
	Remaining decimal.Decimal
	Over      bool
}

func newVariance(b Budget, actual decimal.Decimal) Variance {
	return Variance{
		Budget:    b,
		Actual:    actual,
		Remaining: b.Amount.Sub(actual),
		Over:      actual.GreaterThan(b.Limit()),
	}
}
