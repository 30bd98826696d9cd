package shared

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is the functional currency when none is configured.
const DefaultCurrency = "USD"

// Side is the debit/credit side of a line or an account's normal balance.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideDebit || s == SideCredit
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// Signed returns the balance of debit and credit totals seen from the normal side.
func (s Side) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if s == SideCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// Currency carries the ISO code and the fixed decimal scale used by the ledger.
type Currency struct {
	Code  string
	Scale int32
}

// LookupCurrency resolves the ISO 4217 code and its standard minor unit scale.
func LookupCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Currency{}, fmt.Errorf("ledger: currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Currency{Code: unit.String(), Scale: int32(scale)}, nil
}

// MustCurrency is LookupCurrency for static codes.
func MustCurrency(code string) Currency {
	c, err := LookupCurrency(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Fits reports whether amount needs no more digits than the currency scale.
// Amounts are expected pre-rounded; the ledger never rounds.
func (c Currency) Fits(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(c.Scale))
}

// Format renders amount at the currency scale.
func (c Currency) Format(amount decimal.Decimal) string {
	return amount.StringFixed(c.Scale)
}

// Zero is decimal zero, kept here so callers need not import decimal for comparisons.
var Zero = decimal.Zero
