package accounts

import (
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide returns the side on which balances of this type increase.
func (t AccountType) NormalSide() shared.Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return shared.SideDebit
	default:
		return shared.SideCredit
	}
}

// CodeSeparator splits hierarchical account code segments, e.g. "1000.10".
const CodeSeparator = "."

// Account models a chart of accounts node.
type Account struct {
	ID         int64
	Code       string
	Name       string
	Type       AccountType
	NormalSide shared.Side
	ParentID   *int64
	// Path holds ancestor ids, root first. Materialized at creation.
	Path      []int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Depth is the number of ancestors.
func (a Account) Depth() int {
	return len(a.Path)
}

// HasAncestor reports whether id appears in the account's ancestor path.
func (a Account) HasAncestor(id int64) bool {
	for _, p := range a.Path {
		if p == id {
			return true
		}
	}
	return false
}

// Segments splits an account code into its hierarchical parts.
func Segments(code string) []string {
	return strings.Split(code, CodeSeparator)
}

// CreateAccountInput captures the fields needed to add an account.
type CreateAccountInput struct {
	Code     string
	Name     string
	Type     AccountType
	ParentID *int64
	// ParentCode resolves the parent by code when ParentID is nil.
	ParentCode string
	ActorID    int64
}

// Validate checks the input in isolation.
func (in CreateAccountInput) Validate() error {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return shared.ErrInvalidCode
	}
	for _, seg := range Segments(code) {
		if seg == "" {
			return shared.ErrInvalidCode
		}
	}
	if strings.TrimSpace(in.Name) == "" {
		return shared.NewValidationError(-1, shared.ErrValidation, "account name required")
	}
	if !in.Type.Valid() {
		return shared.NewValidationError(-1, shared.ErrValidation, "unknown account type %q", in.Type)
	}
	return nil
}

// extendsParent reports whether child is parent plus at least one more segment.
func extendsParent(child, parent string) bool {
	return strings.HasPrefix(child, parent+CodeSeparator) && len(child) > len(parent)+len(CodeSeparator)
}
