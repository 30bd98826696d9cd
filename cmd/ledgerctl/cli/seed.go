package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

// DefaultChart is a small starter chart of accounts. Parents precede children.
var DefaultChart = []accounts.CreateAccountInput{
	{Code: "1000", Name: "Assets", Type: accounts.AccountTypeAsset},
	{Code: "1000.10", Name: "Cash and Bank", Type: accounts.AccountTypeAsset, ParentCode: "1000"},
	{Code: "1000.10.01", Name: "Cash on Hand", Type: accounts.AccountTypeAsset, ParentCode: "1000.10"},
	{Code: "1000.10.02", Name: "Operating Bank", Type: accounts.AccountTypeAsset, ParentCode: "1000.10"},
	{Code: "1000.20", Name: "Accounts Receivable", Type: accounts.AccountTypeAsset, ParentCode: "1000"},
	{Code: "1000.30", Name: "Inventory", Type: accounts.AccountTypeAsset, ParentCode: "1000"},
	{Code: "2000", Name: "Liabilities", Type: accounts.AccountTypeLiability},
	{Code: "2000.10", Name: "Accounts Payable", Type: accounts.AccountTypeLiability, ParentCode: "2000"},
	{Code: "2000.20", Name: "Taxes Payable", Type: accounts.AccountTypeLiability, ParentCode: "2000"},
	{Code: "3000", Name: "Equity", Type: accounts.AccountTypeEquity},
	{Code: "3000.10", Name: "Share Capital", Type: accounts.AccountTypeEquity, ParentCode: "3000"},
	{Code: "3000.20", Name: "Retained Earnings", Type: accounts.AccountTypeEquity, ParentCode: "3000"},
	{Code: "4000", Name: "Revenue", Type: accounts.AccountTypeRevenue},
	{Code: "4000.10", Name: "Sales", Type: accounts.AccountTypeRevenue, ParentCode: "4000"},
	{Code: "5000", Name: "Expenses", Type: accounts.AccountTypeExpense},
	{Code: "5000.10", Name: "Cost of Goods Sold", Type: accounts.AccountTypeExpense, ParentCode: "5000"},
	{Code: "5000.20", Name: "Rent", Type: accounts.AccountTypeExpense, ParentCode: "5000"},
	{Code: "5000.30", Name: "Salaries", Type: accounts.AccountTypeExpense, ParentCode: "5000"},
}

// SeedOptions controls Seed.
type SeedOptions struct {
	Chart []accounts.CreateAccountInput
	// Month, when non-zero, creates a monthly period covering it unless one
	// already covers its first day.
	Month   time.Time
	ActorID int64
}

// SeedResult reports what Seed created.
type SeedResult struct {
	Accounts int
	Skipped  int
	Period   *periods.Period
}

// Seed creates the chart accounts that are missing and optionally a period.
// Running it twice is a no-op.
func Seed(ctx context.Context, l *accounting.Ledger, opts SeedOptions) (SeedResult, error) {
	var res SeedResult
	chart, err := l.Accounts.Chart(ctx)
	if err != nil {
		return res, err
	}
	var missing []accounts.CreateAccountInput
	for _, in := range opts.Chart {
		if _, ok := chart.ByCode(in.Code); ok {
			res.Skipped++
			continue
		}
		in.ActorID = opts.ActorID
		missing = append(missing, in)
	}
	if len(missing) > 0 {
		created, err := l.Accounts.CreateAccounts(ctx, missing)
		if err != nil {
			return res, err
		}
		res.Accounts = len(created)
	}
	if opts.Month.IsZero() {
		return res, nil
	}
	start := time.Date(opts.Month.Year(), opts.Month.Month(), 1, 0, 0, 0, 0, time.UTC)
	if _, err := l.Periods.FindByDate(ctx, start); err == nil {
		return res, nil
	} else if !errors.Is(err, shared.ErrPeriodNotFound) {
		return res, err
	}
	p, err := l.Periods.CreatePeriod(ctx, periods.CreatePeriodInput{
		Code:      start.Format("2006-01"),
		StartDate: start,
		EndDate:   start.AddDate(0, 1, -1),
		ActorID:   opts.ActorID,
	})
	if err != nil {
		return res, err
	}
	res.Period = &p
	return res, nil
}

func newSeedCommand() *cobra.Command {
	var month string
	var actor int64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the starter chart of accounts and an open period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := SeedOptions{Chart: DefaultChart, ActorID: actor}
			if month != "" {
				m, err := time.Parse("2006-01", month)
				if err != nil {
					return fmt.Errorf("invalid --month %q: %w", month, err)
				}
				opts.Month = m
			}
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				res, err := Seed(ctx, rt.Ledger, opts)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "accounts created: %d, already present: %d\n", res.Accounts, res.Skipped)
				if res.Period != nil {
					printf(cmd.OutOrStdout(), "period %s (id %d) %s..%s\n", res.Period.Code, res.Period.ID,
						res.Period.StartDate.Format(time.DateOnly), res.Period.EndDate.Format(time.DateOnly))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", time.Now().UTC().Format("2006-01"), "month (YYYY-MM) of the period to open; empty skips it")
	cmd.Flags().Int64Var(&actor, "actor", 0, "actor id recorded in the audit log")
	return cmd
}
