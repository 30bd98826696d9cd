package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/budgets"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type budgetKey struct {
	account int64
	period  int64
}

// Budgets returns the budget repository.
func (l *Ledger) Budgets() budgets.Repository {
	return budgetRepo{l: l}
}

type budgetRepo struct {
	l *Ledger
}

func (r budgetRepo) List(ctx context.Context, periodID int64) ([]budgets.Budget, error) {
	snap := r.l.read()
	var out []budgets.Budget
	for _, b := range snap.budgets.all() {
		if periodID == 0 || b.PeriodID == periodID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodID != out[j].PeriodID {
			return out[i].PeriodID < out[j].PeriodID
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (r budgetRepo) Get(ctx context.Context, accountID, periodID int64) (budgets.Budget, error) {
	snap := r.l.read()
	b, ok := snap.budgets.get(budgetKey{account: accountID, period: periodID})
	if !ok {
		return budgets.Budget{}, shared.ErrBudgetNotFound
	}
	return b, nil
}

func (r budgetRepo) WithTx(ctx context.Context, fn func(context.Context, budgets.TxRepository) error) error {
	return r.l.update(ctx, func(s *snapshot) error {
		return fn(ctx, budgetTx{snap: s, l: r.l})
	})
}

type budgetTx struct {
	snap *snapshot
	l    *Ledger
}

func (t budgetTx) GetBudgetForUpdate(ctx context.Context, accountID, periodID int64) (budgets.Budget, error) {
	b, ok := t.snap.budgets.get(budgetKey{account: accountID, period: periodID})
	if !ok {
		return budgets.Budget{}, shared.ErrBudgetNotFound
	}
	return b, nil
}

func (t budgetTx) UpsertBudget(ctx context.Context, b budgets.Budget) (budgets.Budget, error) {
	if _, ok := t.snap.accounts.get(b.AccountID); !ok {
		return budgets.Budget{}, fmt.Errorf("%w: %d", shared.ErrAccountNotFound, b.AccountID)
	}
	if _, ok := t.snap.periods.get(b.PeriodID); !ok {
		return budgets.Budget{}, fmt.Errorf("%w: %d", shared.ErrPeriodNotFound, b.PeriodID)
	}
	key := budgetKey{account: b.AccountID, period: b.PeriodID}
	now := t.l.now().UTC()
	if current, ok := t.snap.budgets.get(key); ok {
		b.ID, b.CreatedBy, b.CreatedAt = current.ID, current.CreatedBy, current.CreatedAt
	} else {
		b.ID = t.snap.id()
		b.CreatedAt = now
		t.snap.budgetKeys.put(b.ID, key)
	}
	b.UpdatedAt = now
	t.snap.budgets.put(key, b)
	return b, nil
}

func (t budgetTx) SetExceeded(ctx context.Context, id int64, exceeded bool) error {
	key, ok := t.snap.budgetKeys.get(id)
	if !ok {
		return fmt.Errorf("%w: id %d", shared.ErrBudgetNotFound, id)
	}
	b, _ := t.snap.budgets.get(key)
	b.Exceeded = exceeded
	b.UpdatedAt = t.l.now().UTC()
	t.snap.budgets.put(key, b)
	return nil
}
