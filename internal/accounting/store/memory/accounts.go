package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Accounts returns the chart of accounts repository.
func (l *Ledger) Accounts() accounts.Repository {
	return accountRepo{l: l}
}

type accountRepo struct {
	l *Ledger
}

func (r accountRepo) List(ctx context.Context) ([]accounts.Account, error) {
	snap := r.l.read()
	out := make([]accounts.Account, 0, snap.accounts.len())
	for _, a := range snap.accounts.all() {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r accountRepo) Get(ctx context.Context, id int64) (accounts.Account, error) {
	return accountTx{snap: r.l.read()}.GetAccount(ctx, id)
}

func (r accountRepo) WithTx(ctx context.Context, fn func(context.Context, accounts.TxRepository) error) error {
	return r.l.update(ctx, func(s *snapshot) error {
		return fn(ctx, accountTx{snap: s, l: r.l})
	})
}

type accountTx struct {
	snap *snapshot
	l    *Ledger
}

func (t accountTx) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	a, ok := t.snap.accounts.get(id)
	if !ok {
		return accounts.Account{}, shared.ErrAccountNotFound
	}
	return a, nil
}

func (t accountTx) GetAccountByCode(ctx context.Context, code string) (accounts.Account, error) {
	id, ok := t.snap.codes.get(code)
	if !ok {
		return accounts.Account{}, shared.ErrAccountNotFound
	}
	return t.GetAccount(ctx, id)
}

func (t accountTx) InsertAccount(ctx context.Context, a accounts.Account) (accounts.Account, error) {
	if _, err := t.GetAccountByCode(ctx, a.Code); err == nil {
		return accounts.Account{}, fmt.Errorf("%w: %s", shared.ErrDuplicateCode, a.Code)
	}
	now := t.l.now().UTC()
	a.ID = t.snap.id()
	a.CreatedAt, a.UpdatedAt = now, now
	a.Path = append([]int64(nil), a.Path...)
	t.snap.accounts.put(a.ID, a)
	t.snap.codes.put(a.Code, a.ID)
	return a, nil
}

func (t accountTx) SetAccountActive(ctx context.Context, id int64, active bool) error {
	a, ok := t.snap.accounts.get(id)
	if !ok {
		return shared.ErrAccountNotFound
	}
	a.IsActive = active
	a.UpdatedAt = t.l.now().UTC()
	t.snap.accounts.put(id, a)
	return nil
}
