package budgets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists budgets.
type Repository interface {
	// List returns budgets ordered by period then account. periodID zero lists all.
	List(ctx context.Context, periodID int64) ([]Budget, error)
	Get(ctx context.Context, accountID, periodID int64) (Budget, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes budget writes inside a transaction.
type TxRepository interface {
	GetBudgetForUpdate(ctx context.Context, accountID, periodID int64) (Budget, error)
	// UpsertBudget stores b keyed by account and period and returns the stored row.
	UpsertBudget(ctx context.Context, b Budget) (Budget, error)
	SetExceeded(ctx context.Context, id int64, exceeded bool) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const budgetColumns = `id, account_id, period_id, amount, threshold, exceeded, created_by, created_at, updated_at`

func scanBudget(row pgx.Row) (Budget, error) {
	var b Budget
	err := row.Scan(&b.ID, &b.AccountID, &b.PeriodID, &b.Amount, &b.Threshold, &b.Exceeded, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Budget{}, shared.ErrBudgetNotFound
	}
	return b, err
}

func (r *repository) List(ctx context.Context, periodID int64) ([]Budget, error) {
	rows, err := r.db.Query(ctx, `SELECT `+budgetColumns+` FROM ledger_budgets
WHERE ($1::bigint = 0 OR period_id = $1) ORDER BY period_id, account_id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, accountID, periodID int64) (Budget, error) {
	return scanBudget(r.db.QueryRow(ctx, `SELECT `+budgetColumns+` FROM ledger_budgets WHERE account_id=$1 AND period_id=$2`, accountID, periodID))
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetBudgetForUpdate(ctx context.Context, accountID, periodID int64) (Budget, error) {
	return scanBudget(r.tx.QueryRow(ctx, `SELECT `+budgetColumns+` FROM ledger_budgets WHERE account_id=$1 AND period_id=$2 FOR UPDATE`, accountID, periodID))
}

func (r *txRepository) UpsertBudget(ctx context.Context, b Budget) (Budget, error) {
	return scanBudget(r.tx.QueryRow(ctx, `INSERT INTO ledger_budgets (account_id, period_id, amount, threshold, exceeded, created_by)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (account_id, period_id) DO UPDATE SET amount=EXCLUDED.amount, threshold=EXCLUDED.threshold, exceeded=EXCLUDED.exceeded, updated_at=NOW()
RETURNING `+budgetColumns, b.AccountID, b.PeriodID, b.Amount.String(), b.Threshold.String(), b.Exceeded, b.CreatedBy))
}

func (r *txRepository) SetExceeded(ctx context.Context, id int64, exceeded bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_budgets SET exceeded=$2, updated_at=NOW() WHERE id=$1`, id, exceeded)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", shared.ErrBudgetNotFound, id)
	}
	return nil
}
