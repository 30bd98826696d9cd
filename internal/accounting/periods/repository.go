package periods

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists fiscal periods.
type Repository interface {
	List(ctx context.Context) ([]Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	FindByDate(ctx context.Context, date time.Time) (Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes period writes inside a transaction.
type TxRepository interface {
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	UpdatePeriod(ctx context.Context, p Period) error
	CountDrafts(ctx context.Context, periodID int64) (int, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, code, start_date, end_date, status, holds, soft_closed_at, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var holds []byte
	err := row.Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &holds, &p.SoftClosedAt, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	if len(holds) > 0 {
		if err := json.Unmarshal(holds, &p.Holds); err != nil {
			return Period{}, err
		}
	}
	p.StartDate = Day(p.StartDate)
	p.EndDate = Day(p.EndDate)
	return p, nil
}

func collectPeriods(rows pgx.Rows) ([]Period, error) {
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) List(ctx context.Context) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM ledger_periods ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	return collectPeriods(rows)
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM ledger_periods WHERE id=$1`, id))
}

// FindByDate returns the period covering the supplied date.
func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM ledger_periods WHERE $1 BETWEEN start_date AND end_date LIMIT 1`, Day(date)))
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return LockForUpdate(ctx, r.tx, id)
}

func (r *txRepository) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM ledger_periods ORDER BY start_date FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	return collectPeriods(rows)
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_periods (code, start_date, end_date, status, holds)
VALUES ($1,$2,$3,$4,'[]'::jsonb) RETURNING id, created_at, updated_at`, p.Code, p.StartDate, p.EndDate, p.Status).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	holds, err := json.Marshal(p.Holds)
	if err != nil {
		return err
	}
	if p.Holds == nil {
		holds = []byte("[]")
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_periods SET status=$2, holds=$3, soft_closed_at=$4, closed_at=$5, updated_at=NOW() WHERE id=$1`,
		p.ID, p.Status, holds, p.SoftClosedAt, p.ClosedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) CountDrafts(ctx context.Context, periodID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE period_id=$1 AND status='DRAFT'`, periodID).Scan(&n)
	return n, err
}

// LockForUpdate reads a period row with FOR UPDATE inside a caller's
// transaction. Other ledger repositories use it to gate their writes.
func LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Period, error) {
	return scanPeriod(tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM ledger_periods WHERE id=$1 FOR UPDATE`, id))
}
