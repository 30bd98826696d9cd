package journals

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository encapsulates ledger store operations for journal entries.
type Repository interface {
	Get(ctx context.Context, id int64) (JournalEntry, error)
	// List returns entries with their lines ordered by sequence, drafts last.
	List(ctx context.Context, filter ListFilter) ([]JournalEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a posting transaction.
type TxRepository interface {
	GetAccount(ctx context.Context, id int64) (accounts.Account, error)
	GetPeriodForUpdate(ctx context.Context, id int64) (periods.Period, error)
	GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	// FindReversal returns the entry reversing originalID or ErrEntryNotFound.
	FindReversal(ctx context.Context, originalID int64) (JournalEntry, error)
	// InsertEntry stores the entry with its lines and assigns their ids.
	InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error)
	// MarkPosted persists the posting fields of a former draft.
	MarkPosted(ctx context.Context, e JournalEntry) error
	DeleteDraft(ctx context.Context, id int64) error
	NextSequence(ctx context.Context) (int64, error)
	// LastDigest returns the digest of the highest posted sequence, empty when none.
	LastDigest(ctx context.Context) (string, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, COALESCE(sequence,0), period_id, entry_date, currency, memo, status, reversal_of, created_by, COALESCE(posted_by,0), created_at, posted_at, COALESCE(digest,'')`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Sequence, &e.PeriodID, &e.Date, &e.Currency, &e.Memo, &e.Status, &e.ReversalOf,
		&e.CreatedBy, &e.PostedBy, &e.CreatedAt, &e.PostedAt, &e.Digest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	e.Date = periods.Day(e.Date)
	return e, nil
}

func loadEntry(ctx context.Context, q querier, where string, args ...any) (JournalEntry, error) {
	e, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE `+where, args...))
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := loadLines(ctx, q, []int64{e.ID})
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines[e.ID]
	return e, nil
}

func loadLines(ctx context.Context, q querier, entryIDs []int64) (map[int64][]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_no, account_id, side, amount, memo, recon_state, COALESCE(external_txn_id,'')
FROM ledger_lines WHERE entry_id = ANY($1) ORDER BY entry_id, line_no`, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]JournalLine, len(entryIDs))
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.LineNo, &l.AccountID, &l.Side, &l.Amount, &l.Memo, &l.ReconState, &l.ExternalTxnID); err != nil {
			return nil, err
		}
		out[l.EntryID] = append(out[l.EntryID], l)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return loadEntry(ctx, r.db, `id=$1`, id)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	sql := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ($1::bigint[] IS NULL OR period_id = ANY($1)) AND ($2::text = '' OR status = $2::text)
AND ($3::bigint = 0 OR sequence > $3)
ORDER BY sequence ASC NULLS LAST, id ASC`
	var periodIDs []int64
	if len(filter.PeriodIDs) > 0 {
		periodIDs = filter.PeriodIDs
	}
	rows, err := r.db.Query(ctx, sql, periodIDs, string(filter.Status), filter.AfterSequence)
	if err != nil {
		return nil, err
	}
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	lines, err := loadLines(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	return accounts.LookupInTx(ctx, r.tx, id)
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (periods.Period, error) {
	return periods.LockForUpdate(ctx, r.tx, id)
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return loadEntry(ctx, r.tx, `id=$1 FOR UPDATE`, id)
}

func (r *txRepository) FindReversal(ctx context.Context, originalID int64) (JournalEntry, error) {
	return loadEntry(ctx, r.tx, `reversal_of=$1`, originalID)
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (sequence, period_id, entry_date, currency, memo, status, reversal_of, created_by, posted_by, posted_at, digest)
VALUES (NULLIF($1,0),$2,$3,$4,$5,$6,$7,$8,NULLIF($9,0),$10,NULLIF($11,'')) RETURNING id, created_at`,
		e.Sequence, e.PeriodID, e.Date, e.Currency, e.Memo, e.Status, e.ReversalOf, e.CreatedBy, e.PostedBy, e.PostedAt, e.Digest).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && e.ReversalOf != nil {
			return JournalEntry{}, fmt.Errorf("%w: entry %d", shared.ErrAlreadyReversed, *e.ReversalOf)
		}
		return JournalEntry{}, err
	}
	for i := range e.Lines {
		line := &e.Lines[i]
		line.EntryID = e.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO ledger_lines (entry_id, line_no, account_id, side, amount, memo, recon_state)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, e.ID, line.LineNo, line.AccountID, line.Side, line.Amount.String(), line.Memo, line.ReconState).
			Scan(&line.ID); err != nil {
			return JournalEntry{}, err
		}
	}
	return e, nil
}

func (r *txRepository) MarkPosted(ctx context.Context, e JournalEntry) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_entries SET status=$2, sequence=$3, posted_by=NULLIF($4,0), posted_at=$5, digest=$6
WHERE id=$1 AND status='DRAFT'`, e.ID, JournalStatusPosted, e.Sequence, e.PostedBy, e.PostedAt, e.Digest)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %d", shared.ErrInvalidStatus, e.ID)
	}
	return nil
}

func (r *txRepository) DeleteDraft(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM ledger_lines WHERE entry_id=$1`, id); err != nil {
		return err
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM ledger_entries WHERE id=$1 AND status='DRAFT'`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %d", shared.ErrInvalidStatus, id)
	}
	return nil
}

// NextSequence increments the single ledger counter row. The row lock
// serialises concurrent posters until commit, so sequences are gap free.
func (r *txRepository) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_counters (name, value) VALUES ('entry_sequence', 1)
ON CONFLICT (name) DO UPDATE SET value = ledger_counters.value + 1 RETURNING value`).Scan(&seq)
	return seq, err
}

func (r *txRepository) LastDigest(ctx context.Context) (string, error) {
	var digest string
	err := r.tx.QueryRow(ctx, `SELECT digest FROM ledger_entries WHERE status='POSTED' ORDER BY sequence DESC LIMIT 1`).Scan(&digest)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return digest, err
}
