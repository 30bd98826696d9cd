package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists bank-feed rows and match proposals.
type Repository interface {
	GetProposal(ctx context.Context, id uuid.UUID) (MatchProposal, error)
	ListProposals(ctx context.Context, state ProposalState) ([]MatchProposal, error)
	ListTransactions(ctx context.Context, state TxnState, accountID int64) ([]ExternalTransaction, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes reconciliation writes inside a transaction.
type TxRepository interface {
	InsertTransaction(ctx context.Context, t ExternalTransaction) (ExternalTransaction, error)
	// LockTransactions returns transactions in state, optionally for one account, locked.
	LockTransactions(ctx context.Context, state TxnState, accountID int64) ([]ExternalTransaction, error)
	GetTransactionForUpdate(ctx context.Context, id string) (ExternalTransaction, error)
	SetTransactionState(ctx context.Context, id string, state TxnState) error
	// UnreconciledLines returns POSTED lines still UNRECONCILED, optionally for one account.
	UnreconciledLines(ctx context.Context, accountID int64) ([]Candidate, error)
	GetLineForUpdate(ctx context.Context, lineID int64) (Candidate, error)
	SetLineState(ctx context.Context, lineID int64, state journals.ReconState, externalTxnID string) error
	InsertProposal(ctx context.Context, p MatchProposal) error
	GetProposalForUpdate(ctx context.Context, id uuid.UUID) (MatchProposal, error)
	UpdateProposal(ctx context.Context, p MatchProposal) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const (
	txnColumns      = `id, account_id, amount, value_date, description, state, created_at`
	proposalColumns = `id, external_txn_id, line_id, entry_id, account_id, sequence, day_distance, state, created_at, confirmed_at`
	candidateSelect = `SELECT l.id, l.entry_id, l.account_id, l.line_no, e.sequence, e.entry_date, l.side, l.amount, l.recon_state,
(e.reversal_of IS NOT NULL OR EXISTS (SELECT 1 FROM ledger_entries r WHERE r.reversal_of = e.id)) AS voided
FROM ledger_lines l JOIN ledger_entries e ON e.id = l.entry_id`
)

func scanTxn(row pgx.Row) (ExternalTransaction, error) {
	var t ExternalTransaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.ValueDate, &t.Description, &t.State, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExternalTransaction{}, shared.ErrTransactionNotFound
	}
	t.ValueDate = periods.Day(t.ValueDate)
	return t, err
}

func collectTxns(rows pgx.Rows, err error) ([]ExternalTransaction, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalTransaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanProposal(row pgx.Row) (MatchProposal, error) {
	var p MatchProposal
	err := row.Scan(&p.ID, &p.ExternalTxnID, &p.LineID, &p.EntryID, &p.AccountID, &p.Sequence, &p.DayDistance, &p.State, &p.CreatedAt, &p.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MatchProposal{}, shared.ErrProposalNotFound
	}
	return p, err
}

func scanCandidate(row pgx.Row) (Candidate, error) {
	var c Candidate
	err := row.Scan(&c.LineID, &c.EntryID, &c.AccountID, &c.LineNo, &c.Sequence, &c.Date, &c.Side, &c.Amount, &c.ReconState, &c.Voided)
	if errors.Is(err, pgx.ErrNoRows) {
		return Candidate{}, shared.ErrEntryNotFound
	}
	c.Date = periods.Day(c.Date)
	return c, err
}

func (r *repository) GetProposal(ctx context.Context, id uuid.UUID) (MatchProposal, error) {
	return scanProposal(r.db.QueryRow(ctx, `SELECT `+proposalColumns+` FROM ledger_match_proposals WHERE id=$1`, id))
}

func (r *repository) ListProposals(ctx context.Context, state ProposalState) ([]MatchProposal, error) {
	rows, err := r.db.Query(ctx, `SELECT `+proposalColumns+` FROM ledger_match_proposals
WHERE ($1::text = '' OR state = $1::text) ORDER BY created_at, external_txn_id`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MatchProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) ListTransactions(ctx context.Context, state TxnState, accountID int64) ([]ExternalTransaction, error) {
	return collectTxns(r.db.Query(ctx, `SELECT `+txnColumns+` FROM ledger_bank_transactions
WHERE ($1::text = '' OR state = $1::text) AND ($2::bigint = 0 OR account_id = $2 OR account_id = 0)
ORDER BY value_date, id`, string(state), accountID))
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertTransaction(ctx context.Context, t ExternalTransaction) (ExternalTransaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_bank_transactions (id, account_id, amount, value_date, description, state)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`, t.ID, t.AccountID, t.Amount.String(), t.ValueDate, t.Description, t.State).
		Scan(&t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ExternalTransaction{}, fmt.Errorf("%w: %s", shared.ErrDuplicateTransaction, t.ID)
		}
		return ExternalTransaction{}, err
	}
	return t, nil
}

func (r *txRepository) LockTransactions(ctx context.Context, state TxnState, accountID int64) ([]ExternalTransaction, error) {
	return collectTxns(r.tx.Query(ctx, `SELECT `+txnColumns+` FROM ledger_bank_transactions
WHERE state = $1 AND ($2::bigint = 0 OR account_id = $2 OR account_id = 0)
ORDER BY value_date, id FOR UPDATE`, state, accountID))
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id string) (ExternalTransaction, error) {
	return scanTxn(r.tx.QueryRow(ctx, `SELECT `+txnColumns+` FROM ledger_bank_transactions WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) SetTransactionState(ctx context.Context, id string, state TxnState) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_bank_transactions SET state=$2 WHERE id=$1`, id, state)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", shared.ErrTransactionNotFound, id)
	}
	return nil
}

func (r *txRepository) UnreconciledLines(ctx context.Context, accountID int64) ([]Candidate, error) {
	rows, err := r.tx.Query(ctx, candidateSelect+`
WHERE e.status='POSTED' AND l.recon_state='UNRECONCILED' AND ($1::bigint = 0 OR l.account_id = $1)
AND e.reversal_of IS NULL AND NOT EXISTS (SELECT 1 FROM ledger_entries r WHERE r.reversal_of = e.id)
ORDER BY e.sequence, l.line_no FOR UPDATE OF l`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepository) GetLineForUpdate(ctx context.Context, lineID int64) (Candidate, error) {
	return scanCandidate(r.tx.QueryRow(ctx, candidateSelect+` WHERE l.id=$1 FOR UPDATE OF l`, lineID))
}

func (r *txRepository) SetLineState(ctx context.Context, lineID int64, state journals.ReconState, externalTxnID string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_lines SET recon_state=$2, external_txn_id=NULLIF($3,'') WHERE id=$1`, lineID, state, externalTxnID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: line %d", shared.ErrEntryNotFound, lineID)
	}
	return nil
}

func (r *txRepository) InsertProposal(ctx context.Context, p MatchProposal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_match_proposals (`+proposalColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.ExternalTxnID, p.LineID, p.EntryID, p.AccountID, p.Sequence, p.DayDistance, p.State, p.CreatedAt, p.ConfirmedAt)
	return err
}

func (r *txRepository) GetProposalForUpdate(ctx context.Context, id uuid.UUID) (MatchProposal, error) {
	return scanProposal(r.tx.QueryRow(ctx, `SELECT `+proposalColumns+` FROM ledger_match_proposals WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateProposal(ctx context.Context, p MatchProposal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_match_proposals SET state=$2, confirmed_at=$3 WHERE id=$1`, p.ID, p.State, p.ConfirmedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrProposalNotFound
	}
	return nil
}
