package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Reconcile returns the bank reconciliation repository.
func (l *Ledger) Reconcile() reconcile.Repository {
	return reconcileRepo{l: l}
}

type reconcileRepo struct {
	l *Ledger
}

func (r reconcileRepo) GetProposal(ctx context.Context, id uuid.UUID) (reconcile.MatchProposal, error) {
	snap := r.l.read()
	p, ok := snap.proposals.get(id)
	if !ok {
		return reconcile.MatchProposal{}, shared.ErrProposalNotFound
	}
	return p, nil
}

func (r reconcileRepo) ListProposals(ctx context.Context, state reconcile.ProposalState) ([]reconcile.MatchProposal, error) {
	var out []reconcile.MatchProposal
	snap := r.l.read()
	for _, p := range snap.proposals.all() {
		if state == "" || p.State == state {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ExternalTxnID < out[j].ExternalTxnID
	})
	return out, nil
}

func (r reconcileRepo) ListTransactions(ctx context.Context, state reconcile.TxnState, accountID int64) ([]reconcile.ExternalTransaction, error) {
	return filterTxns(r.l.read(), state, accountID), nil
}

func filterTxns(s *snapshot, state reconcile.TxnState, accountID int64) []reconcile.ExternalTransaction {
	var out []reconcile.ExternalTransaction
	for _, t := range s.txns.all() {
		if state != "" && t.State != state {
			continue
		}
		if accountID != 0 && t.AccountID != 0 && t.AccountID != accountID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValueDate.Equal(out[j].ValueDate) {
			return out[i].ValueDate.Before(out[j].ValueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r reconcileRepo) WithTx(ctx context.Context, fn func(context.Context, reconcile.TxRepository) error) error {
	return r.l.update(ctx, func(s *snapshot) error {
		return fn(ctx, reconcileTx{snap: s, l: r.l})
	})
}

type reconcileTx struct {
	snap *snapshot
	l    *Ledger
}

func (t reconcileTx) InsertTransaction(ctx context.Context, txn reconcile.ExternalTransaction) (reconcile.ExternalTransaction, error) {
	if _, ok := t.snap.txns.get(txn.ID); ok {
		return reconcile.ExternalTransaction{}, fmt.Errorf("%w: %s", shared.ErrDuplicateTransaction, txn.ID)
	}
	txn.CreatedAt = t.l.now().UTC()
	t.snap.txns.put(txn.ID, txn)
	return txn, nil
}

func (t reconcileTx) LockTransactions(ctx context.Context, state reconcile.TxnState, accountID int64) ([]reconcile.ExternalTransaction, error) {
	return filterTxns(t.snap, state, accountID), nil
}

func (t reconcileTx) GetTransactionForUpdate(ctx context.Context, id string) (reconcile.ExternalTransaction, error) {
	txn, ok := t.snap.txns.get(id)
	if !ok {
		return reconcile.ExternalTransaction{}, shared.ErrTransactionNotFound
	}
	return txn, nil
}

func (t reconcileTx) SetTransactionState(ctx context.Context, id string, state reconcile.TxnState) error {
	txn, ok := t.snap.txns.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrTransactionNotFound, id)
	}
	txn.State = state
	t.snap.txns.put(id, txn)
	return nil
}

// voided reports whether e reverses another entry or has been reversed.
func (s *snapshot) voided(e journals.JournalEntry) bool {
	if e.ReversalOf != nil {
		return true
	}
	_, reversed := s.reversedBy.get(e.ID)
	return reversed
}

func (s *snapshot) candidate(e journals.JournalEntry, l journals.JournalLine) reconcile.Candidate {
	return reconcile.Candidate{
		LineID:     l.ID,
		EntryID:    e.ID,
		AccountID:  l.AccountID,
		LineNo:     l.LineNo,
		Sequence:   e.Sequence,
		Date:       e.Date,
		Side:       l.Side,
		Amount:     l.Amount,
		ReconState: l.ReconState,
		Voided:     s.voided(e),
	}
}

func (t reconcileTx) UnreconciledLines(ctx context.Context, accountID int64) ([]reconcile.Candidate, error) {
	var out []reconcile.Candidate
	for _, e := range t.snap.entries.all() {
		if e.Status != journals.JournalStatusPosted || t.snap.voided(e) {
			continue
		}
		for _, l := range e.Lines {
			if l.ReconState != journals.ReconUnreconciled {
				continue
			}
			if accountID != 0 && l.AccountID != accountID {
				continue
			}
			out = append(out, t.snap.candidate(e, l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].LineNo < out[j].LineNo
	})
	return out, nil
}

func (t reconcileTx) findLine(lineID int64) (journals.JournalEntry, int, error) {
	entryID, ok := t.snap.lineEntry.get(lineID)
	if !ok {
		return journals.JournalEntry{}, 0, fmt.Errorf("%w: line %d", shared.ErrEntryNotFound, lineID)
	}
	e, _ := t.snap.entries.get(entryID)
	for i, l := range e.Lines {
		if l.ID == lineID {
			return e, i, nil
		}
	}
	return journals.JournalEntry{}, 0, fmt.Errorf("%w: line %d", shared.ErrEntryNotFound, lineID)
}

func (t reconcileTx) GetLineForUpdate(ctx context.Context, lineID int64) (reconcile.Candidate, error) {
	e, idx, err := t.findLine(lineID)
	if err != nil {
		return reconcile.Candidate{}, err
	}
	return t.snap.candidate(e, e.Lines[idx]), nil
}

func (t reconcileTx) SetLineState(ctx context.Context, lineID int64, state journals.ReconState, externalTxnID string) error {
	e, idx, err := t.findLine(lineID)
	if err != nil {
		return err
	}
	e = cloneEntry(e)
	e.Lines[idx].ReconState = state
	e.Lines[idx].ExternalTxnID = externalTxnID
	t.snap.entries.put(e.ID, e)
	return nil
}

func (t reconcileTx) InsertProposal(ctx context.Context, p reconcile.MatchProposal) error {
	t.snap.proposals.put(p.ID, p)
	return nil
}

func (t reconcileTx) GetProposalForUpdate(ctx context.Context, id uuid.UUID) (reconcile.MatchProposal, error) {
	p, ok := t.snap.proposals.get(id)
	if !ok {
		return reconcile.MatchProposal{}, shared.ErrProposalNotFound
	}
	return p, nil
}

func (t reconcileTx) UpdateProposal(ctx context.Context, p reconcile.MatchProposal) error {
	if _, ok := t.snap.proposals.get(p.ID); !ok {
		return shared.ErrProposalNotFound
	}
	t.snap.proposals.put(p.ID, p)
	return nil
}
