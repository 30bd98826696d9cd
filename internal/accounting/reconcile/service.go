package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Service runs bank reconciliation against posted ledger lines.
type Service struct {
	repo      Repository
	cur       shared.Currency
	events    shared.Emitter
	tolerance int
	group     singleflight.Group
	now       func() time.Time
}

// NewService constructs the matcher. tolerance is the date window in days.
func NewService(repo Repository, cur shared.Currency, tolerance int, events shared.Emitter) *Service {
	if cur.Code == "" {
		cur = shared.MustCurrency(shared.DefaultCurrency)
	}
	return &Service{repo: repo, cur: cur, tolerance: tolerance, events: events, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Ingest stores bank-feed rows as UNMATCHED. The batch is all or nothing.
func (s *Service) Ingest(ctx context.Context, txns []ExternalTransaction) ([]ExternalTransaction, error) {
	seen := make(map[string]bool, len(txns))
	for i := range txns {
		txns[i].ID = strings.TrimSpace(txns[i].ID)
		if err := txns[i].Validate(s.cur); err != nil {
			return nil, err
		}
		if seen[txns[i].ID] {
			return nil, fmt.Errorf("%w: %s", shared.ErrDuplicateTransaction, txns[i].ID)
		}
		seen[txns[i].ID] = true
	}
	out := make([]ExternalTransaction, 0, len(txns))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out = out[:0]
		for _, t := range txns {
			t.State = TxnUnmatched
			t.ValueDate = periods.Day(t.ValueDate)
			stored, err := tx.InsertTransaction(ctx, t)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range out {
		s.emit(shared.NewEvent(shared.EventBankTransactionIngested, t.ID, s.now()).With("amount", t.Amount.String()))
	}
	return out, nil
}

// RunMatching proposes matches for UNMATCHED transactions against
// UNRECONCILED posted lines. accountID zero matches across all accounts.
func (s *Service) RunMatching(ctx context.Context, accountID int64) ([]Result, error) {
	var results []Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		txns, err := tx.LockTransactions(ctx, TxnUnmatched, accountID)
		if err != nil {
			return err
		}
		lines, err := tx.UnreconciledLines(ctx, accountID)
		if err != nil {
			return err
		}
		results = Propose(txns, lines, Options{DateTolerance: s.tolerance, AccountID: accountID})
		now := s.now().UTC()
		for i := range results {
			res := &results[i]
			if res.Status != ResultProposed {
				continue
			}
			p := MatchProposal{
				ID:            uuid.New(),
				ExternalTxnID: res.TxnID,
				LineID:        res.Candidate.LineID,
				EntryID:       res.Candidate.EntryID,
				AccountID:     res.Candidate.AccountID,
				Sequence:      res.Candidate.Sequence,
				DayDistance:   res.DayDistance,
				State:         ProposalProposed,
				CreatedAt:     now,
			}
			if err := tx.InsertProposal(ctx, p); err != nil {
				return err
			}
			if err := tx.SetTransactionState(ctx, p.ExternalTxnID, TxnProposed); err != nil {
				return err
			}
			if err := tx.SetLineState(ctx, p.LineID, journals.ReconMatched, ""); err != nil {
				return err
			}
			res.ProposalID = p.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.Status == ResultProposed {
			s.emit(shared.NewEvent(shared.EventReconciliationProposed, res.ProposalID.String(), s.now()).
				With("txn_id", res.TxnID).
				With("line_id", strconv.FormatInt(res.Candidate.LineID, 10)))
		}
	}
	return results, nil
}

// Confirm reconciles the pair named by a proposal. Confirming an already
// confirmed proposal returns it unchanged. Concurrent confirms of the same
// id share one execution.
func (s *Service) Confirm(ctx context.Context, proposalID uuid.UUID) (MatchProposal, error) {
	type outcome struct {
		proposal MatchProposal
		changed  bool
	}
	v, err, _ := s.group.Do(proposalID.String(), func() (any, error) {
		var out outcome
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetProposalForUpdate(ctx, proposalID)
			if err != nil {
				return err
			}
			if p.State == ProposalConfirmed {
				out = outcome{proposal: p}
				return nil
			}
			txn, err := tx.GetTransactionForUpdate(ctx, p.ExternalTxnID)
			if err != nil {
				return err
			}
			line, err := tx.GetLineForUpdate(ctx, p.LineID)
			if err != nil {
				return err
			}
			if txn.State != TxnProposed || line.ReconState != journals.ReconMatched {
				return fmt.Errorf("%w: txn %s is %s, line %d is %s", shared.ErrStaleProposal, txn.ID, txn.State, line.LineID, line.ReconState)
			}
			if line.Voided {
				return fmt.Errorf("%w: entry %d was reversed after matching", shared.ErrStaleProposal, line.EntryID)
			}
			if err := tx.SetLineState(ctx, line.LineID, journals.ReconReconciled, txn.ID); err != nil {
				return err
			}
			if err := tx.SetTransactionState(ctx, txn.ID, TxnConfirmed); err != nil {
				return err
			}
			now := s.now().UTC()
			p.State = ProposalConfirmed
			p.ConfirmedAt = &now
			if err := tx.UpdateProposal(ctx, p); err != nil {
				return err
			}
			out = outcome{proposal: p, changed: true}
			return nil
		})
		if err == nil && out.changed {
			s.emit(shared.NewEvent(shared.EventReconciliationConfirmed, out.proposal.ID.String(), s.now()).
				With("txn_id", out.proposal.ExternalTxnID).
				With("line_id", strconv.FormatInt(out.proposal.LineID, 10)))
		}
		return out, err
	})
	if err != nil {
		return MatchProposal{}, err
	}
	return v.(outcome).proposal, nil
}

// Proposal returns one proposal.
func (s *Service) Proposal(ctx context.Context, id uuid.UUID) (MatchProposal, error) {
	return s.repo.GetProposal(ctx, id)
}

// Proposals lists proposals, optionally by state.
func (s *Service) Proposals(ctx context.Context, state ProposalState) ([]MatchProposal, error) {
	return s.repo.ListProposals(ctx, state)
}

// Transactions lists bank-feed rows, optionally by state and account.
func (s *Service) Transactions(ctx context.Context, state TxnState, accountID int64) ([]ExternalTransaction, error) {
	return s.repo.ListTransactions(ctx, state, accountID)
}

func (s *Service) emit(evt shared.Event) {
	if s.events != nil {
		s.events.Emit(evt)
	}
}
