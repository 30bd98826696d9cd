package journals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records journal actions.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// BalanceApplier receives each posted entry once it has committed.
type BalanceApplier interface {
	ApplyEntry(entry JournalEntry, sign int)
}

// Observer is notified after an entry change commits. action is one of
// draft, post, reverse or discard.
type Observer interface {
	EntryCommitted(ctx context.Context, action string, entry JournalEntry)
}

// Service is the posting engine.
type Service struct {
	repo      Repository
	lock      shared.Locker
	cur       shared.Currency
	balances  BalanceApplier
	audit     AuditPort
	events    shared.Emitter
	observers []Observer
	now       func() time.Time
}

// NewService constructs the posting engine for a single-currency ledger.
func NewService(repo Repository, lock shared.Locker, cur shared.Currency, audit AuditPort, events shared.Emitter) *Service {
	if lock == nil {
		lock = shared.NewLocalLocker()
	}
	if cur.Code == "" {
		cur = shared.MustCurrency(shared.DefaultCurrency)
	}
	return &Service{repo: repo, lock: lock, cur: cur, audit: audit, events: events, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithBalances wires the balance aggregator.
func (s *Service) WithBalances(b BalanceApplier) {
	s.balances = b
}

// WithObserver registers post-commit observers.
func (s *Service) WithObserver(obs ...Observer) {
	s.observers = append(s.observers, obs...)
}

// Currency returns the ledger currency.
func (s *Service) Currency() shared.Currency {
	return s.cur
}

// Get returns one entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.Get(ctx, id)
}

// List returns entries matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	return s.repo.List(ctx, filter)
}

// Validate runs every posting rule without changing state.
func (s *Service) Validate(ctx context.Context, in PostingInput) error {
	if err := in.Validate(s.cur); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		return checkAgainstLedger(ctx, tx, period, in)
	})
}

// SaveDraft stores a DRAFT entry. Drafts never affect balances.
func (s *Service) SaveDraft(ctx context.Context, in PostingInput) (JournalEntry, error) {
	if err := in.ValidateDraft(s.cur); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		if period.Status == periods.PeriodStatusClosed {
			return fmt.Errorf("%w: period %s", shared.ErrPeriodClosed, period.Code)
		}
		entry, err = tx.InsertEntry(ctx, s.newEntry(in, JournalStatusDraft))
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.committed(ctx, "draft", entry, in.ActorID, nil)
	return entry, nil
}

// PostJournal validates and posts a new entry in one transaction.
func (s *Service) PostJournal(ctx context.Context, in PostingInput) (JournalEntry, error) {
	if err := in.Validate(s.cur); err != nil {
		return JournalEntry{}, err
	}
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return JournalEntry{}, err
	}
	defer unlock()

	var entry JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		if err := checkAgainstLedger(ctx, tx, period, in); err != nil {
			return err
		}
		pending := s.newEntry(in, JournalStatusPosted)
		if err := s.seal(ctx, tx, &pending, in.ActorID); err != nil {
			return err
		}
		entry, err = tx.InsertEntry(ctx, pending)
		if err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.committed(ctx, "post", entry, in.ActorID, nil)
	return entry, nil
}

// Post posts a previously saved draft.
func (s *Service) Post(ctx context.Context, in PostInput) (JournalEntry, error) {
	if in.EntryID == 0 {
		return JournalEntry{}, shared.NewValidationError(-1, shared.ErrValidation, "entry id required")
	}
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return JournalEntry{}, err
	}
	defer unlock()

	var entry JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, in.EntryID)
		if err != nil {
			return err
		}
		switch current.Status {
		case JournalStatusDraft:
		case JournalStatusPosted:
			return fmt.Errorf("%w: entry %d", shared.ErrAlreadyPosted, current.ID)
		default:
			return fmt.Errorf("%w: entry %d is %s", shared.ErrInvalidStatus, current.ID, current.Status)
		}
		posting := toInput(current, in.Elevated)
		if err := posting.Validate(s.cur); err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if err := checkAgainstLedger(ctx, tx, period, posting); err != nil {
			return err
		}
		if err := s.seal(ctx, tx, &current, in.ActorID); err != nil {
			return err
		}
		if err := tx.MarkPosted(ctx, current); err != nil {
			return err
		}
		entry = current
		return ctx.Err()
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.committed(ctx, "post", entry, in.ActorID, nil)
	return entry, nil
}

// Cancel discards a draft or reverses a posted entry. The original posted
// entry is never modified; a POSTED reversing entry offsets it.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (CancelResult, error) {
	if in.EntryID == 0 {
		return CancelResult{}, shared.NewValidationError(-1, shared.ErrValidation, "entry id required")
	}
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return CancelResult{}, err
	}
	defer unlock()

	var result CancelResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, in.EntryID)
		if err != nil {
			return err
		}
		switch current.Status {
		case JournalStatusDraft:
			if err := tx.DeleteDraft(ctx, current.ID); err != nil {
				return err
			}
			current.Status = JournalStatusCancelled
			result = CancelResult{Original: current, Discarded: true}
			return ctx.Err()
		case JournalStatusPosted:
		default:
			return fmt.Errorf("%w: entry %d is %s", shared.ErrInvalidStatus, current.ID, current.Status)
		}
		if current.IsReversal() {
			return fmt.Errorf("%w: entry %d is itself a reversal", shared.ErrInvalidStatus, current.ID)
		}
		period, err := tx.GetPeriodForUpdate(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if err := periods.CheckCancellable(period); err != nil {
			return err
		}
		if existing, err := tx.FindReversal(ctx, current.ID); err == nil {
			return fmt.Errorf("%w: entry %d reversed by %d", shared.ErrAlreadyReversed, current.ID, existing.ID)
		} else if !errors.Is(err, shared.ErrEntryNotFound) {
			return err
		}
		reversal := s.reversalOf(current, in)
		if err := s.seal(ctx, tx, &reversal, in.ActorID); err != nil {
			return err
		}
		reversal, err = tx.InsertEntry(ctx, reversal)
		if err != nil {
			return err
		}
		result = CancelResult{Original: current, Reversal: &reversal}
		return ctx.Err()
	})
	if err != nil {
		return CancelResult{}, err
	}
	if result.Discarded {
		s.committed(ctx, "discard", result.Original, in.ActorID, nil)
		return result, nil
	}
	s.committed(ctx, "reverse", *result.Reversal, in.ActorID, map[string]any{"reversal_of": result.Original.ID})
	return result, nil
}

// VerifyChain recomputes the audit digest chain across every posted entry.
func (s *Service) VerifyChain(ctx context.Context) error {
	entries, err := s.repo.List(ctx, ListFilter{Status: JournalStatusPosted})
	if err != nil {
		return err
	}
	prev := ""
	var lastSeq int64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Sequence <= lastSeq {
			return &shared.IntegrityFault{PeriodID: e.PeriodID, Reason: fmt.Sprintf("sequence %d out of order after %d", e.Sequence, lastSeq)}
		}
		want, err := chainDigest(prev, e, s.cur.Scale)
		if err != nil {
			return err
		}
		if want != e.Digest {
			return &shared.IntegrityFault{PeriodID: e.PeriodID, Reason: fmt.Sprintf("digest mismatch at sequence %d", e.Sequence)}
		}
		prev, lastSeq = e.Digest, e.Sequence
	}
	return nil
}

func (s *Service) newEntry(in PostingInput, status JournalStatus) JournalEntry {
	entry := JournalEntry{
		PeriodID:  in.PeriodID,
		Date:      periods.Day(in.Date),
		Currency:  s.cur.Code,
		Memo:      strings.TrimSpace(in.Memo),
		Status:    status,
		CreatedBy: in.ActorID,
		CreatedAt: s.now().UTC(),
		Lines:     make([]JournalLine, 0, len(in.Lines)),
	}
	for idx, l := range in.Lines {
		entry.Lines = append(entry.Lines, JournalLine{
			LineNo:     idx + 1,
			AccountID:  l.AccountID,
			Side:       l.Side,
			Amount:     l.Amount,
			Memo:       l.Memo,
			ReconState: ReconUnreconciled,
		})
	}
	return entry
}

func (s *Service) reversalOf(original JournalEntry, in CancelInput) JournalEntry {
	memo := strings.TrimSpace(in.Memo)
	if memo == "" {
		memo = fmt.Sprintf("Reversal of entry %d (seq %d)", original.ID, original.Sequence)
	}
	id := original.ID
	rev := JournalEntry{
		PeriodID:   original.PeriodID,
		Date:       original.Date,
		Currency:   original.Currency,
		Memo:       memo,
		Status:     JournalStatusPosted,
		ReversalOf: &id,
		CreatedBy:  in.ActorID,
		CreatedAt:  s.now().UTC(),
		Lines:      make([]JournalLine, 0, len(original.Lines)),
	}
	for _, l := range original.Lines {
		rev.Lines = append(rev.Lines, JournalLine{
			LineNo:     l.LineNo,
			AccountID:  l.AccountID,
			Side:       l.Side.Opposite(),
			Amount:     l.Amount,
			Memo:       l.Memo,
			ReconState: ReconUnreconciled,
		})
	}
	return rev
}

// seal assigns the ledger sequence, posting time and audit digest.
func (s *Service) seal(ctx context.Context, tx TxRepository, e *JournalEntry, actorID int64) error {
	seq, err := tx.NextSequence(ctx)
	if err != nil {
		return err
	}
	prev, err := tx.LastDigest(ctx)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	e.Status = JournalStatusPosted
	e.Sequence = seq
	e.PostedAt = &now
	e.PostedBy = actorID
	e.Digest, err = chainDigest(prev, *e, s.cur.Scale)
	return err
}

func (s *Service) committed(ctx context.Context, action string, entry JournalEntry, actorID int64, meta map[string]any) {
	if entry.Status == JournalStatusPosted && s.balances != nil {
		s.balances.ApplyEntry(entry, 1)
	}
	id := strconv.FormatInt(entry.ID, 10)
	if s.events != nil {
		switch action {
		case "post":
			s.events.Emit(shared.NewEvent(shared.EventEntryPosted, id, s.now()).
				With("sequence", strconv.FormatInt(entry.Sequence, 10)).
				With("period_id", strconv.FormatInt(entry.PeriodID, 10)))
		case "reverse":
			s.events.Emit(shared.NewEvent(shared.EventEntryCancelled, strconv.FormatInt(*entry.ReversalOf, 10), s.now()).
				With("reversal_id", id).
				With("sequence", strconv.FormatInt(entry.Sequence, 10)))
		case "discard":
			s.events.Emit(shared.NewEvent(shared.EventDraftDiscarded, id, s.now()))
		}
	}
	if s.audit != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["period_id"] = entry.PeriodID
		if entry.Sequence > 0 {
			meta["sequence"] = entry.Sequence
		}
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			ActorID:  actorID,
			Action:   "journal." + action,
			Entity:   "ledger_entry",
			EntityID: id,
			Meta:     meta,
			At:       s.now(),
		})
	}
	for _, obs := range s.observers {
		obs.EntryCommitted(ctx, action, entry)
	}
}
