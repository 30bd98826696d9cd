package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Journals returns the journal entry repository.
func (l *Ledger) Journals() journals.Repository {
	return journalRepo{l: l}
}

type journalRepo struct {
	l *Ledger
}

func (r journalRepo) Get(ctx context.Context, id int64) (journals.JournalEntry, error) {
	snap := r.l.read()
	e, ok := snap.entries.get(id)
	if !ok {
		return journals.JournalEntry{}, shared.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (r journalRepo) List(ctx context.Context, filter journals.ListFilter) ([]journals.JournalEntry, error) {
	var wanted map[int64]bool
	if len(filter.PeriodIDs) > 0 {
		wanted = make(map[int64]bool, len(filter.PeriodIDs))
		for _, id := range filter.PeriodIDs {
			wanted[id] = true
		}
	}
	var out []journals.JournalEntry
	snap := r.l.read()
	for _, e := range snap.entries.all() {
		if wanted != nil && !wanted[e.PeriodID] {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.AfterSequence > 0 && e.Sequence <= filter.AfterSequence {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Sequence == 0) != (b.Sequence == 0) {
			return a.Sequence != 0
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r journalRepo) WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error {
	return r.l.update(ctx, func(s *snapshot) error {
		return fn(ctx, journalTx{snap: s, l: r.l})
	})
}

type journalTx struct {
	snap *snapshot
	l    *Ledger
}

func (t journalTx) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	return accountTx{snap: t.snap, l: t.l}.GetAccount(ctx, id)
}

func (t journalTx) GetPeriodForUpdate(ctx context.Context, id int64) (periods.Period, error) {
	return lookupPeriod(t.snap, id)
}

func (t journalTx) GetEntryForUpdate(ctx context.Context, id int64) (journals.JournalEntry, error) {
	e, ok := t.snap.entries.get(id)
	if !ok {
		return journals.JournalEntry{}, shared.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (t journalTx) FindReversal(ctx context.Context, originalID int64) (journals.JournalEntry, error) {
	id, ok := t.snap.reversedBy.get(originalID)
	if !ok {
		return journals.JournalEntry{}, shared.ErrEntryNotFound
	}
	return t.GetEntryForUpdate(ctx, id)
}

func (t journalTx) InsertEntry(ctx context.Context, e journals.JournalEntry) (journals.JournalEntry, error) {
	if e.ReversalOf != nil {
		if _, err := t.FindReversal(ctx, *e.ReversalOf); err == nil {
			return journals.JournalEntry{}, fmt.Errorf("%w: entry %d", shared.ErrAlreadyReversed, *e.ReversalOf)
		}
	}
	e.ID = t.snap.id()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.l.now().UTC()
	}
	lines := make([]journals.JournalLine, len(e.Lines))
	for i, line := range e.Lines {
		line.ID = t.snap.id()
		line.EntryID = e.ID
		lines[i] = line
		t.snap.lineEntry.put(line.ID, e.ID)
	}
	e.Lines = lines
	t.snap.entries.put(e.ID, e)
	if e.ReversalOf != nil {
		t.snap.reversedBy.put(*e.ReversalOf, e.ID)
	}
	t.snap.notePosted(e)
	return cloneEntry(e), nil
}

func (t journalTx) MarkPosted(ctx context.Context, e journals.JournalEntry) error {
	current, ok := t.snap.entries.get(e.ID)
	if !ok {
		return shared.ErrEntryNotFound
	}
	if current.Status != journals.JournalStatusDraft {
		return fmt.Errorf("%w: entry %d", shared.ErrInvalidStatus, e.ID)
	}
	current.Status = journals.JournalStatusPosted
	current.Sequence = e.Sequence
	current.PostedBy = e.PostedBy
	current.PostedAt = e.PostedAt
	current.Digest = e.Digest
	t.snap.entries.put(e.ID, current)
	t.snap.notePosted(current)
	return nil
}

func (t journalTx) DeleteDraft(ctx context.Context, id int64) error {
	e, ok := t.snap.entries.get(id)
	if !ok {
		return shared.ErrEntryNotFound
	}
	if e.Status != journals.JournalStatusDraft {
		return fmt.Errorf("%w: entry %d", shared.ErrInvalidStatus, id)
	}
	for _, line := range e.Lines {
		t.snap.lineEntry.del(line.ID)
	}
	t.snap.entries.del(id)
	return nil
}

func (t journalTx) NextSequence(ctx context.Context) (int64, error) {
	t.snap.sequence++
	return t.snap.sequence, nil
}

func (t journalTx) LastDigest(ctx context.Context) (string, error) {
	return t.snap.lastDigest, nil
}
