package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Periods returns the fiscal period repository.
func (l *Ledger) Periods() periods.Repository {
	return periodRepo{l: l}
}

type periodRepo struct {
	l *Ledger
}

func sortedPeriods(s *snapshot) []periods.Period {
	out := make([]periods.Period, 0, s.periods.len())
	for _, p := range s.periods.all() {
		out = append(out, clonePeriod(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

func (r periodRepo) List(ctx context.Context) ([]periods.Period, error) {
	return sortedPeriods(r.l.read()), nil
}

func (r periodRepo) Get(ctx context.Context, id int64) (periods.Period, error) {
	return lookupPeriod(r.l.read(), id)
}

func (r periodRepo) FindByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range sortedPeriods(r.l.read()) {
		if p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, fmt.Errorf("%w: no period covers %s", shared.ErrPeriodNotFound, date.Format(time.DateOnly))
}

func (r periodRepo) WithTx(ctx context.Context, fn func(context.Context, periods.TxRepository) error) error {
	return r.l.update(ctx, func(s *snapshot) error {
		return fn(ctx, periodTx{snap: s, l: r.l})
	})
}

func lookupPeriod(s *snapshot, id int64) (periods.Period, error) {
	p, ok := s.periods.get(id)
	if !ok {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	return clonePeriod(p), nil
}

type periodTx struct {
	snap *snapshot
	l    *Ledger
}

func (t periodTx) GetPeriodForUpdate(ctx context.Context, id int64) (periods.Period, error) {
	return lookupPeriod(t.snap, id)
}

func (t periodTx) ListPeriods(ctx context.Context) ([]periods.Period, error) {
	return sortedPeriods(t.snap), nil
}

func (t periodTx) InsertPeriod(ctx context.Context, p periods.Period) (periods.Period, error) {
	now := t.l.now().UTC()
	p.ID = t.snap.id()
	p.CreatedAt, p.UpdatedAt = now, now
	t.snap.periods.put(p.ID, clonePeriod(p))
	return p, nil
}

func (t periodTx) UpdatePeriod(ctx context.Context, p periods.Period) error {
	if _, ok := t.snap.periods.get(p.ID); !ok {
		return shared.ErrPeriodNotFound
	}
	p.UpdatedAt = t.l.now().UTC()
	t.snap.periods.put(p.ID, clonePeriod(p))
	return nil
}

func (t periodTx) CountDrafts(ctx context.Context, periodID int64) (int, error) {
	n := 0
	for _, e := range t.snap.entries.all() {
		if e.PeriodID == periodID && e.Status == journals.JournalStatusDraft {
			n++
		}
	}
	return n, nil
}
