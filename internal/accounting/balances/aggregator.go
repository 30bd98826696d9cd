package balances

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Source reads the ledger store for replays and reference data.
type Source interface {
	Accounts(ctx context.Context) ([]accounts.Account, error)
	// Periods returns periods ordered by start date.
	Periods(ctx context.Context) ([]periods.Period, error)
	// PostedEntries returns POSTED entries of the given periods ordered by sequence.
	PostedEntries(ctx context.Context, periodIDs []int64) ([]journals.JournalEntry, error)
	// PostedSince returns POSTED entries with a sequence above after, ordered by sequence.
	PostedSince(ctx context.Context, after int64) ([]journals.JournalEntry, error)
}

// FaultRecorder places integrity holds. The period manager implements it.
type FaultRecorder interface {
	FlagIntegrityFault(ctx context.Context, fault *shared.IntegrityFault) error
}

type cellKey struct {
	period  int64
	account int64
}

type totals struct {
	debit  decimal.Decimal
	credit decimal.Decimal
}

func (t totals) add(side shared.Side, amount decimal.Decimal) totals {
	if side == shared.SideDebit {
		t.debit = t.debit.Add(amount)
	} else {
		t.credit = t.credit.Add(amount)
	}
	return t
}

// cell holds one account's movement within one period, plus per-day totals
// for point-in-time queries.
type cell struct {
	totals
	days map[time.Time]totals
}

func newCell() *cell {
	return &cell{totals: totals{debit: decimal.Zero, credit: decimal.Zero}, days: map[time.Time]totals{}}
}

func (c *cell) apply(inc Increment, amount decimal.Decimal) {
	c.totals = c.totals.add(inc.Side, amount)
	day := periods.Day(inc.Date)
	t, ok := c.days[day]
	if !ok {
		t = totals{debit: decimal.Zero, credit: decimal.Zero}
	}
	c.days[day] = t.add(inc.Side, amount)
}

// Aggregator maintains per account, per period balances incrementally and
// answers point-in-time, rollup and trial balance queries. The cache is
// derived state: Rebuild reproduces it from the store.
//
// Several processes may post into one store. The cache records the highest
// sequence it has applied and pulls later entries from the store before every
// read, so entries committed elsewhere are never missed.
type Aggregator struct {
	src      Source
	lock     shared.Locker
	recorder FaultRecorder

	mu      sync.RWMutex
	applied int64
	cells   map[cellKey]*cell
	periods []periods.Period
	order   map[int64]int
	chart   *accounts.Chart
}

// NewAggregator constructs an empty aggregator. lock must be the ledger writer
// lock so rebuilds never interleave with postings.
func NewAggregator(src Source, lock shared.Locker, recorder FaultRecorder) *Aggregator {
	if lock == nil {
		lock = shared.NewLocalLocker()
	}
	return &Aggregator{src: src, lock: lock, recorder: recorder, cells: map[cellKey]*cell{}, order: map[int64]int{}}
}

// SetFaultRecorder wires the period manager after construction.
func (a *Aggregator) SetFaultRecorder(r FaultRecorder) {
	a.mu.Lock()
	a.recorder = r
	a.mu.Unlock()
}

// ApplyIncrement adds (sign > 0) or removes (sign < 0) one line effect.
func (a *Aggregator) ApplyIncrement(inc Increment, sign int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyLocked(a.cells, inc, sign)
}

// ApplyEntry applies every line of a posted entry atomically with respect to
// readers. A sequenced entry is applied only when it directly follows the
// last applied sequence; anything else is left to the next catch-up.
func (a *Aggregator) ApplyEntry(entry journals.JournalEntry, sign int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry.Sequence == 0 || sign < 0 {
		for _, inc := range increments(entry) {
			a.applyLocked(a.cells, inc, sign)
		}
		return
	}
	a.advanceLocked(entry)
}

// Applied returns the highest entry sequence reflected in the cache.
func (a *Aggregator) Applied() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.applied
}

func (a *Aggregator) advanceLocked(entry journals.JournalEntry) bool {
	if entry.Sequence != a.applied+1 {
		return false
	}
	for _, inc := range increments(entry) {
		a.applyLocked(a.cells, inc, 1)
	}
	a.applied = entry.Sequence
	return true
}

// catchUp applies entries committed since the last applied sequence, which
// includes entries posted by other processes sharing the store.
func (a *Aggregator) catchUp(ctx context.Context) error {
	a.mu.RLock()
	after := a.applied
	a.mu.RUnlock()
	entries, err := a.src.PostedSince(ctx, after)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range entries {
		if e.Sequence <= a.applied {
			continue
		}
		if !a.advanceLocked(e) {
			break
		}
	}
	return nil
}

func (a *Aggregator) applyLocked(cells map[cellKey]*cell, inc Increment, sign int) {
	key := cellKey{period: inc.PeriodID, account: inc.AccountID}
	c, ok := cells[key]
	if !ok {
		c = newCell()
		cells[key] = c
	}
	amount := inc.Amount
	if sign < 0 {
		amount = amount.Neg()
	}
	c.apply(inc, amount)
}

func increments(entry journals.JournalEntry) []Increment {
	out := make([]Increment, 0, len(entry.Lines))
	for _, l := range entry.Lines {
		out = append(out, Increment{
			PeriodID:  entry.PeriodID,
			AccountID: l.AccountID,
			Date:      entry.Date,
			Side:      l.Side,
			Amount:    l.Amount,
		})
	}
	return out
}

// Load discards the cache and replays the whole store. Call once at startup.
func (a *Aggregator) Load(ctx context.Context) error {
	unlock, err := a.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	a.mu.Lock()
	a.cells, a.applied = map[cellKey]*cell{}, 0
	a.mu.Unlock()
	if err := a.catchUp(ctx); err != nil {
		return err
	}
	return a.refresh(ctx)
}

// Rebuild replays POSTED lines of the range in sequence order and replaces
// the cached cells for those periods.
func (a *Aggregator) Rebuild(ctx context.Context, r PeriodRange) error {
	unlock, err := a.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	ids, scratch, err := a.replay(ctx, r)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.replaceLocked(ids, scratch)
	a.mu.Unlock()
	return nil
}

// Verify replays the range into scratch state and compares it with the cache.
// Each differing cell is flagged as an integrity fault and the cache is then
// replaced by the replayed values.
func (a *Aggregator) Verify(ctx context.Context, r PeriodRange) ([]Mismatch, error) {
	unlock, err := a.lock.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ids, scratch, err := a.replay(ctx, r)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	mismatches := diff(ids, a.cells, scratch)
	a.replaceLocked(ids, scratch)
	recorder := a.recorder
	a.mu.Unlock()

	if recorder != nil {
		for _, m := range mismatches {
			fault := &shared.IntegrityFault{
				PeriodID:  m.PeriodID,
				AccountID: m.AccountID,
				Reason: fmt.Sprintf("cached %s/%s, replayed %s/%s",
					m.CachedDebit.String(), m.CachedCredit.String(), m.ReplayedDebit.String(), m.ReplayedCredit.String()),
			}
			if err := recorder.FlagIntegrityFault(ctx, fault); err != nil {
				return mismatches, err
			}
		}
	}
	return mismatches, nil
}

// replay first brings the cache up to date, then rebuilds the range from the
// store up to the same sequence so both sides cover identical history.
func (a *Aggregator) replay(ctx context.Context, r PeriodRange) ([]int64, map[cellKey]*cell, error) {
	if err := a.catchUp(ctx); err != nil {
		return nil, nil, err
	}
	if err := a.refresh(ctx); err != nil {
		return nil, nil, err
	}
	a.mu.RLock()
	ids, err := a.rangeIDsLocked(r)
	watermark := a.applied
	a.mu.RUnlock()
	if err != nil {
		return nil, nil, err
	}
	scratch := map[cellKey]*cell{}
	if len(ids) == 0 {
		return ids, scratch, nil
	}
	entries, err := a.src.PostedEntries(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	for _, e := range entries {
		if e.Sequence > watermark {
			break
		}
		for _, inc := range increments(e) {
			a.applyLocked(scratch, inc, 1)
		}
	}
	return ids, scratch, ctx.Err()
}

func (a *Aggregator) replaceLocked(ids []int64, scratch map[cellKey]*cell) {
	in := make(map[int64]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	for key := range a.cells {
		if in[key.period] {
			delete(a.cells, key)
		}
	}
	for key, c := range scratch {
		a.cells[key] = c
	}
}

func diff(ids []int64, cached, replayed map[cellKey]*cell) []Mismatch {
	in := make(map[int64]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	keys := map[cellKey]struct{}{}
	for k := range cached {
		if in[k.period] {
			keys[k] = struct{}{}
		}
	}
	for k := range replayed {
		keys[k] = struct{}{}
	}
	var out []Mismatch
	for k := range keys {
		c, r := totalsOf(cached[k]), totalsOf(replayed[k])
		if c.debit.Equal(r.debit) && c.credit.Equal(r.credit) {
			continue
		}
		out = append(out, Mismatch{
			PeriodID:       k.period,
			AccountID:      k.account,
			CachedDebit:    c.debit,
			CachedCredit:   c.credit,
			ReplayedDebit:  r.debit,
			ReplayedCredit: r.credit,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodID != out[j].PeriodID {
			return out[i].PeriodID < out[j].PeriodID
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

func totalsOf(c *cell) totals {
	if c == nil {
		return totals{debit: decimal.Zero, credit: decimal.Zero}
	}
	return c.totals
}

// refresh reloads periods and the chart from the store.
func (a *Aggregator) refresh(ctx context.Context) error {
	list, err := a.src.Periods(ctx)
	if err != nil {
		return err
	}
	accs, err := a.src.Accounts(ctx)
	if err != nil {
		return err
	}
	chart, err := accounts.NewChart(accs)
	if err != nil {
		return err
	}
	order := make(map[int64]int, len(list))
	for i, p := range list {
		order[p.ID] = i
	}
	a.mu.Lock()
	a.periods, a.order, a.chart = list, order, chart
	a.mu.Unlock()
	return nil
}

// ensure catches up with the store and refreshes reference data when a
// period or account is unknown. With
// accountID zero every account carrying movement in the period must be known.
func (a *Aggregator) ensure(ctx context.Context, periodID, accountID int64) error {
	if err := a.catchUp(ctx); err != nil {
		return err
	}
	a.mu.RLock()
	_, okPeriod := a.order[periodID]
	okAccount := a.chart != nil
	if okAccount && accountID != 0 {
		_, okAccount = a.chart.Account(accountID)
	}
	if okAccount && accountID == 0 {
		for key := range a.cells {
			if key.period != periodID {
				continue
			}
			if _, known := a.chart.Account(key.account); !known {
				okAccount = false
				break
			}
		}
	}
	a.mu.RUnlock()
	if okPeriod && okAccount {
		return nil
	}
	if err := a.refresh(ctx); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.order[periodID]; !ok {
		return fmt.Errorf("%w: %d", shared.ErrPeriodNotFound, periodID)
	}
	if accountID != 0 {
		if _, ok := a.chart.Account(accountID); !ok {
			return fmt.Errorf("%w: %d", shared.ErrAccountNotFound, accountID)
		}
	}
	return nil
}

func (a *Aggregator) rangeIDsLocked(r PeriodRange) ([]int64, error) {
	if len(a.periods) == 0 {
		return nil, nil
	}
	from, to := 0, len(a.periods)-1
	if r.From != 0 {
		idx, ok := a.order[r.From]
		if !ok {
			return nil, fmt.Errorf("%w: %d", shared.ErrPeriodNotFound, r.From)
		}
		from = idx
	}
	if r.To != 0 {
		idx, ok := a.order[r.To]
		if !ok {
			return nil, fmt.Errorf("%w: %d", shared.ErrPeriodNotFound, r.To)
		}
		to = idx
	}
	var ids []int64
	for i := from; i <= to; i++ {
		ids = append(ids, a.periods[i].ID)
	}
	return ids, nil
}

// movementLocked sums cells of account over periods[0..idx] inclusive.
func (a *Aggregator) movementLocked(accountID int64, idx int) totals {
	sum := totals{debit: decimal.Zero, credit: decimal.Zero}
	for i := 0; i <= idx; i++ {
		c := a.cells[cellKey{period: a.periods[i].ID, account: accountID}]
		if c != nil {
			sum.debit = sum.debit.Add(c.debit)
			sum.credit = sum.credit.Add(c.credit)
		}
	}
	return sum
}

func (a *Aggregator) balanceLocked(acc accounts.Account, periodID int64) AccountBalance {
	idx := a.order[periodID]
	opening := a.movementLocked(acc.ID, idx-1)
	current := totalsOf(a.cells[cellKey{period: periodID, account: acc.ID}])
	return AccountBalance{
		AccountID: acc.ID,
		PeriodID:  periodID,
		Opening:   acc.NormalSide.Signed(opening.debit, opening.credit),
		NetDebit:  current.debit,
		NetCredit: current.credit,
		Closing:   acc.NormalSide.Signed(opening.debit.Add(current.debit), opening.credit.Add(current.credit)),
	}
}

// Balance returns the derived AccountBalance of an account in a period.
func (a *Aggregator) Balance(ctx context.Context, accountID, periodID int64) (AccountBalance, error) {
	if err := a.ensure(ctx, periodID, accountID); err != nil {
		return AccountBalance{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, _ := a.chart.Account(accountID)
	return a.balanceLocked(acc, periodID), nil
}

// Balances returns the balance of every account in the chart for a period,
// ordered by account code.
func (a *Aggregator) Balances(ctx context.Context, periodID int64) ([]accounts.Account, []AccountBalance, error) {
	if err := a.ensure(ctx, periodID, 0); err != nil {
		return nil, nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.chart.Accounts()
	out := make([]AccountBalance, 0, len(list))
	for _, acc := range list {
		out = append(out, a.balanceLocked(acc, periodID))
	}
	return list, out, nil
}

// BalanceAsOf returns the normal-side balance of an account at the close of a
// period or at the end of a given day.
func (a *Aggregator) BalanceAsOf(ctx context.Context, accountID int64, at AsOf) (decimal.Decimal, error) {
	periodID := at.PeriodID
	if periodID == 0 {
		if at.Date.IsZero() {
			return decimal.Zero, shared.NewValidationError(-1, shared.ErrValidation, "period or date required")
		}
		p, err := a.periodFor(ctx, at.Date)
		if err != nil {
			return decimal.Zero, err
		}
		periodID = p.ID
	}
	if err := a.ensure(ctx, periodID, accountID); err != nil {
		return decimal.Zero, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, _ := a.chart.Account(accountID)
	if at.PeriodID != 0 {
		return a.balanceLocked(acc, periodID).Closing, nil
	}
	sum := a.movementLocked(accountID, a.order[periodID]-1)
	day := periods.Day(at.Date)
	if c := a.cells[cellKey{period: periodID, account: accountID}]; c != nil {
		for d, t := range c.days {
			if !d.After(day) {
				sum.debit = sum.debit.Add(t.debit)
				sum.credit = sum.credit.Add(t.credit)
			}
		}
	}
	return acc.NormalSide.Signed(sum.debit, sum.credit), nil
}

func (a *Aggregator) periodFor(ctx context.Context, date time.Time) (periods.Period, error) {
	find := func() (periods.Period, bool) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		for _, p := range a.periods {
			if p.Contains(date) {
				return p, true
			}
		}
		return periods.Period{}, false
	}
	if p, ok := find(); ok {
		return p, nil
	}
	if err := a.refresh(ctx); err != nil {
		return periods.Period{}, err
	}
	if p, ok := find(); ok {
		return p, nil
	}
	return periods.Period{}, fmt.Errorf("%w: no period covers %s", shared.ErrPeriodNotFound, date.Format(time.DateOnly))
}

// RollupBalance sums the closing balance of an account and all its
// descendants for a period.
func (a *Aggregator) RollupBalance(ctx context.Context, accountID, periodID int64) (decimal.Decimal, error) {
	if err := a.ensure(ctx, periodID, accountID); err != nil {
		return decimal.Zero, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := decimal.Zero
	for _, id := range a.chart.Subtree(accountID) {
		acc, ok := a.chart.Account(id)
		if !ok {
			continue
		}
		total = total.Add(a.balanceLocked(acc, periodID).Closing)
	}
	return total, nil
}

// PeriodTotals reports posted debit and credit totals of a period. It never
// takes the ledger lock, so it is safe to call while closing a period.
func (a *Aggregator) PeriodTotals(ctx context.Context, periodID int64) (decimal.Decimal, decimal.Decimal, error) {
	if err := a.ensure(ctx, periodID, 0); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	debit, credit := decimal.Zero, decimal.Zero
	for key, c := range a.cells {
		if key.period == periodID {
			debit = debit.Add(c.debit)
			credit = credit.Add(c.credit)
		}
	}
	return debit, credit, nil
}

// TrialBalance lists every account with activity or a carried balance. A
// nonzero total is returned together with an IntegrityFault, which is also
// recorded so the period is held.
func (a *Aggregator) TrialBalance(ctx context.Context, periodID int64) (TrialBalance, error) {
	if err := a.ensure(ctx, periodID, 0); err != nil {
		return TrialBalance{}, err
	}
	a.mu.RLock()
	tb := TrialBalance{PeriodID: periodID, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, acc := range a.chart.Accounts() {
		bal := a.balanceLocked(acc, periodID)
		if bal.Opening.IsZero() && bal.NetDebit.IsZero() && bal.NetCredit.IsZero() {
			continue
		}
		tb.Rows = append(tb.Rows, TrialBalanceRow{
			AccountID:   acc.ID,
			Code:        acc.Code,
			Name:        acc.Name,
			Type:        acc.Type,
			NormalSide:  acc.NormalSide,
			Opening:     bal.Opening,
			DebitTotal:  bal.NetDebit,
			CreditTotal: bal.NetCredit,
			Closing:     bal.Closing,
		})
		tb.TotalDebit = tb.TotalDebit.Add(bal.NetDebit)
		tb.TotalCredit = tb.TotalCredit.Add(bal.NetCredit)
	}
	recorder := a.recorder
	a.mu.RUnlock()

	if tb.Balanced() {
		return tb, nil
	}
	fault := &shared.IntegrityFault{
		PeriodID: periodID,
		Reason:   fmt.Sprintf("trial balance debit %s credit %s", tb.TotalDebit.String(), tb.TotalCredit.String()),
	}
	if recorder != nil {
		if err := recorder.FlagIntegrityFault(ctx, fault); err != nil {
			return tb, err
		}
	}
	return tb, fault
}
