// Package memory is the in-process ledger store. Every write transaction works
// on a fork of the current snapshot and commits by swapping it in, so readers
// always see a consistent state and an aborted transaction leaves no trace.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/budgets"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
)

type snapshot struct {
	accounts  table[int64, accounts.Account]
	codes     table[string, int64]
	periods   table[int64, periods.Period]
	entries   table[int64, journals.JournalEntry]
	lineEntry table[int64, int64]
	// reversedBy maps an original entry id to the entry reversing it.
	reversedBy table[int64, int64]
	txns       table[string, reconcile.ExternalTransaction]
	proposals  table[uuid.UUID, reconcile.MatchProposal]
	budgets    table[budgetKey, budgets.Budget]
	budgetKeys table[int64, budgetKey]
	sequence   int64
	// lastDigest is the digest of the posted entry with sequence digestSeq.
	lastDigest string
	digestSeq  int64
	nextID     int64
}

func emptySnapshot() *snapshot {
	return &snapshot{
		accounts:   newTable[int64, accounts.Account](),
		codes:      newTable[string, int64](),
		periods:    newTable[int64, periods.Period](),
		entries:    newTable[int64, journals.JournalEntry](),
		lineEntry:  newTable[int64, int64](),
		reversedBy: newTable[int64, int64](),
		txns:       newTable[string, reconcile.ExternalTransaction](),
		proposals:  newTable[uuid.UUID, reconcile.MatchProposal](),
		budgets:    newTable[budgetKey, budgets.Budget](),
		budgetKeys: newTable[int64, budgetKey](),
	}
}

// fork returns a writable copy sharing all unmodified data with s. Values are
// structs; slices inside them are treated as immutable and replaced, never
// edited, by writers.
func (s *snapshot) fork() *snapshot {
	return &snapshot{
		accounts:   s.accounts.fork(),
		codes:      s.codes.fork(),
		periods:    s.periods.fork(),
		entries:    s.entries.fork(),
		lineEntry:  s.lineEntry.fork(),
		reversedBy: s.reversedBy.fork(),
		txns:       s.txns.fork(),
		proposals:  s.proposals.fork(),
		budgets:    s.budgets.fork(),
		budgetKeys: s.budgetKeys.fork(),
		sequence:   s.sequence,
		lastDigest: s.lastDigest,
		digestSeq:  s.digestSeq,
		nextID:     s.nextID,
	}
}

func (s *snapshot) notePosted(e journals.JournalEntry) {
	if e.Status == journals.JournalStatusPosted && e.Sequence > s.digestSeq {
		s.lastDigest, s.digestSeq = e.Digest, e.Sequence
	}
}

func (s *snapshot) id() int64 {
	s.nextID++
	return s.nextID
}

// Ledger holds the current snapshot.
type Ledger struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	now  func() time.Time
}

// New returns an empty Ledger.
func New() *Ledger {
	l := &Ledger{now: time.Now}
	l.snap.Store(emptySnapshot())
	return l
}

// WithNow overrides the clock for deterministic tests.
func (l *Ledger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

func (l *Ledger) read() *snapshot {
	return l.snap.Load()
}

// update runs fn against a private copy and publishes it when fn succeeds and
// ctx is still live.
func (l *Ledger) update(ctx context.Context, fn func(*snapshot) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.read().fork()
	if err := fn(next); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.snap.Store(next)
	return nil
}

func cloneEntry(e journals.JournalEntry) journals.JournalEntry {
	e.Lines = append([]journals.JournalLine(nil), e.Lines...)
	return e
}

func clonePeriod(p periods.Period) periods.Period {
	p.Holds = append([]periods.Hold(nil), p.Holds...)
	return p
}
