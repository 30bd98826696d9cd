package shared

import (
	"context"
	"fmt"
)

// Locker serialises ledger writers. Posting, cancelling, closing a period and
// rebuilding balances all run under the same lock.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// LocalLocker is an in-process Locker that honours context cancellation.
type LocalLocker struct {
	sem chan struct{}
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LedgerLockKey builds the distributed lock key for a ledger.
func LedgerLockKey(ledger string) string {
	if ledger == "" {
		ledger = "default"
	}
	return fmt.Sprintf("ledger:%s:writer", ledger)
}
