// Package postgres bundles the pgx-backed repositories of every ledger
// component behind one pool.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/budgets"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

//go:embed schema.sql
var schema string

// Store is the Postgres Ledger Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the ledger tables when missing. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Accounts() accounts.Repository   { return accounts.NewRepository(s.pool) }
func (s *Store) Periods() periods.Repository     { return periods.NewRepository(s.pool) }
func (s *Store) Journals() journals.Repository   { return journals.NewRepository(s.pool) }
func (s *Store) Reconcile() reconcile.Repository { return reconcile.NewRepository(s.pool) }
func (s *Store) Budgets() budgets.Repository     { return budgets.NewRepository(s.pool) }

// Audit returns the audit writer backed by ledger_audit_logs.
func (s *Store) Audit() *internalShared.AuditLogger {
	return internalShared.NewAuditLogger(s.pool)
}
