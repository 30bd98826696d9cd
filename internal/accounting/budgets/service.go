package budgets

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// BalanceReader reports the derived balance of an account in a period.
type BalanceReader interface {
	Balance(ctx context.Context, accountID, periodID int64) (balances.AccountBalance, error)
}

// Service manages budgets and checks them after every posting.
type Service struct {
	repo   Repository
	bal    BalanceReader
	cur    shared.Currency
	events shared.Emitter
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the budget service.
func NewService(repo Repository, bal BalanceReader, cur shared.Currency, events shared.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bal: bal, cur: cur, events: events, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// movement is the net posted amount of an account within a period, signed
// towards its normal side.
func (s *Service) movement(ctx context.Context, accountID, periodID int64) (decimal.Decimal, error) {
	bal, err := s.bal.Balance(ctx, accountID, periodID)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Closing.Sub(bal.Opening), nil
}

// Set creates or replaces the budget of an account for a period and
// evaluates it against movement already posted.
func (s *Service) Set(ctx context.Context, in SetBudgetInput) (Budget, error) {
	if err := in.Validate(s.cur); err != nil {
		return Budget{}, err
	}
	actual, err := s.movement(ctx, in.AccountID, in.PeriodID)
	if err != nil {
		return Budget{}, err
	}
	var (
		stored Budget
		raised bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBudgetForUpdate(ctx, in.AccountID, in.PeriodID)
		if err != nil && !errors.Is(err, shared.ErrBudgetNotFound) {
			return err
		}
		b := Budget{
			AccountID: in.AccountID,
			PeriodID:  in.PeriodID,
			Amount:    in.Amount,
			Threshold: in.Threshold,
			CreatedBy: in.ActorID,
		}
		over := newVariance(b, actual).Over
		raised = over && !current.Exceeded
		b.Exceeded = over
		stored, err = tx.UpsertBudget(ctx, b)
		return err
	})
	if err != nil {
		return Budget{}, err
	}
	if raised {
		s.alert(newVariance(stored, actual))
	}
	return stored, nil
}

// Get returns the budget of an account for a period.
func (s *Service) Get(ctx context.Context, accountID, periodID int64) (Budget, error) {
	return s.repo.Get(ctx, accountID, periodID)
}

// List returns budgets, optionally restricted to one period.
func (s *Service) List(ctx context.Context, periodID int64) ([]Budget, error) {
	return s.repo.List(ctx, periodID)
}

// Variances compares every budget of a period with its posted movement.
func (s *Service) Variances(ctx context.Context, periodID int64) ([]Variance, error) {
	list, err := s.repo.List(ctx, periodID)
	if err != nil {
		return nil, err
	}
	out := make([]Variance, 0, len(list))
	for _, b := range list {
		actual, err := s.movement(ctx, b.AccountID, b.PeriodID)
		if err != nil {
			return nil, err
		}
		out = append(out, newVariance(b, actual))
	}
	return out, nil
}

// Check re-evaluates the budget of one account and period. It raises an
// alert when movement first rises above the limit and re-arms once movement
// falls back, for instance after a reversal.
func (s *Service) Check(ctx context.Context, accountID, periodID int64) (Variance, error) {
	b, err := s.repo.Get(ctx, accountID, periodID)
	if err != nil {
		return Variance{}, err
	}
	actual, err := s.movement(ctx, accountID, periodID)
	if err != nil {
		return Variance{}, err
	}
	v := newVariance(b, actual)
	if v.Over == b.Exceeded {
		return v, nil
	}
	raised := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetBudgetForUpdate(ctx, accountID, periodID)
		if err != nil {
			return err
		}
		v = newVariance(locked, actual)
		if v.Over == locked.Exceeded {
			return nil
		}
		raised = v.Over
		v.Budget.Exceeded = v.Over
		return tx.SetExceeded(ctx, locked.ID, v.Over)
	})
	if err != nil {
		return Variance{}, err
	}
	if raised {
		s.alert(v)
	}
	return v, nil
}

func (s *Service) alert(v Variance) {
	b := v.Budget
	s.logger.Warn("budget threshold exceeded",
		slog.Int64("budget_id", b.ID),
		slog.Int64("account_id", b.AccountID),
		slog.Int64("period_id", b.PeriodID),
		slog.String("actual", s.cur.Format(v.Actual)),
		slog.String("limit", s.cur.Format(b.Limit())))
	if s.events == nil {
		return
	}
	s.events.Emit(shared.NewEvent(shared.EventBudgetExceeded, strconv.FormatInt(b.ID, 10), s.now()).
		With("account_id", strconv.FormatInt(b.AccountID, 10)).
		With("period_id", strconv.FormatInt(b.PeriodID, 10)).
		With("budget", s.cur.Format(b.Amount)).
		With("limit", s.cur.Format(b.Limit())).
		With("actual", s.cur.Format(v.Actual)).
		With("overage", s.cur.Format(v.Actual.Sub(b.Limit()))))
}

// EntryCommitted checks the budgets of every account a posted entry touched.
func (s *Service) EntryCommitted(ctx context.Context, action string, entry journals.JournalEntry) {
	if entry.Status != journals.JournalStatusPosted {
		return
	}
	seen := make(map[int64]bool, len(entry.Lines))
	ids := make([]int64, 0, len(entry.Lines))
	for _, l := range entry.Lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			ids = append(ids, l.AccountID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, err := s.Check(ctx, id, entry.PeriodID); err != nil && !errors.Is(err, shared.ErrBudgetNotFound) {
			s.logger.Warn("budget check", slog.String("action", action), slog.Int64("entry_id", entry.ID),
				slog.Int64("account_id", id), slog.Any("error", err))
		}
	}
}
