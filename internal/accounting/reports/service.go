package reports

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
)

// BalanceSource provides per account balances for a period.
type BalanceSource interface {
	Balances(ctx context.Context, periodID int64) ([]accounts.Account, []balances.AccountBalance, error)
}

// Cache stores rendered reports under versioned keys.
type Cache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// Service builds financial statements from aggregator balances.
type Service struct {
	src    BalanceSource
	cache  Cache
	logger *slog.Logger
}

// NewService constructs the report service. cache may be nil.
func NewService(src BalanceSource, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{src: src, cache: cache, logger: logger}
}

func (s *Service) load(ctx context.Context, periodID int64) ([]AccountBalance, error) {
	list, bals, err := s.src.Balances(ctx, periodID)
	if err != nil {
		return nil, err
	}
	out := make([]AccountBalance, 0, len(list))
	for i, acc := range list {
		b := bals[i]
		if b.Opening.IsZero() && b.NetDebit.IsZero() && b.NetCredit.IsZero() {
			continue
		}
		out = append(out, AccountBalance{
			Code:       acc.Code,
			Name:       acc.Name,
			Type:       acc.Type,
			NormalSide: acc.NormalSide,
			Opening:    b.Opening,
			Debit:      b.NetDebit,
			Credit:     b.NetCredit,
		})
	}
	return out, nil
}

func (s *Service) fetch(ctx context.Context, kind string, periodID int64, dest any, build func([]AccountBalance) any) error {
	loader := func(ctx context.Context) (any, error) {
		list, err := s.load(ctx, periodID)
		if err != nil {
			return nil, err
		}
		return build(list), nil
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return assign(dest, value)
	}
	key, err := s.cache.BuildKey(ctx, "ledger", "reports", kind, strconv.FormatInt(periodID, 10))
	if err != nil {
		return err
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}

func assign(dest, value any) error {
	switch d := dest.(type) {
	case *TrialBalance:
		*d = value.(TrialBalance)
	case *ProfitAndLoss:
		*d = value.(ProfitAndLoss)
	case *BalanceSheet:
		*d = value.(BalanceSheet)
	}
	return nil
}

// TrialBalance returns the grouped trial balance of a period.
func (s *Service) TrialBalance(ctx context.Context, periodID int64) (TrialBalance, error) {
	var out TrialBalance
	err := s.fetch(ctx, "tb", periodID, &out, func(list []AccountBalance) any {
		tb := BuildTrialBalance(list)
		tb.PeriodID = periodID
		return tb
	})
	return out, err
}

// ProfitAndLoss returns the period's profit and loss statement.
func (s *Service) ProfitAndLoss(ctx context.Context, periodID int64) (ProfitAndLoss, error) {
	var out ProfitAndLoss
	err := s.fetch(ctx, "pl", periodID, &out, func(list []AccountBalance) any {
		pl := BuildProfitAndLoss(list)
		pl.PeriodID = periodID
		return pl
	})
	return out, err
}

// BalanceSheet returns the balance sheet at the close of a period.
func (s *Service) BalanceSheet(ctx context.Context, periodID int64) (BalanceSheet, error) {
	var out BalanceSheet
	err := s.fetch(ctx, "bs", periodID, &out, func(list []AccountBalance) any {
		bs := BuildBalanceSheet(list)
		bs.PeriodID = periodID
		return bs
	})
	return out, err
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Bump(ctx)
}

// EntryCommitted invalidates cached reports whenever balances move.
func (s *Service) EntryCommitted(ctx context.Context, action string, entry journals.JournalEntry) {
	if entry.Status != journals.JournalStatusPosted {
		return
	}
	if err := s.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache bump", slog.String("action", action), slog.Int64("entry_id", entry.ID), slog.Any("error", err))
	}
}
