package periods

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// TrialBalancer reports total posted debits and credits for a period.
type TrialBalancer interface {
	PeriodTotals(ctx context.Context, periodID int64) (debit, credit decimal.Decimal, err error)
}

// AuditPort records period lifecycle actions.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service is the period manager: lifecycle transitions and integrity holds.
type Service struct {
	repo   Repository
	lock   shared.Locker
	tb     TrialBalancer
	audit  AuditPort
	events shared.Emitter
	now    func() time.Time
}

// NewService constructs the period manager. lock must be the same Locker the
// posting engine uses so a close never interleaves with a posting.
func NewService(repo Repository, lock shared.Locker, audit AuditPort, events shared.Emitter) *Service {
	if lock == nil {
		lock = shared.NewLocalLocker()
	}
	return &Service{repo: repo, lock: lock, audit: audit, events: events, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTrialBalancer wires the balance aggregator used by ClosePeriod.
func (s *Service) WithTrialBalancer(tb TrialBalancer) {
	s.tb = tb
}

// List returns all periods ordered by start date.
func (s *Service) List(ctx context.Context) ([]Period, error) {
	return s.repo.List(ctx)
}

// Get returns one period.
func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// FindByDate returns the period covering date.
func (s *Service) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return s.repo.FindByDate(ctx, date)
}

// CreatePeriod appends a period. It must start the day after the latest
// period ends, which keeps periods contiguous and non-overlapping.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListPeriods(ctx)
		if err != nil {
			return err
		}
		start, end := Day(in.StartDate), Day(in.EndDate)
		if err := checkPlacement(existing, start, end); err != nil {
			return err
		}
		period, err = tx.InsertPeriod(ctx, Period{
			Code:      strings.TrimSpace(in.Code),
			StartDate: start,
			EndDate:   end,
			Status:    PeriodStatusOpen,
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, in.ActorID, "period.create", period.ID, map[string]any{"code": period.Code})
	s.emit(shared.EventPeriodCreated, period.ID, "code", period.Code)
	return period, nil
}

func checkPlacement(existing []Period, start, end time.Time) error {
	var last *Period
	for i := range existing {
		p := existing[i]
		if !start.After(p.EndDate) && !end.Before(p.StartDate) {
			return fmt.Errorf("%w: %s", shared.ErrPeriodOverlap, p.Code)
		}
		if last == nil || p.EndDate.After(last.EndDate) {
			last = &existing[i]
		}
	}
	if last == nil {
		return nil
	}
	if !start.Equal(last.EndDate.AddDate(0, 0, 1)) {
		return fmt.Errorf("%w: previous period %s ends %s", shared.ErrPeriodGap, last.Code, last.EndDate.Format(time.DateOnly))
	}
	return nil
}

// SoftClose moves an OPEN period to SOFT_CLOSED.
func (s *Service) SoftClose(ctx context.Context, periodID, actorID int64) (Period, error) {
	period, err := s.transition(ctx, periodID, PeriodStatusSoftClosed, nil)
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "period.soft_close", period.ID, nil)
	s.emit(shared.EventPeriodSoftClosed, period.ID, "code", period.Code)
	return period, nil
}

// ClosePeriod moves a SOFT_CLOSED period to CLOSED. From here on no entry may
// post into or be reversed within the period.
func (s *Service) ClosePeriod(ctx context.Context, periodID, actorID int64) (Period, error) {
	period, err := s.transition(ctx, periodID, PeriodStatusClosed, func(ctx context.Context, tx TxRepository, p Period) error {
		if p.OnHold() {
			return fmt.Errorf("%w: period %s", shared.ErrIntegrityHold, p.Code)
		}
		drafts, err := tx.CountDrafts(ctx, p.ID)
		if err != nil {
			return err
		}
		if drafts > 0 {
			return fmt.Errorf("%w: %d draft(s) in %s", shared.ErrPendingEntries, drafts, p.Code)
		}
		if s.tb == nil {
			return errors.New("periods: trial balancer not configured")
		}
		debit, credit, err := s.tb.PeriodTotals(ctx, p.ID)
		if err != nil {
			return err
		}
		if !debit.Equal(credit) {
			return fmt.Errorf("%w: debit %s credit %s", shared.ErrUnbalancedPeriod, debit.String(), credit.String())
		}
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "period.close", period.ID, nil)
	s.emit(shared.EventPeriodClosed, period.ID, "code", period.Code)
	return period, nil
}

func (s *Service) transition(ctx context.Context, periodID int64, to PeriodStatus, guard func(context.Context, TxRepository, Period) error) (Period, error) {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return Period{}, err
	}
	defer unlock()
	var period Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if next, ok := p.Status.next(); !ok || next != to {
			return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, p.Status, to)
		}
		if guard != nil {
			if err := guard(ctx, tx, p); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		p.Status = to
		switch to {
		case PeriodStatusSoftClosed:
			p.SoftClosedAt = &now
		case PeriodStatusClosed:
			p.ClosedAt = &now
		}
		if err := tx.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		period = p
		return nil
	})
	return period, err
}

// FlagIntegrityFault places an audit hold on the fault's period. Posting into
// the period is refused until ClearIntegrityHold runs.
func (s *Service) FlagIntegrityFault(ctx context.Context, fault *shared.IntegrityFault) error {
	if fault == nil {
		return nil
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, fault.PeriodID)
		if err != nil {
			return err
		}
		for _, h := range p.Holds {
			if h.AccountID == fault.AccountID && h.Reason == fault.Reason {
				return nil
			}
		}
		p.Holds = append(p.Holds, Hold{AccountID: fault.AccountID, Reason: fault.Reason, FlaggedAt: s.now().UTC()})
		return tx.UpdatePeriod(ctx, p)
	})
	if err != nil {
		return err
	}
	evt := shared.NewEvent(shared.EventIntegrityFault, strconv.FormatInt(fault.PeriodID, 10), s.now()).
		With("account_id", strconv.FormatInt(fault.AccountID, 10)).
		With("reason", fault.Reason)
	if s.events != nil {
		s.events.Emit(evt)
	}
	return nil
}

// ClearIntegrityHold is the external audit action lifting every hold on the period.
func (s *Service) ClearIntegrityHold(ctx context.Context, periodID, actorID int64, auditRef string) (Period, error) {
	if strings.TrimSpace(auditRef) == "" {
		return Period{}, shared.NewValidationError(-1, shared.ErrValidation, "audit reference required")
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		p.Holds = nil
		if err := tx.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		period = p
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "period.clear_hold", periodID, map[string]any{"audit_ref": auditRef})
	s.emit(shared.EventIntegrityCleared, periodID, "audit_ref", auditRef)
	return period, nil
}

func (s *Service) emit(tag shared.EventTag, periodID int64, key, value string) {
	if s.events == nil {
		return
	}
	s.events.Emit(shared.NewEvent(tag, strconv.FormatInt(periodID, 10), s.now()).With(key, value))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, periodID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger_period",
		EntityID: strconv.FormatInt(periodID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
