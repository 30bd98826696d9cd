package periods

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// PeriodStatus enumerates valid period states. Transitions only move forward
// one step at a time and CLOSED is terminal.
type PeriodStatus string

const (
	PeriodStatusOpen       PeriodStatus = "OPEN"
	PeriodStatusSoftClosed PeriodStatus = "SOFT_CLOSED"
	PeriodStatusClosed     PeriodStatus = "CLOSED"
)

// next returns the only status reachable from s.
func (s PeriodStatus) next() (PeriodStatus, bool) {
	switch s {
	case PeriodStatusOpen:
		return PeriodStatusSoftClosed, true
	case PeriodStatusSoftClosed:
		return PeriodStatusClosed, true
	}
	return "", false
}

// Hold flags a period/account pair for manual audit after an integrity fault.
type Hold struct {
	AccountID int64     `json:"account_id"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// Period represents a fiscal period window. Dates are inclusive UTC days.
type Period struct {
	ID           int64
	Code         string
	StartDate    time.Time
	EndDate      time.Time
	Status       PeriodStatus
	Holds        []Hold
	SoftClosedAt *time.Time
	ClosedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contains reports whether date falls inside the period.
func (p Period) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// OnHold reports whether an integrity fault blocks posting.
func (p Period) OnHold() bool {
	return len(p.Holds) > 0
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckPostable is the posting gate. SOFT_CLOSED periods accept entries only
// when the caller asserts elevated authorization.
func CheckPostable(p Period, elevated bool) error {
	if p.OnHold() {
		return fmt.Errorf("%w: period %s", shared.ErrIntegrityHold, p.Code)
	}
	switch p.Status {
	case PeriodStatusOpen:
		return nil
	case PeriodStatusSoftClosed:
		if elevated {
			return nil
		}
		return fmt.Errorf("%w: period %s", shared.ErrElevationRequired, p.Code)
	case PeriodStatusClosed:
		return fmt.Errorf("%w: period %s", shared.ErrPeriodClosed, p.Code)
	}
	return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidStatus, p.Status)
}

// CheckCancellable gates reversing entries, which require an OPEN period.
func CheckCancellable(p Period) error {
	if p.OnHold() {
		return fmt.Errorf("%w: period %s", shared.ErrIntegrityHold, p.Code)
	}
	switch p.Status {
	case PeriodStatusOpen:
		return nil
	case PeriodStatusClosed:
		return fmt.Errorf("%w: period %s", shared.ErrPeriodClosed, p.Code)
	}
	return fmt.Errorf("%w: period %s is %s", shared.ErrPeriodNotOpen, p.Code, p.Status)
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	Code      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// Validate ensures the create period input is coherent.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return shared.NewValidationError(-1, shared.ErrValidation, "period code required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return shared.NewValidationError(-1, shared.ErrValidation, "start and end date required")
	}
	if Day(in.StartDate).After(Day(in.EndDate)) {
		return shared.NewValidationError(-1, shared.ErrValidation, "start date cannot be after end date")
	}
	return nil
}
