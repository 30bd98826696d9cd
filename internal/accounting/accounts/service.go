package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Service maintains the chart of accounts.
type Service struct {
	repo   Repository
	events shared.Emitter
	now    func() time.Time
}

// NewService constructs the chart of accounts service. events may be nil.
func NewService(repo Repository, events shared.Emitter) *Service {
	return &Service{repo: repo, events: events, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns all accounts ordered by code.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}

// Search returns accounts whose code starts with prefix.
func (s *Service) Search(ctx context.Context, prefix string) ([]Account, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Account
	for _, a := range all {
		if strings.HasPrefix(a.Code, prefix) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Chart loads the indexed chart of accounts.
func (s *Service) Chart(ctx context.Context) (*Chart, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewChart(list)
}

// CreateAccount adds an account under an optional parent.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	created, err := s.CreateAccounts(ctx, []CreateAccountInput{in})
	if err != nil {
		return Account{}, err
	}
	return created[0], nil
}

// CreateAccounts adds several accounts in one transaction. Later inputs may
// reference earlier ones through ParentCode.
func (s *Service) CreateAccounts(ctx context.Context, inputs []CreateAccountInput) ([]Account, error) {
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}
	created := make([]Account, 0, len(inputs))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, in := range inputs {
			acc, err := s.insert(ctx, tx, in)
			if err != nil {
				return err
			}
			created = append(created, acc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		for _, acc := range created {
			s.events.Emit(shared.NewEvent(shared.EventAccountCreated, strconv.FormatInt(acc.ID, 10), s.now()).
				With("code", acc.Code))
		}
	}
	return created, nil
}

func (s *Service) insert(ctx context.Context, tx TxRepository, in CreateAccountInput) (Account, error) {
	code := strings.TrimSpace(in.Code)
	if _, err := tx.GetAccountByCode(ctx, code); err == nil {
		return Account{}, fmt.Errorf("%w: %s", shared.ErrDuplicateCode, code)
	} else if !errors.Is(err, shared.ErrAccountNotFound) {
		return Account{}, err
	}
	acc := Account{
		Code:       code,
		Name:       strings.TrimSpace(in.Name),
		Type:       in.Type,
		NormalSide: in.Type.NormalSide(),
		IsActive:   true,
	}
	parent, hasParent, err := resolveParent(ctx, tx, in)
	if err != nil {
		return Account{}, err
	}
	if hasParent {
		if parent.Type != in.Type {
			return Account{}, fmt.Errorf("%w: %s is %s, %s is %s", shared.ErrParentTypeMismatch, parent.Code, parent.Type, code, in.Type)
		}
		if !extendsParent(code, parent.Code) {
			return Account{}, fmt.Errorf("%w: %s must extend parent code %s", shared.ErrInvalidCode, code, parent.Code)
		}
		path := append(append([]int64(nil), parent.Path...), parent.ID)
		id := parent.ID
		acc.ParentID = &id
		acc.Path = path
	}
	inserted, err := tx.InsertAccount(ctx, acc)
	if err != nil {
		return Account{}, err
	}
	if inserted.HasAncestor(inserted.ID) {
		return Account{}, fmt.Errorf("%w: %s", shared.ErrAccountCycle, code)
	}
	return inserted, nil
}

func resolveParent(ctx context.Context, tx TxRepository, in CreateAccountInput) (Account, bool, error) {
	switch {
	case in.ParentID != nil:
		parent, err := tx.GetAccount(ctx, *in.ParentID)
		if err != nil {
			return Account{}, false, err
		}
		return parent, true, nil
	case strings.TrimSpace(in.ParentCode) != "":
		parent, err := tx.GetAccountByCode(ctx, strings.TrimSpace(in.ParentCode))
		if err != nil {
			return Account{}, false, err
		}
		return parent, true, nil
	}
	return Account{}, false, nil
}

// SetActive toggles whether new lines may reference the account.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) (Account, error) {
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetAccountActive(ctx, id, active); err != nil {
			return err
		}
		var err error
		acc, err = tx.GetAccount(ctx, id)
		return err
	})
	return acc, err
}
