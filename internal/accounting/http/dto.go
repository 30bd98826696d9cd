package ledgerhttp

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/budgets"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", httpx.ErrBadRequest, field)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

type createAccountRequest struct {
	Code       string `json:"code" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	Type       string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentID   *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	ParentCode string `json:"parent_code" validate:"omitempty,max=64"`
}

func (r createAccountRequest) toInput(actorID int64) accounts.CreateAccountInput {
	return accounts.CreateAccountInput{
		Code:       r.Code,
		Name:       r.Name,
		Type:       accounts.AccountType(r.Type),
		ParentID:   r.ParentID,
		ParentCode: r.ParentCode,
		ActorID:    actorID,
	}
}

type accountResponse struct {
	ID         int64   `json:"id"`
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	NormalSide string  `json:"normal_side"`
	ParentID   *int64  `json:"parent_id,omitempty"`
	Path       []int64 `json:"path"`
	IsActive   bool    `json:"is_active"`
}

func toAccountResponse(a accounts.Account) accountResponse {
	path := a.Path
	if path == nil {
		path = []int64{}
	}
	return accountResponse{
		ID:         a.ID,
		Code:       a.Code,
		Name:       a.Name,
		Type:       string(a.Type),
		NormalSide: string(a.NormalSide),
		ParentID:   a.ParentID,
		Path:       path,
		IsActive:   a.IsActive,
	}
}

type createPeriodRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type clearHoldRequest struct {
	AuditRef string `json:"audit_ref" validate:"required,max=200"`
}

type periodResponse struct {
	ID           int64          `json:"id"`
	Code         string         `json:"code"`
	StartDate    string         `json:"start_date"`
	EndDate      string         `json:"end_date"`
	Status       string         `json:"status"`
	Holds        []periods.Hold `json:"holds,omitempty"`
	SoftClosedAt *time.Time     `json:"soft_closed_at,omitempty"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

func toPeriodResponse(p periods.Period) periodResponse {
	return periodResponse{
		ID:           p.ID,
		Code:         p.Code,
		StartDate:    formatDate(p.StartDate),
		EndDate:      formatDate(p.EndDate),
		Status:       string(p.Status),
		Holds:        p.Holds,
		SoftClosedAt: p.SoftClosedAt,
		ClosedAt:     p.ClosedAt,
	}
}

type journalLineRequest struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Side      string          `json:"side" validate:"required,oneof=DEBIT CREDIT"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo" validate:"max=500"`
}

type journalRequest struct {
	PeriodID int64                `json:"period_id" validate:"required,gt=0"`
	Date     string               `json:"date" validate:"required"`
	Currency string               `json:"currency" validate:"omitempty,len=3"`
	Memo     string               `json:"memo" validate:"max=500"`
	Elevated bool                 `json:"elevated"`
	Lines    []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (r journalRequest) toInput(actorID int64) (journals.PostingInput, error) {
	date, err := parseDate("date", r.Date)
	if err != nil {
		return journals.PostingInput{}, err
	}
	in := journals.PostingInput{
		PeriodID: r.PeriodID,
		Date:     date,
		Currency: r.Currency,
		Memo:     r.Memo,
		ActorID:  actorID,
		Elevated: r.Elevated,
		Lines:    make([]journals.PostingLineInput, 0, len(r.Lines)),
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, journals.PostingLineInput{
			AccountID: l.AccountID,
			Side:      shared.Side(l.Side),
			Amount:    l.Amount,
			Memo:      l.Memo,
		})
	}
	return in, nil
}

type postRequest struct {
	Elevated bool `json:"elevated"`
}

type cancelRequest struct {
	Memo string `json:"memo" validate:"max=500"`
}

type journalLineResponse struct {
	ID            int64  `json:"id"`
	LineNo        int    `json:"line_no"`
	AccountID     int64  `json:"account_id"`
	Side          string `json:"side"`
	Amount        string `json:"amount"`
	Memo          string `json:"memo,omitempty"`
	ReconState    string `json:"recon_state"`
	ExternalTxnID string `json:"external_txn_id,omitempty"`
}

type journalResponse struct {
	ID         int64                 `json:"id"`
	Sequence   int64                 `json:"sequence,omitempty"`
	PeriodID   int64                 `json:"period_id"`
	Date       string                `json:"date"`
	Currency   string                `json:"currency"`
	Memo       string                `json:"memo,omitempty"`
	Status     string                `json:"status"`
	ReversalOf *int64                `json:"reversal_of,omitempty"`
	PostedAt   *time.Time            `json:"posted_at,omitempty"`
	Digest     string                `json:"digest,omitempty"`
	Lines      []journalLineResponse `json:"lines"`
}

func toJournalResponse(e journals.JournalEntry, cur shared.Currency) journalResponse {
	out := journalResponse{
		ID:         e.ID,
		Sequence:   e.Sequence,
		PeriodID:   e.PeriodID,
		Date:       formatDate(e.Date),
		Currency:   e.Currency,
		Memo:       e.Memo,
		Status:     string(e.Status),
		ReversalOf: e.ReversalOf,
		PostedAt:   e.PostedAt,
		Digest:     e.Digest,
		Lines:      make([]journalLineResponse, 0, len(e.Lines)),
	}
	for _, l := range e.Lines {
		out.Lines = append(out.Lines, journalLineResponse{
			ID:            l.ID,
			LineNo:        l.LineNo,
			AccountID:     l.AccountID,
			Side:          string(l.Side),
			Amount:        cur.Format(l.Amount),
			Memo:          l.Memo,
			ReconState:    string(l.ReconState),
			ExternalTxnID: l.ExternalTxnID,
		})
	}
	return out
}

type cancelResponse struct {
	Original  journalResponse  `json:"original"`
	Reversal  *journalResponse `json:"reversal,omitempty"`
	Discarded bool             `json:"discarded"`
}

type balanceResponse struct {
	AccountID int64  `json:"account_id"`
	PeriodID  int64  `json:"period_id,omitempty"`
	Date      string `json:"date,omitempty"`
	Balance   string `json:"balance"`
	Rollup    string `json:"rollup,omitempty"`
}

type trialBalanceRowResponse struct {
	AccountID int64  `json:"account_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Opening   string `json:"opening"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	Closing   string `json:"closing"`
}

type trialBalanceResponse struct {
	PeriodID    int64                     `json:"period_id"`
	Rows        []trialBalanceRowResponse `json:"rows"`
	TotalDebit  string                    `json:"total_debit"`
	TotalCredit string                    `json:"total_credit"`
	Balanced    bool                      `json:"balanced"`
}

func toTrialBalanceResponse(tb balances.TrialBalance, cur shared.Currency) trialBalanceResponse {
	out := trialBalanceResponse{
		PeriodID:    tb.PeriodID,
		Rows:        make([]trialBalanceRowResponse, 0, len(tb.Rows)),
		TotalDebit:  cur.Format(tb.TotalDebit),
		TotalCredit: cur.Format(tb.TotalCredit),
		Balanced:    tb.Balanced(),
	}
	for _, r := range tb.Rows {
		out.Rows = append(out.Rows, trialBalanceRowResponse{
			AccountID: r.AccountID,
			Code:      r.Code,
			Name:      r.Name,
			Opening:   cur.Format(r.Opening),
			Debit:     cur.Format(r.DebitTotal),
			Credit:    cur.Format(r.CreditTotal),
			Closing:   cur.Format(r.Closing),
		})
	}
	return out
}

type bankTransactionRequest struct {
	ID          string          `json:"id" validate:"required,max=128"`
	AccountID   int64           `json:"account_id" validate:"gte=0"`
	Amount      decimal.Decimal `json:"amount"`
	ValueDate   string          `json:"value_date" validate:"required"`
	Description string          `json:"description" validate:"max=500"`
}

type ingestRequest struct {
	Transactions []bankTransactionRequest `json:"transactions" validate:"required,min=1,dive"`
}

func (r ingestRequest) toTransactions() ([]reconcile.ExternalTransaction, error) {
	out := make([]reconcile.ExternalTransaction, 0, len(r.Transactions))
	for _, t := range r.Transactions {
		date, err := parseDate("value_date", t.ValueDate)
		if err != nil {
			return nil, err
		}
		out = append(out, reconcile.ExternalTransaction{
			ID:          t.ID,
			AccountID:   t.AccountID,
			Amount:      t.Amount,
			ValueDate:   date,
			Description: t.Description,
		})
	}
	return out, nil
}

type bankTransactionResponse struct {
	ID          string `json:"id"`
	AccountID   int64  `json:"account_id"`
	Amount      string `json:"amount"`
	ValueDate   string `json:"value_date"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"`
}

func toBankTransactionResponse(t reconcile.ExternalTransaction, cur shared.Currency) bankTransactionResponse {
	return bankTransactionResponse{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Amount:      cur.Format(t.Amount),
		ValueDate:   formatDate(t.ValueDate),
		Description: t.Description,
		State:       string(t.State),
	}
}

type runMatchingRequest struct {
	AccountID int64 `json:"account_id" validate:"gte=0"`
}

type matchResultResponse struct {
	TxnID       string `json:"txn_id"`
	Status      string `json:"status"`
	ProposalID  string `json:"proposal_id,omitempty"`
	LineID      int64  `json:"line_id,omitempty"`
	EntryID     int64  `json:"entry_id,omitempty"`
	DayDistance int    `json:"day_distance,omitempty"`
}

func toMatchResultResponse(r reconcile.Result) matchResultResponse {
	out := matchResultResponse{TxnID: r.TxnID, Status: string(r.Status)}
	if r.Candidate != nil {
		out.ProposalID = r.ProposalID.String()
		out.LineID = r.Candidate.LineID
		out.EntryID = r.Candidate.EntryID
		out.DayDistance = r.DayDistance
	}
	return out
}

type proposalResponse struct {
	ID            string     `json:"id"`
	ExternalTxnID string     `json:"external_txn_id"`
	LineID        int64      `json:"line_id"`
	EntryID       int64      `json:"entry_id"`
	AccountID     int64      `json:"account_id"`
	Sequence      int64      `json:"sequence"`
	DayDistance   int        `json:"day_distance"`
	State         string     `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

func toProposalResponse(p reconcile.MatchProposal) proposalResponse {
	return proposalResponse{
		ID:            p.ID.String(),
		ExternalTxnID: p.ExternalTxnID,
		LineID:        p.LineID,
		EntryID:       p.EntryID,
		AccountID:     p.AccountID,
		Sequence:      p.Sequence,
		DayDistance:   p.DayDistance,
		State:         string(p.State),
		CreatedAt:     p.CreatedAt,
		ConfirmedAt:   p.ConfirmedAt,
	}
}

type setBudgetRequest struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	PeriodID  int64           `json:"period_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Threshold decimal.Decimal `json:"threshold"`
}

type budgetResponse struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	PeriodID  int64  `json:"period_id"`
	Amount    string `json:"amount"`
	Threshold string `json:"threshold"`
	Exceeded  bool   `json:"exceeded"`
}

func toBudgetResponse(b budgets.Budget, cur shared.Currency) budgetResponse {
	return budgetResponse{
		ID:        b.ID,
		AccountID: b.AccountID,
		PeriodID:  b.PeriodID,
		Amount:    cur.Format(b.Amount),
		Threshold: b.Threshold.String(),
		Exceeded:  b.Exceeded,
	}
}

type varianceResponse struct {
	budgetResponse
	Actual    string `json:"actual"`
	Remaining string `json:"remaining"`
	Over      bool   `json:"over"`
}

func toVarianceResponse(v budgets.Variance, cur shared.Currency) varianceResponse {
	return varianceResponse{
		budgetResponse: toBudgetResponse(v.Budget, cur),
		Actual:         cur.Format(v.Actual),
		Remaining:      cur.Format(v.Remaining),
		Over:           v.Over,
	}
}
