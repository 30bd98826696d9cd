// Package ledgerhttp exposes the ledger over JSON.
package ledgerhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/budgets"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// ActorHeader carries the acting user id. Authentication happens upstream.
const ActorHeader = "X-Actor-ID"

type accountService interface {
	List(ctx context.Context) ([]accounts.Account, error)
	Search(ctx context.Context, prefix string) ([]accounts.Account, error)
	CreateAccount(ctx context.Context, in accounts.CreateAccountInput) (accounts.Account, error)
	SetActive(ctx context.Context, id int64, active bool) (accounts.Account, error)
}

type periodService interface {
	List(ctx context.Context) ([]periods.Period, error)
	Get(ctx context.Context, id int64) (periods.Period, error)
	CreatePeriod(ctx context.Context, in periods.CreatePeriodInput) (periods.Period, error)
	SoftClose(ctx context.Context, periodID, actorID int64) (periods.Period, error)
	ClosePeriod(ctx context.Context, periodID, actorID int64) (periods.Period, error)
	ClearIntegrityHold(ctx context.Context, periodID, actorID int64, auditRef string) (periods.Period, error)
}

type journalService interface {
	Currency() shared.Currency
	Get(ctx context.Context, id int64) (journals.JournalEntry, error)
	List(ctx context.Context, filter journals.ListFilter) ([]journals.JournalEntry, error)
	Validate(ctx context.Context, in journals.PostingInput) error
	SaveDraft(ctx context.Context, in journals.PostingInput) (journals.JournalEntry, error)
	PostJournal(ctx context.Context, in journals.PostingInput) (journals.JournalEntry, error)
	Post(ctx context.Context, in journals.PostInput) (journals.JournalEntry, error)
	Cancel(ctx context.Context, in journals.CancelInput) (journals.CancelResult, error)
}

type balanceService interface {
	BalanceAsOf(ctx context.Context, accountID int64, at balances.AsOf) (decimal.Decimal, error)
	RollupBalance(ctx context.Context, accountID, periodID int64) (decimal.Decimal, error)
	TrialBalance(ctx context.Context, periodID int64) (balances.TrialBalance, error)
}

type reconcileService interface {
	Ingest(ctx context.Context, txns []reconcile.ExternalTransaction) ([]reconcile.ExternalTransaction, error)
	RunMatching(ctx context.Context, accountID int64) ([]reconcile.Result, error)
	Confirm(ctx context.Context, proposalID uuid.UUID) (reconcile.MatchProposal, error)
	Proposals(ctx context.Context, state reconcile.ProposalState) ([]reconcile.MatchProposal, error)
}

type budgetService interface {
	Set(ctx context.Context, in budgets.SetBudgetInput) (budgets.Budget, error)
	List(ctx context.Context, periodID int64) ([]budgets.Budget, error)
	Variances(ctx context.Context, periodID int64) ([]budgets.Variance, error)
}

type reportService interface {
	ProfitAndLoss(ctx context.Context, periodID int64) (reports.ProfitAndLoss, error)
	BalanceSheet(ctx context.Context, periodID int64) (reports.BalanceSheet, error)
}

// Services groups the collaborators behind the HTTP surface. Budgets and
// Reports are optional.
type Services struct {
	Accounts  accountService
	Periods   periodService
	Journals  journalService
	Balances  balanceService
	Reconcile reconcileService
	Budgets   budgetService
	Reports   reportService
}

// Handler serves the /ledger routes.
type Handler struct {
	logger    *slog.Logger
	svc       Services
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, svc Services) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, svc: svc, validator: validator.New()}
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return err
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return shared.NewValidationError(-1, shared.ErrValidation, "%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return shared.NewValidationError(-1, shared.ErrValidation, "%s", err.Error())
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrBadRequest
	}
	return id, nil
}

func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get(ActorHeader), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		list []accounts.Account
		err  error
	)
	if prefix := strings.TrimSpace(r.URL.Query().Get("prefix")); prefix != "" {
		list, err = h.svc.Accounts.Search(r.Context(), prefix)
	} else {
		list, err = h.svc.Accounts.List(r.Context())
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAccountResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	acc, err := h.svc.Accounts.CreateAccount(r.Context(), req.toInput(actorID(r)))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(acc))
}

func (h *Handler) setAccountActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			h.fail(w, err)
			return
		}
		acc, err := h.svc.Accounts.SetActive(r.Context(), id, active)
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toAccountResponse(acc))
	}
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Periods.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]periodResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPeriodResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.svc.Periods.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(p))
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.fail(w, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.svc.Periods.CreatePeriod(r.Context(), periods.CreatePeriodInput{
		Code:      req.Code,
		StartDate: start,
		EndDate:   end,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPeriodResponse(p))
}

func (h *Handler) periodTransition(fn func(context.Context, int64, int64) (periods.Period, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			h.fail(w, err)
			return
		}
		p, err := fn(r.Context(), id, actorID(r))
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toPeriodResponse(p))
	}
}

func (h *Handler) softClose(w http.ResponseWriter, r *http.Request) {
	h.periodTransition(h.svc.Periods.SoftClose)(w, r)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	h.periodTransition(h.svc.Periods.ClosePeriod)(w, r)
}

func (h *Handler) clearHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req clearHoldRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.svc.Periods.ClearIntegrityHold(r.Context(), id, actorID(r), req.AuditRef)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(p))
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	tb, err := h.svc.Balances.TrialBalance(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTrialBalanceResponse(tb, h.svc.Journals.Currency()))
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	if h.svc.Reports == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "reports disabled")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	pl, err := h.svc.Reports.ProfitAndLoss(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	if h.svc.Reports == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "reports disabled")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	bs, err := h.svc.Reports.BalanceSheet(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	var filter journals.ListFilter
	q := r.URL.Query()
	if v := q.Get("period"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.fail(w, httpx.ErrBadRequest)
			return
		}
		filter.PeriodIDs = []int64{id}
	}
	filter.Status = journals.JournalStatus(strings.ToUpper(q.Get("status")))
	list, err := h.svc.Journals.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	cur := h.svc.Journals.Currency()
	out := make([]journalResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toJournalResponse(e, cur))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	e, err := h.svc.Journals.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJournalResponse(e, h.svc.Journals.Currency()))
}

func (h *Handler) journalInput(r *http.Request) (journals.PostingInput, error) {
	var req journalRequest
	if err := h.decode(r, &req); err != nil {
		return journals.PostingInput{}, err
	}
	return req.toInput(actorID(r))
}

func (h *Handler) validateJournal(w http.ResponseWriter, r *http.Request) {
	in, err := h.journalInput(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.svc.Journals.Validate(r.Context(), in); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	in, err := h.journalInput(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	e, err := h.svc.Journals.SaveDraft(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toJournalResponse(e, h.svc.Journals.Currency()))
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	in, err := h.journalInput(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	e, err := h.svc.Journals.PostJournal(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toJournalResponse(e, h.svc.Journals.Currency()))
}

func (h *Handler) postDraft(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req postRequest
	if r.ContentLength > 0 {
		if err := h.decode(r, &req); err != nil {
			h.fail(w, err)
			return
		}
	}
	e, err := h.svc.Journals.Post(r.Context(), journals.PostInput{EntryID: id, ActorID: actorID(r), Elevated: req.Elevated})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJournalResponse(e, h.svc.Journals.Currency()))
}

func (h *Handler) cancelJournal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := h.decode(r, &req); err != nil {
			h.fail(w, err)
			return
		}
	}
	res, err := h.svc.Journals.Cancel(r.Context(), journals.CancelInput{EntryID: id, ActorID: actorID(r), Memo: req.Memo})
	if err != nil {
		h.fail(w, err)
		return
	}
	cur := h.svc.Journals.Currency()
	out := cancelResponse{Original: toJournalResponse(res.Original, cur), Discarded: res.Discarded}
	if res.Reversal != nil {
		rev := toJournalResponse(*res.Reversal, cur)
		out.Reversal = &rev
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		h.fail(w, err)
		return
	}
	q := r.URL.Query()
	var at balances.AsOf
	switch {
	case q.Get("period") != "" && q.Get("date") != "":
		h.fail(w, shared.NewValidationError(-1, shared.ErrValidation, "period and date are mutually exclusive"))
		return
	case q.Get("period") != "":
		at.PeriodID, err = strconv.ParseInt(q.Get("period"), 10, 64)
		if err != nil || at.PeriodID <= 0 {
			h.fail(w, httpx.ErrBadRequest)
			return
		}
	case q.Get("date") != "":
		at.Date, err = parseDate("date", q.Get("date"))
		if err != nil {
			h.fail(w, err)
			return
		}
	default:
		h.fail(w, shared.NewValidationError(-1, shared.ErrValidation, "period or date required"))
		return
	}
	bal, err := h.svc.Balances.BalanceAsOf(r.Context(), accountID, at)
	if err != nil {
		h.fail(w, err)
		return
	}
	cur := h.svc.Journals.Currency()
	out := balanceResponse{AccountID: accountID, PeriodID: at.PeriodID, Balance: cur.Format(bal)}
	if !at.Date.IsZero() {
		out.Date = formatDate(at.Date)
	}
	if at.PeriodID != 0 && q.Get("rollup") == "true" {
		rollup, err := h.svc.Balances.RollupBalance(r.Context(), accountID, at.PeriodID)
		if err != nil {
			h.fail(w, err)
			return
		}
		out.Rollup = cur.Format(rollup)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	txns, err := req.toTransactions()
	if err != nil {
		h.fail(w, err)
		return
	}
	stored, err := h.svc.Reconcile.Ingest(r.Context(), txns)
	if err != nil {
		h.fail(w, err)
		return
	}
	cur := h.svc.Journals.Currency()
	out := make([]bankTransactionResponse, 0, len(stored))
	for _, t := range stored {
		out = append(out, toBankTransactionResponse(t, cur))
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) runMatching(w http.ResponseWriter, r *http.Request) {
	var req runMatchingRequest
	if r.ContentLength > 0 {
		if err := h.decode(r, &req); err != nil {
			h.fail(w, err)
			return
		}
	}
	results, err := h.svc.Reconcile.RunMatching(r.Context(), req.AccountID)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]matchResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toMatchResultResponse(res))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listProposals(w http.ResponseWriter, r *http.Request) {
	state := reconcile.ProposalState(strings.ToUpper(r.URL.Query().Get("state")))
	list, err := h.svc.Reconcile.Proposals(r.Context(), state)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]proposalResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProposalResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) confirmProposal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, httpx.ErrBadRequest)
		return
	}
	p, err := h.svc.Reconcile.Confirm(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProposalResponse(p))
}

func (h *Handler) setBudget(w http.ResponseWriter, r *http.Request) {
	if h.svc.Budgets == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "budgets disabled")
		return
	}
	var req setBudgetRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	b, err := h.svc.Budgets.Set(r.Context(), budgets.SetBudgetInput{
		AccountID: req.AccountID,
		PeriodID:  req.PeriodID,
		Amount:    req.Amount,
		Threshold: req.Threshold,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBudgetResponse(b, h.svc.Journals.Currency()))
}

func (h *Handler) listBudgets(w http.ResponseWriter, r *http.Request) {
	if h.svc.Budgets == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "budgets disabled")
		return
	}
	var periodID int64
	if raw := r.URL.Query().Get("period"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.fail(w, httpx.ErrBadRequest)
			return
		}
		periodID = id
	}
	list, err := h.svc.Budgets.List(r.Context(), periodID)
	if err != nil {
		h.fail(w, err)
		return
	}
	cur := h.svc.Journals.Currency()
	out := make([]budgetResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBudgetResponse(b, cur))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) budgetVariance(w http.ResponseWriter, r *http.Request) {
	if h.svc.Budgets == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "budgets disabled")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	list, err := h.svc.Budgets.Variances(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	cur := h.svc.Journals.Currency()
	out := make([]varianceResponse, 0, len(list))
	for _, v := range list {
		out = append(out, toVarianceResponse(v, cur))
	}
	httpx.JSON(w, http.StatusOK, out)
}
