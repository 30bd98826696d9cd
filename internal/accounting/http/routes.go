package ledgerhttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the ledger routes under the current router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.listAccounts)
			r.Post("/", h.createAccount)
			r.Post("/{id}/activate", h.setAccountActive(true))
			r.Post("/{id}/deactivate", h.setAccountActive(false))
		})
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.listPeriods)
			r.Post("/", h.createPeriod)
			r.Get("/{id}", h.getPeriod)
			r.Post("/{id}/soft-close", h.softClose)
			r.Post("/{id}/close", h.closePeriod)
			r.Post("/{id}/clear-hold", h.clearHold)
			r.Get("/{id}/trial-balance", h.trialBalance)
			r.Get("/{id}/profit-and-loss", h.profitAndLoss)
			r.Get("/{id}/balance-sheet", h.balanceSheet)
			r.Get("/{id}/budget-variance", h.budgetVariance)
		})
		r.Route("/journals", func(r chi.Router) {
			r.Get("/", h.listJournals)
			r.Post("/", h.saveDraft)
			r.Post("/validate", h.validateJournal)
			r.Post("/post", h.postJournal)
			r.Get("/{id}", h.getJournal)
			r.Post("/{id}/post", h.postDraft)
			r.Post("/{id}/cancel", h.cancelJournal)
		})
		r.Get("/balances/{accountID}", h.balance)
		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.listBudgets)
			r.Put("/", h.setBudget)
		})
		r.Post("/bank-transactions", h.ingest)
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/run", h.runMatching)
			r.Get("/proposals", h.listProposals)
			r.Post("/proposals/{id}/confirm", h.confirmProposal)
		})
	})
}
