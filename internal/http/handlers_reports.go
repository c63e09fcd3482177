package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"envelopes/internal/core"
	"envelopes/internal/services"
)

type ruleRequest struct {
	Type             core.TransactionType `json:"type" validate:"required,oneof=income expense"`
	Description      string               `json:"description" validate:"max=200"`
	Frequency        core.Frequency       `json:"frequency" validate:"required,oneof=daily weekly biweekly monthly quarterly yearly"`
	DayOfMonth       *int                 `json:"day_of_month,omitempty"`
	DayOfWeek        *int                 `json:"day_of_week,omitempty"`
	StartDate        core.Date            `json:"start_date"`
	EndDate          *core.Date           `json:"end_date,omitempty"`
	AutoClear        bool                 `json:"auto_clear"`
	AccountID        string               `json:"account_id" validate:"required"`
	EnvelopeID       *string              `json:"envelope_id,omitempty"`
	IncomeCategoryID *string              `json:"income_category_id,omitempty"`
	amountField
}

type spentResponse struct {
	EnvelopeID string     `json:"envelope_id"`
	From       core.Date  `json:"from"`
	To         core.Date  `json:"to"`
	Spent      core.Money `json:"spent_cents"`
}

type reconciliationResponse struct {
	Balanced    bool              `json:"balanced"`
	Divergences []core.Divergence `json:"divergences"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.Recurring.ListRules(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := req.required()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.StartDate.IsZero() {
		req.StartDate = core.DateOf(s.now())
	}
	rule, err := s.svc.Recurring.CreateRule(r.Context(), actorFrom(r.Context()), services.RuleInput{
		Type:             req.Type,
		Amount:           amount,
		Description:      req.Description,
		Frequency:        req.Frequency,
		DayOfMonth:       req.DayOfMonth,
		DayOfWeek:        req.DayOfWeek,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		AutoClear:        req.AutoClear,
		AccountID:        req.AccountID,
		EnvelopeID:       req.EnvelopeID,
		IncomeCategoryID: req.IncomeCategoryID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleSetRuleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.Recurring.SetRuleActive(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), active); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Recurring.DeleteRule(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunRecurring(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Recurring.RunNow(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEnvelopeSpent defaults to the current month.
func (s *Server) handleEnvelopeSpent(w http.ResponseWriter, r *http.Request) {
	today := core.DateOf(s.now())
	from, to := core.MonthRange(today.Year(), int(today.Month()))
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = queryDate("from", v); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = queryDate("to", v); err != nil {
			writeError(w, r, err)
			return
		}
	}

	id := chi.URLParam(r, "id")
	if err := actorFrom(r.Context()).RequireUser(); err != nil {
		writeError(w, r, err)
		return
	}
	spent, err := s.svc.Reconcile.EnvelopeSpent(r.Context(), id, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spentResponse{EnvelopeID: id, From: from, To: to, Spent: spent})
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := actorFrom(r.Context()).RequireAdmin("reconciliation"); err != nil {
		writeError(w, r, err)
		return
	}
	ds, err := s.svc.Reconcile.Check(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ds == nil {
		ds = []core.Divergence{}
	}
	writeJSON(w, http.StatusOK, reconciliationResponse{Balanced: len(ds) == 0, Divergences: ds})
}

// handleOverview defaults to the current month.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if err := actorFrom(r.Context()).RequireUser(); err != nil {
		writeError(w, r, err)
		return
	}
	today := core.DateOf(s.now())
	year, month := today.Year(), int(today.Month())
	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1970 || n > 9999 {
			writeError(w, r, core.Invalid("year", "must be a four digit year"))
			return
		}
		year = n
	}
	if v := q.Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, core.Invalid("month", "must be between 1 and 12"))
			return
		}
		month = n
	}
	ov, err := s.svc.Reconcile.MonthOverview(r.Context(), year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}
