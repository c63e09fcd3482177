package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"envelopes/internal/core"
	"envelopes/internal/services"
	"envelopes/internal/storage"
)

type accountRequest struct {
	Name string           `json:"name" validate:"required,max=100"`
	Type core.AccountType `json:"type" validate:"required,oneof=checking savings credit"`
	// Initial balance; may be zero or negative for credit accounts.
	InitialBalanceCents *int64 `json:"initial_balance_cents"`
	InitialBalance      string `json:"initial_balance"`
}

type transactionRequest struct {
	Type             core.TransactionType `json:"type" validate:"required,oneof=income expense"`
	Date             core.Date            `json:"date"`
	Description      string               `json:"description" validate:"max=200"`
	AccountID        string               `json:"account_id"`
	EnvelopeID       *string              `json:"envelope_id,omitempty"`
	IncomeCategoryID *string              `json:"income_category_id,omitempty"`
	Cleared          bool                 `json:"cleared"`
	amountField
}

type transactionPatch struct {
	Date                *core.Date `json:"date,omitempty"`
	Description         *string    `json:"description,omitempty" validate:"omitnil,max=200"`
	AccountID           *string    `json:"account_id,omitempty"`
	EnvelopeID          *string    `json:"envelope_id,omitempty"`
	IncomeCategoryID    *string    `json:"income_category_id,omitempty"`
	ClearEnvelope       bool       `json:"clear_envelope"`
	ClearIncomeCategory bool       `json:"clear_income_category"`
	amountField
}

type transferRequest struct {
	FromAccountID string    `json:"from_account_id" validate:"required"`
	ToAccountID   string    `json:"to_account_id" validate:"required"`
	Date          core.Date `json:"date"`
	Description   string    `json:"description" validate:"max=200"`
	Cleared       bool      `json:"cleared"`
	amountField
}

type roleRequest struct {
	Role             core.Role `json:"role" validate:"required,oneof=admin member"`
	DefaultAccountID *string   `json:"default_account_id,omitempty"`
}

type balanceResponse struct {
	AccountID string     `json:"account_id"`
	AsOf      core.Date  `json:"as_of"`
	Balance   core.Money `json:"balance_cents"`
	Projected core.Money `json:"projected_cents"`
	Display   string     `json:"balance_display"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	as, err := s.svc.Ledger.ListAccounts(r.Context(), actorFrom(r.Context()), includeArchived)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	initial, err := amountField{AmountCents: req.InitialBalanceCents, Amount: req.InitialBalance}.money()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if initial == nil {
		initial = &core.Money{}
	}
	a, err := s.svc.Ledger.CreateAccount(r.Context(), actorFrom(r.Context()), req.Name, req.Type, *initial)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleArchiveAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.ArchiveAccount(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)
	a, err := s.svc.Ledger.GetAccount(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !actor.IsAdmin() && (actor.DefaultAccountID == nil || *actor.DefaultAccountID != a.ID) {
		writeError(w, r, core.ErrForbidden)
		return
	}

	asOf := core.DateOf(s.now())
	if v := r.URL.Query().Get("as_of"); v != "" {
		if asOf, err = queryDate("as_of", v); err != nil {
			writeError(w, r, err)
			return
		}
	}
	balance, err := s.svc.Reconcile.AccountBalance(ctx, a.ID, asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	projected, err := s.svc.Reconcile.ProjectedBalance(ctx, a.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: a.ID,
		AsOf:      asOf,
		Balance:   balance,
		Projected: projected,
		Display:   balance.String(),
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.TransactionFilter{
		AccountID:  q.Get("account_id"),
		EnvelopeID: q.Get("envelope_id"),
		Status:     core.TransactionStatus(q.Get("status")),
	}
	if f.Status != "" && f.Status != core.Pending && f.Status != core.Cleared {
		writeError(w, r, core.Invalid("status", "must be pending or cleared"))
		return
	}
	for name, dst := range map[string]**core.Date{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			d, err := queryDate(name, v)
			if err != nil {
				writeError(w, r, err)
				return
			}
			*dst = &d
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, core.Invalid("limit", "must be a positive integer"))
			return
		}
		f.Limit = n
	}

	ts, err := s.svc.Ledger.ListTransactions(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := req.required()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Date.IsZero() {
		req.Date = core.DateOf(s.now())
	}
	t, err := s.svc.Ledger.RecordTransaction(r.Context(), actorFrom(r.Context()), services.TransactionInput{
		Type:             req.Type,
		Amount:           amount,
		Date:             req.Date,
		Description:      req.Description,
		AccountID:        req.AccountID,
		EnvelopeID:       req.EnvelopeID,
		IncomeCategoryID: req.IncomeCategoryID,
		Cleared:          req.Cleared,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Ledger.GetTransaction(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionPatch
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := req.money()
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.svc.Ledger.UpdateTransaction(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), services.TransactionPatch{
		Amount:              amount,
		Date:                req.Date,
		Description:         req.Description,
		AccountID:           req.AccountID,
		EnvelopeID:          req.EnvelopeID,
		IncomeCategoryID:    req.IncomeCategoryID,
		ClearEnvelope:       req.ClearEnvelope,
		ClearIncomeCategory: req.ClearIncomeCategory,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.DeleteTransaction(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Ledger.ClearTransaction(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := req.required()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Date.IsZero() {
		req.Date = core.DateOf(s.now())
	}
	tr, err := s.svc.Ledger.CreateTransfer(r.Context(), actorFrom(r.Context()), services.TransferInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        amount,
		Date:          req.Date,
		Description:   req.Description,
		Cleared:       req.Cleared,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := s.svc.Ledger.AssignRole(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Role, req.DefaultAccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func queryDate(field, v string) (core.Date, error) {
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, core.Invalid(field, "must be formatted as YYYY-MM-DD")
	}
	return d, nil
}
