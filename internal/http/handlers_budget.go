package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type templateRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	IsActive bool   `json:"is_active"`
}

type nameRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type envelopeRequest struct {
	Name string `json:"name" validate:"required,max=100"`
	amountField
}

type envelopePatch struct {
	Name *string `json:"name,omitempty" validate:"omitnil,min=1,max=100"`
	amountField
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := s.svc.Budget.ListTemplates(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.svc.Budget.CreateTemplate(r.Context(), actorFrom(r.Context()), req.Name, req.IsActive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleActiveTemplate returns the active template tree, or null when none is active.
func (s *Server) handleActiveTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Budget.ActiveTemplate(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRenameTemplate(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Budget.RenameTemplate(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Budget.DeleteTemplate(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Budget.ActivateTemplate(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.svc.Budget.CreateGroup(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Budget.RenameGroup(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Budget.DeleteGroup(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	var req envelopeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	budget, err := req.required()
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.svc.Budget.CreateEnvelope(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Name, budget)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	es, err := s.svc.Budget.ActiveEnvelopes(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, es)
}

func (s *Server) handleUpdateEnvelope(w http.ResponseWriter, r *http.Request) {
	var req envelopePatch
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	budget, err := req.money()
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.svc.Budget.UpdateEnvelope(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Name, budget)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleArchiveEnvelope(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Budget.ArchiveEnvelope(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListIncomeCategories(w http.ResponseWriter, r *http.Request) {
	cs, err := s.svc.Budget.ListIncomeCategories(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleCreateIncomeCategory(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.svc.Budget.CreateIncomeCategory(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
