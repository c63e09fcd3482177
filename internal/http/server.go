package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	applog "envelopes/internal/log"
	"envelopes/internal/services"
)

// Services are the ledger operations the API exposes.
type Services struct {
	Ledger    *services.LedgerService
	Budget    *services.BudgetService
	Recurring *services.RecurringProcessor
	Reconcile *services.ReconcileService
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Logger *applog.Logger
	// Ready is checked by /readyz; nil means always ready.
	Ready Pinger
	// MutationsPerMinute caps writes per user. Zero disables the limit.
	MutationsPerMinute int
	Development        bool
}

type Server struct {
	http.Server
	svc  Services
	opts Options
	now  func() time.Time
}

// NewServer wires the JSON API onto addr.
func NewServer(addr string, svc Services, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	s := &Server{svc: svc, opts: opts, now: time.Now}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(applog.RequestLogger(s.opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(s.opts.Development))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, ProblemDetail{Status: http.StatusNotFound, Title: "Not found", Detail: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, ProblemDetail{Status: http.StatusMethodNotAllowed, Title: "Method not allowed"})
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		if s.opts.MutationsPerMinute > 0 {
			r.Use(onlyMutations(mutationLimit(s.opts.MutationsPerMinute, time.Minute)))
		}
		r.Use(identity(s.svc.Ledger))

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/active", s.handleActiveTemplate)
			r.Patch("/{id}", s.handleRenameTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
			r.Post("/{id}/activate", s.handleActivateTemplate)
			r.Post("/{id}/groups", s.handleCreateGroup)
			r.Get("/{id}/income-categories", s.handleListIncomeCategories)
			r.Post("/{id}/income-categories", s.handleCreateIncomeCategory)
		})
		r.Patch("/groups/{id}", s.handleRenameGroup)
		r.Delete("/groups/{id}", s.handleDeleteGroup)
		r.Post("/groups/{id}/envelopes", s.handleCreateEnvelope)

		r.Get("/envelopes", s.handleListEnvelopes)
		r.Patch("/envelopes/{id}", s.handleUpdateEnvelope)
		r.Post("/envelopes/{id}/archive", s.handleArchiveEnvelope)
		r.Get("/envelopes/{id}/spent", s.handleEnvelopeSpent)

		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts", s.handleCreateAccount)
		r.Post("/accounts/{id}/archive", s.handleArchiveAccount)
		r.Get("/accounts/{id}/balance", s.handleAccountBalance)

		r.Get("/transactions", s.handleListTransactions)
		r.Post("/transactions", s.handleRecordTransaction)
		r.Get("/transactions/{id}", s.handleGetTransaction)
		r.Patch("/transactions/{id}", s.handleUpdateTransaction)
		r.Delete("/transactions/{id}", s.handleDeleteTransaction)
		r.Post("/transactions/{id}/clear", s.handleClearTransaction)
		r.Post("/transfers", s.handleCreateTransfer)

		r.Get("/recurring", s.handleListRules)
		r.Post("/recurring", s.handleCreateRule)
		r.Post("/recurring/run", s.handleRunRecurring)
		r.Post("/recurring/{id}/pause", s.handleSetRuleActive(false))
		r.Post("/recurring/{id}/resume", s.handleSetRuleActive(true))
		r.Delete("/recurring/{id}", s.handleDeleteRule)

		r.Get("/reconciliation", s.handleReconciliation)
		r.Get("/overview", s.handleOverview)
		r.Put("/users/{id}/role", s.handleAssignRole)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			writeProblem(w, ProblemDetail{Status: http.StatusServiceUnavailable, Title: "Not ready", Detail: "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opts.Logger.InfoContext(ctx, "HTTP server shutting down", applog.FieldOperation, applog.OpShutdown)
	return s.Server.Shutdown(ctx)
}
