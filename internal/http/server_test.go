package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/cache"
	"envelopes/internal/core"
	"envelopes/internal/services"
	"envelopes/internal/storage"
)

const adminID = "admin"

type apiFixture struct {
	repo    *storage.SQLiteRepository
	server  *Server
	handler http.Handler
}

func newAPI(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.UpsertUserRole(context.Background(), core.UserRole{
		UserID: adminID, Role: core.RoleAdmin, UpdatedAt: time.Now().UTC(),
	}))

	overview := services.NewOverviewCache(cache.NewLRUCache[core.MonthOverview](8, time.Minute))
	svc := Services{
		Ledger:    services.NewLedgerService(repo, nil, overview),
		Budget:    services.NewBudgetService(repo, overview),
		Recurring: services.NewRecurringProcessor(repo, nil, overview, adminID),
		Reconcile: services.NewReconcileService(repo, overview),
	}
	srv := NewServer(":0", svc, opts)
	srv.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return &apiFixture{repo: repo, server: srv, handler: srv.Handler}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) mustCreate(t *testing.T, path string, body any) map[string]any {
	t.Helper()
	rec := f.do(t, http.MethodPost, path, adminID, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeInto[map[string]any](t, rec)
}

func (f *apiFixture) account(t *testing.T, name, initial string) string {
	t.Helper()
	return f.mustCreate(t, "/api/accounts", map[string]any{"name": name, "type": "checking", "initial_balance": initial})["id"].(string)
}

func (f *apiFixture) envelope(t *testing.T, name, amount string) string {
	t.Helper()
	tmpl := f.mustCreate(t, "/api/templates", map[string]any{"name": "Budget 2026", "is_active": true})
	group := f.mustCreate(t, "/api/templates/"+tmpl["id"].(string)+"/groups", map[string]any{"name": "Discretionary"})
	return f.mustCreate(t, "/api/groups/"+group["id"].(string)+"/envelopes", map[string]any{"name": name, "amount": amount})["id"].(string)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealthAndReadiness(t *testing.T) {
	f := newAPI(t, Options{})
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Frame-Options"))

	f = newAPI(t, Options{})
	f.server.opts.Ready = f.repo
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil).Code)

	f.server.opts.Ready = failingPinger{}
	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestIdentityRequired(t *testing.T) {
	f := newAPI(t, Options{})

	rec := f.do(t, http.MethodGet, "/api/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	p := decodeInto[ProblemDetail](t, rec)
	assert.Equal(t, http.StatusUnauthorized, p.Status)

	rec = f.do(t, http.MethodGet, "/api/accounts", "stranger", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBalancesThroughAPI(t *testing.T) {
	f := newAPI(t, Options{})
	acc := f.account(t, "Checking", "$5,000.00")
	groceries := f.envelope(t, "Groceries", "800")

	tx := f.mustCreate(t, "/api/transactions", map[string]any{
		"type": "expense", "amount": "$120.00", "date": "2026-03-10",
		"account_id": acc, "envelope_id": groceries, "cleared": true,
	})
	assert.Equal(t, "cleared", tx["status"])
	f.mustCreate(t, "/api/transactions", map[string]any{
		"type": "expense", "amount_cents": 5000, "date": "2026-03-12",
		"account_id": acc, "envelope_id": groceries,
	})

	rec := f.do(t, http.MethodGet, "/api/accounts/"+acc+"/balance", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bal := decodeInto[map[string]any](t, rec)
	assert.Equal(t, float64(488000), bal["balance_cents"])
	assert.Equal(t, float64(483000), bal["projected_cents"])
	assert.Equal(t, "$4,880.00", bal["balance_display"])

	rec = f.do(t, http.MethodGet, "/api/accounts/"+acc+"/balance?as_of=2026-03-01", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(500000), decodeInto[map[string]any](t, rec)["balance_cents"])

	rec = f.do(t, http.MethodGet, "/api/envelopes/"+groceries+"/spent?from=2026-03-01&to=2026-04-01", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(17000), decodeInto[map[string]any](t, rec)["spent_cents"])

	rec = f.do(t, http.MethodGet, "/api/transactions?status=pending", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeInto[[]core.Transaction](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/reconciliation", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeInto[map[string]any](t, rec)["balanced"])
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t, Options{})
	acc := f.account(t, "Checking", "0")
	groceries := f.envelope(t, "Groceries", "800")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		field  string
	}{
		{
			name: "missing type", method: http.MethodPost, path: "/api/transactions",
			body:   map[string]any{"amount": "10", "account_id": acc},
			status: http.StatusBadRequest, field: "type",
		},
		{
			name: "unparseable amount", method: http.MethodPost, path: "/api/transactions",
			body:   map[string]any{"type": "expense", "amount": "ten dollars", "account_id": acc},
			status: http.StatusBadRequest, field: "amount",
		},
		{
			name: "income tagged with envelope", method: http.MethodPost, path: "/api/transactions",
			body:   map[string]any{"type": "income", "amount": "10", "account_id": acc, "envelope_id": groceries},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown field", method: http.MethodPost, path: "/api/accounts",
			body:   map[string]any{"name": "X", "type": "checking", "colour": "red"},
			status: http.StatusBadRequest, field: "body",
		},
		{
			name: "cleared in the future", method: http.MethodPost, path: "/api/transactions",
			body:   map[string]any{"type": "expense", "amount": "10", "account_id": acc, "date": "2099-01-01", "cleared": true},
			status: http.StatusBadRequest, field: "date",
		},
		{
			name: "missing envelope", method: http.MethodPatch, path: "/api/envelopes/nope",
			body:   map[string]any{"amount": "10"},
			status: http.StatusNotFound,
		},
		{
			name: "bad month", method: http.MethodGet, path: "/api/overview?year=2026&month=13",
			status: http.StatusBadRequest, field: "month",
		},
		{
			name: "bad date", method: http.MethodGet, path: "/api/accounts/" + acc + "/balance?as_of=03/01/2026",
			status: http.StatusBadRequest, field: "as_of",
		},
		{
			name: "unknown route", method: http.MethodGet, path: "/api/nothing",
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, adminID, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			p := decodeInto[ProblemDetail](t, rec)
			assert.Equal(t, tt.status, p.Status)
			if tt.field != "" {
				assert.Equal(t, tt.field, p.Field)
			}
		})
	}
}

func TestClearedTransactionIsImmutable(t *testing.T) {
	f := newAPI(t, Options{})
	acc := f.account(t, "Checking", "100")
	tx := f.mustCreate(t, "/api/transactions", map[string]any{
		"type": "expense", "amount": "12.50", "account_id": acc,
	})
	id := tx["id"].(string)
	assert.Equal(t, "2026-03-15", tx["date"])

	rec := f.do(t, http.MethodPost, "/api/transactions/"+id+"/clear", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/transactions/"+id, adminID, map[string]any{"description": "edited"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/transactions/"+id, adminID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMemberPermissions(t *testing.T) {
	f := newAPI(t, Options{})
	checking := f.account(t, "Checking", "1000")
	savings := f.account(t, "Savings", "1000")

	rec := f.do(t, http.MethodPut, "/api/users/kim/role", adminID, map[string]any{"role": "member", "default_account_id": checking})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/accounts", "kim", map[string]any{"name": "Mine", "type": "savings"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/transactions", "kim", map[string]any{"type": "expense", "amount": "5"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, checking, decodeInto[core.Transaction](t, rec).AccountID)

	rec = f.do(t, http.MethodGet, "/api/accounts/"+savings+"/balance", "kim", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/reconciliation", "kim", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTransfersAndTemplates(t *testing.T) {
	f := newAPI(t, Options{})
	from := f.account(t, "Checking", "1000")
	to := f.account(t, "Savings", "0")

	rec := f.do(t, http.MethodPost, "/api/transfers", adminID, map[string]any{
		"from_account_id": from, "to_account_id": to, "amount": "250", "cleared": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decodeInto[services.Transfer](t, rec)
	assert.Equal(t, tr.Out.Amount, tr.In.Amount)

	rec = f.do(t, http.MethodGet, "/api/templates/active", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	a := f.mustCreate(t, "/api/templates", map[string]any{"name": "A", "is_active": true})
	b := f.mustCreate(t, "/api/templates", map[string]any{"name": "B"})
	rec = f.do(t, http.MethodPost, "/api/templates/"+b["id"].(string)+"/activate", adminID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/templates/active", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active := decodeInto[core.BudgetTemplate](t, rec)
	assert.Equal(t, b["id"], active.ID)
	assert.NotEqual(t, a["id"], active.ID)
}

func TestRecurringRunAndOverview(t *testing.T) {
	f := newAPI(t, Options{})
	acc := f.account(t, "Checking", "0")
	groceries := f.envelope(t, "Groceries", "800")

	f.mustCreate(t, "/api/recurring", map[string]any{
		"type": "expense", "amount": "10", "frequency": "monthly", "day_of_month": 1,
		"start_date": "2026-01-01", "account_id": acc, "envelope_id": groceries,
	})
	rec := f.do(t, http.MethodPost, "/api/recurring/run", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeInto[services.GenerationResult](t, rec)
	assert.Positive(t, first.Created)

	rec = f.do(t, http.MethodPost, "/api/recurring/run", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeInto[services.GenerationResult](t, rec).Created)

	rec = f.do(t, http.MethodGet, "/api/overview?year=2026&month=3", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ov := decodeInto[core.MonthOverview](t, rec)
	assert.Equal(t, int64(80000), ov.TotalBudget.Cents)
	assert.Equal(t, int64(1000), ov.TotalSpent.Cents)
}

func TestMutationRateLimit(t *testing.T) {
	f := newAPI(t, Options{MutationsPerMinute: 2})
	body := map[string]any{"name": "T", "type": "checking"}

	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/accounts", adminID, body).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/accounts", adminID, body).Code)
	rec := f.do(t, http.MethodPost, "/api/accounts", adminID, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/accounts", adminID, nil).Code)
}
