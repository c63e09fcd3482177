package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"envelopes/internal/amqp"
	"envelopes/internal/cache"
	"envelopes/internal/core"
	"envelopes/internal/storage"
)

const systemUser = "system"

var admin = core.Actor{UserID: "admin", Role: core.RoleAdmin}

// recordingPublisher keeps every published message in memory.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.MirrorMessage
	err  error
}

func (p *recordingPublisher) PublishMirror(_ context.Context, msg *amqp.MirrorMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) messages() []*amqp.MirrorMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.MirrorMessage(nil), p.msgs...)
}

type testEnv struct {
	repo      *storage.SQLiteRepository
	pub       *recordingPublisher
	ledger    *LedgerService
	budget    *BudgetService
	recurring *RecurringProcessor
	reconcile *ReconcileService
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	env := &testEnv{
		repo: repo,
		pub:  &recordingPublisher{},
		now:  time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	overview := NewOverviewCache(cache.NewLRUCache[core.MonthOverview](16, time.Hour))

	env.ledger = NewLedgerService(repo, env.pub, overview)
	env.ledger.now = clock
	env.budget = NewBudgetService(repo, overview)
	env.budget.now = clock
	env.recurring = NewRecurringProcessor(repo, env.pub, overview, systemUser)
	env.recurring.now = clock
	env.reconcile = NewReconcileService(repo, overview)
	env.reconcile.now = clock
	return env
}

func (e *testEnv) today() core.Date {
	return core.DateOf(e.now)
}

func (e *testEnv) account(t *testing.T, name string, initial int64) core.Account {
	t.Helper()
	a, err := e.ledger.CreateAccount(context.Background(), admin, name, core.AccountChecking, core.Cents(initial))
	require.NoError(t, err)
	return a
}

// envelope creates an active template (if needed), a group and an envelope.
func (e *testEnv) envelope(t *testing.T, name string, budget int64) core.Envelope {
	t.Helper()
	ctx := context.Background()
	active, err := e.budget.ActiveTemplate(ctx, admin)
	require.NoError(t, err)
	if active == nil {
		tpl, err := e.budget.CreateTemplate(ctx, admin, "Budget 2026", true)
		require.NoError(t, err)
		active = &tpl
	}
	g, err := e.budget.CreateGroup(ctx, admin, active.ID, name+" group")
	require.NoError(t, err)
	env, err := e.budget.CreateEnvelope(ctx, admin, g.ID, name, core.Cents(budget))
	require.NoError(t, err)
	return env
}

func (e *testEnv) expense(t *testing.T, actor core.Actor, accountID string, cents int64, date core.Date, envelopeID *string, cleared bool) core.Transaction {
	t.Helper()
	tx, err := e.ledger.RecordTransaction(context.Background(), actor, TransactionInput{
		Type:       core.Expense,
		Amount:     core.Cents(cents),
		Date:       date,
		AccountID:  accountID,
		EnvelopeID: envelopeID,
		Cleared:    cleared,
	})
	require.NoError(t, err)
	return tx
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	a, err := e.repo.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return a.CurrentBalance.Cents
}

var errPublish = errors.New("broker unavailable")
