package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/core"
	"envelopes/internal/storage"
)

func TestClearedAndPendingBalances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checking := env.account(t, "Checking", 500000)

	env.expense(t, admin, checking.ID, 12000, env.today(), nil, true)
	assert.Equal(t, int64(488000), env.balance(t, checking.ID))

	env.expense(t, admin, checking.ID, 5000, env.today(), nil, false)
	assert.Equal(t, int64(488000), env.balance(t, checking.ID))

	projected, err := env.reconcile.ProjectedBalance(ctx, checking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(483000), projected.Cents)

	computed, err := env.reconcile.AccountBalance(ctx, checking.ID, env.today())
	require.NoError(t, err)
	assert.Equal(t, int64(488000), computed.Cents)
}

func TestBalanceMatchesHistoryAfterMixedOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 100000)
	day := env.today()

	a := env.expense(t, admin, acc.ID, 2500, day, nil, false)
	b := env.expense(t, admin, acc.ID, 4000, day.AddDays(-3), nil, true)
	income, err := env.ledger.RecordTransaction(ctx, admin, TransactionInput{
		Type: core.Income, Amount: core.Cents(90000), Date: day.AddDays(-1), AccountID: acc.ID,
	})
	require.NoError(t, err)

	_, err = env.ledger.ClearTransaction(ctx, admin, a.ID)
	require.NoError(t, err)
	_, err = env.ledger.ClearTransaction(ctx, admin, income.ID)
	require.NoError(t, err)
	require.NoError(t, env.ledger.DeleteTransaction(ctx, admin, b.ID))
	pending := env.expense(t, admin, acc.ID, 700, day, nil, false)
	require.NoError(t, env.ledger.DeleteTransaction(ctx, admin, pending.ID))

	assert.Equal(t, int64(100000-2500+90000), env.balance(t, acc.ID))

	computed, err := env.reconcile.AccountBalance(ctx, acc.ID, day.AddDays(365))
	require.NoError(t, err)
	assert.Equal(t, env.balance(t, acc.ID), computed.Cents)

	divergences, err := env.reconcile.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, divergences)
}

func TestFutureDatedTransactionsCannotClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checking := env.account(t, "Checking", 500000)
	savings := env.account(t, "Savings", 0)
	future := env.today().AddDays(10)

	_, err := env.ledger.RecordTransaction(ctx, admin, TransactionInput{
		Type: core.Expense, Amount: core.Cents(12000), Date: future, AccountID: checking.ID, Cleared: true,
	})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "date", ve.Field)

	_, err = env.ledger.CreateTransfer(ctx, admin, TransferInput{
		FromAccountID: checking.ID, ToAccountID: savings.ID, Amount: core.Cents(100), Date: future, Cleared: true,
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	pending := env.expense(t, admin, checking.ID, 12000, future, nil, false)
	_, err = env.ledger.ClearTransaction(ctx, admin, pending.ID)
	assert.ErrorIs(t, err, core.ErrValidation)

	tr, err := env.ledger.CreateTransfer(ctx, admin, TransferInput{
		FromAccountID: checking.ID, ToAccountID: savings.ID, Amount: core.Cents(100), Date: future,
	})
	require.NoError(t, err)
	_, err = env.ledger.ClearTransaction(ctx, admin, tr.In.ID)
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.Equal(t, int64(500000), env.balance(t, checking.ID))
	assert.Equal(t, int64(0), env.balance(t, savings.ID))
	balance, err := env.reconcile.AccountBalance(ctx, checking.ID, env.today())
	require.NoError(t, err)
	assert.Equal(t, env.balance(t, checking.ID), balance.Cents)

	// Once the date arrives the transaction clears and history agrees again.
	env.now = env.now.AddDate(0, 0, 10)
	_, err = env.ledger.ClearTransaction(ctx, admin, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(488000), env.balance(t, checking.ID))
	balance, err = env.reconcile.AccountBalance(ctx, checking.ID, env.today())
	require.NoError(t, err)
	assert.Equal(t, int64(488000), balance.Cents)

	divergences, err := env.reconcile.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, divergences)
}

func TestCheckReconcilesAsOfToday(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 500000)

	// A cleared row dated after today written by another tool.
	now := env.now
	row := core.Transaction{
		ID: "imported-1", Type: core.Expense, Amount: core.Cents(12000), Date: env.today().AddDays(10),
		AccountID: acc.ID, Status: core.Cleared, CreatedBy: "import", ClearedBy: ptr("import"), ClearedAt: &now,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if err := q.InsertTransaction(ctx, row); err != nil {
			return err
		}
		return q.AdjustAccountBalance(ctx, acc.ID, row.Delta(), now)
	}))

	divergences, err := env.reconcile.Check(ctx)
	require.NoError(t, err)
	require.Len(t, divergences, 1)
	assert.Equal(t, int64(488000), divergences[0].Stored.Cents)
	assert.Equal(t, int64(500000), divergences[0].Computed.Cents)
}

func TestClearTransactionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 10000)
	tx := env.expense(t, admin, acc.ID, 1000, env.today(), nil, false)

	first, err := env.ledger.ClearTransaction(ctx, admin, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ClearedAt)
	assert.Equal(t, core.Cleared, first.Status)

	env.now = env.now.Add(2 * time.Hour)
	second, err := env.ledger.ClearTransaction(ctx, admin, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, second.ClearedAt)
	assert.True(t, first.ClearedAt.Equal(*second.ClearedAt))
	assert.Equal(t, int64(9000), env.balance(t, acc.ID))
}

func TestTransferLegsBalanceOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checking := env.account(t, "Checking", 500000)
	savings := env.account(t, "Savings", 1000000)

	tr, err := env.ledger.CreateTransfer(ctx, admin, TransferInput{
		FromAccountID: checking.ID,
		ToAccountID:   savings.ID,
		Amount:        core.Cents(25000),
		Date:          env.today(),
		Description:   "Monthly savings",
	})
	require.NoError(t, err)

	assert.Equal(t, tr.Out.Amount, tr.In.Amount)
	assert.Equal(t, int64(0), tr.Out.Delta()+tr.In.Delta())
	assert.Equal(t, tr.PairID, *tr.Out.TransferPairID)
	assert.Equal(t, tr.PairID, *tr.In.TransferPairID)

	// Clearing one leg clears both.
	_, err = env.ledger.ClearTransaction(ctx, admin, tr.In.ID)
	require.NoError(t, err)
	out, err := env.repo.GetTransaction(ctx, tr.Out.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cleared, out.Status)
	assert.Equal(t, int64(475000), env.balance(t, checking.ID))
	assert.Equal(t, int64(1025000), env.balance(t, savings.ID))

	// Deleting one leg removes both and reverses the deltas.
	require.NoError(t, env.ledger.DeleteTransaction(ctx, admin, tr.Out.ID))
	_, err = env.repo.GetTransaction(ctx, tr.In.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, int64(500000), env.balance(t, checking.ID))
	assert.Equal(t, int64(1000000), env.balance(t, savings.ID))
}

func TestTransferValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checking := env.account(t, "Checking", 0)

	_, err := env.ledger.CreateTransfer(ctx, admin, TransferInput{
		FromAccountID: checking.ID, ToAccountID: checking.ID, Amount: core.Cents(100), Date: env.today(),
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	member := core.Actor{UserID: "m", Role: core.RoleMember, DefaultAccountID: &checking.ID}
	_, err = env.ledger.CreateTransfer(ctx, member, TransferInput{
		FromAccountID: checking.ID, ToAccountID: "other", Amount: core.Cents(100), Date: env.today(),
	})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestTransferLegsCannotBeEdited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, "A", 0)
	b := env.account(t, "B", 0)

	tr, err := env.ledger.CreateTransfer(ctx, admin, TransferInput{
		FromAccountID: a.ID, ToAccountID: b.ID, Amount: core.Cents(100), Date: env.today(),
	})
	require.NoError(t, err)

	amount := core.Cents(200)
	_, err = env.ledger.UpdateTransaction(ctx, admin, tr.Out.ID, TransactionPatch{Amount: &amount})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordTransactionReferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 0)
	groceries := env.envelope(t, "Groceries", 80000)

	_, err := env.ledger.RecordTransaction(ctx, admin, TransactionInput{
		Type: core.Income, Amount: core.Cents(100), Date: env.today(), AccountID: acc.ID, EnvelopeID: &groceries.ID,
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	missing := "missing"
	_, err = env.ledger.RecordTransaction(ctx, admin, TransactionInput{
		Type: core.Expense, Amount: core.Cents(100), Date: env.today(), AccountID: acc.ID, EnvelopeID: &missing,
	})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = env.ledger.RecordTransaction(ctx, admin, TransactionInput{
		Type: core.Expense, Amount: core.Cents(0), Date: env.today(), AccountID: acc.ID,
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	require.NoError(t, env.budget.ArchiveEnvelope(ctx, admin, groceries.ID))
	_, err = env.ledger.RecordTransaction(ctx, admin, TransactionInput{
		Type: core.Expense, Amount: core.Cents(100), Date: env.today(), AccountID: acc.ID, EnvelopeID: &groceries.ID,
	})
	assert.ErrorIs(t, err, core.ErrArchived)

	require.NoError(t, env.ledger.ArchiveAccount(ctx, admin, acc.ID))
	_, err = env.ledger.RecordTransaction(ctx, admin, TransactionInput{
		Type: core.Expense, Amount: core.Cents(100), Date: env.today(), AccountID: acc.ID,
	})
	assert.ErrorIs(t, err, core.ErrArchived)
}

func TestMemberPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checking := env.account(t, "Checking", 500000)
	card := env.account(t, "Credit Card", 0)
	member := core.Actor{UserID: "member", Role: core.RoleMember, DefaultAccountID: &checking.ID}

	// Pinned to the default account when none is named.
	tx := env.expense(t, member, "", 1500, env.today(), nil, false)
	assert.Equal(t, checking.ID, tx.AccountID)
	assert.Equal(t, "member", tx.CreatedBy)

	_, err := env.ledger.RecordTransaction(ctx, member, TransactionInput{
		Type: core.Expense, Amount: core.Cents(100), Date: env.today(), AccountID: card.ID,
	})
	assert.ErrorIs(t, err, core.ErrForbidden)

	homeless := core.Actor{UserID: "nomad", Role: core.RoleMember}
	_, err = env.ledger.RecordTransaction(ctx, homeless, TransactionInput{
		Type: core.Expense, Amount: core.Cents(100), Date: env.today(),
	})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = env.ledger.CreateAccount(ctx, member, "Mine", core.AccountSavings, core.Cents(0))
	assert.ErrorIs(t, err, core.ErrForbidden)

	// Another user's transaction cannot be edited by a member.
	adminTx := env.expense(t, admin, checking.ID, 300, env.today(), nil, false)
	desc := "mine now"
	_, err = env.ledger.UpdateTransaction(ctx, member, adminTx.ID, TransactionPatch{Description: &desc})
	assert.ErrorIs(t, err, core.ErrForbidden)

	// Members delete their own pending transactions but not cleared ones.
	_, err = env.ledger.ClearTransaction(ctx, member, tx.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, env.ledger.DeleteTransaction(ctx, member, tx.ID), core.ErrForbidden)

	own := env.expense(t, member, "", 200, env.today(), nil, false)
	require.NoError(t, env.ledger.DeleteTransaction(ctx, member, own.ID))

	list, err := env.ledger.ListTransactions(ctx, member, storage.TransactionFilter{})
	require.NoError(t, err)
	for _, tr := range list {
		assert.Equal(t, checking.ID, tr.AccountID)
	}

	_, err = env.ledger.ListAccounts(ctx, core.Actor{}, false)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestUpdatePendingTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 0)
	dining := env.envelope(t, "Dining Out", 20000)
	tx := env.expense(t, admin, acc.ID, 1000, env.today(), nil, false)

	amount := core.Cents(1250)
	desc := "Pizza"
	updated, err := env.ledger.UpdateTransaction(ctx, admin, tx.ID, TransactionPatch{
		Amount: &amount, Description: &desc, EnvelopeID: &dining.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1250), updated.Amount.Cents)
	assert.Equal(t, dining.ID, *updated.EnvelopeID)

	stored, err := env.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pizza", stored.Description)

	_, err = env.ledger.ClearTransaction(ctx, admin, tx.ID)
	require.NoError(t, err)
	_, err = env.ledger.UpdateTransaction(ctx, admin, tx.ID, TransactionPatch{Description: &desc})
	assert.ErrorIs(t, err, core.ErrImmutable)
}

func TestMutationsWriteOutboxAndPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 0)

	tx := env.expense(t, admin, acc.ID, 1000, env.today(), nil, false)
	require.NoError(t, env.ledger.DeleteTransaction(ctx, admin, tx.ID))

	pending, err := env.repo.PendingMirror(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, storage.MirrorUpsert, pending[0].Action)
	assert.Equal(t, storage.MirrorDelete, pending[1].Action)

	msgs := env.pub.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, pending[0].ID, msgs[0].OutboxID)
	assert.Equal(t, tx.ID, msgs[1].TransactionID)

	// A broker failure never fails the ledger call.
	env.pub.err = errPublish
	_ = env.expense(t, admin, acc.ID, 500, env.today(), nil, true)
	assert.Equal(t, int64(-500), env.balance(t, acc.ID))
}

func TestRolesResolveActors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checking := env.account(t, "Checking", 0)

	_, err := env.ledger.ResolveActor(ctx, "stranger")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = env.ledger.ResolveActor(ctx, "")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	_, err = env.ledger.AssignRole(ctx, admin, "kid", core.RoleMember, &checking.ID)
	require.NoError(t, err)

	actor, err := env.ledger.ResolveActor(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, core.RoleMember, actor.Role)
	require.NotNil(t, actor.DefaultAccountID)
	assert.Equal(t, checking.ID, *actor.DefaultAccountID)

	_, err = env.ledger.AssignRole(ctx, actor, "kid", core.RoleAdmin, nil)
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = env.ledger.AssignRole(ctx, admin, "kid", core.Role("owner"), nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}
