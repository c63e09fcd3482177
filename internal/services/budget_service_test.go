package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/core"
)

func activeIDs(t *testing.T, env *testEnv) []string {
	t.Helper()
	templates, err := env.budget.ListTemplates(context.Background(), admin)
	require.NoError(t, err)
	var ids []string
	for _, tpl := range templates {
		if tpl.IsActive {
			ids = append(ids, tpl.ID)
		}
	}
	return ids
}

func TestActivateTemplateKeepsSingleActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.budget.CreateTemplate(ctx, admin, "A", true)
	require.NoError(t, err)
	b, err := env.budget.CreateTemplate(ctx, admin, "B", false)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, activeIDs(t, env))

	require.NoError(t, env.budget.ActivateTemplate(ctx, admin, b.ID))
	assert.Equal(t, []string{b.ID}, activeIDs(t, env))

	// Creating an active template takes over.
	c, err := env.budget.CreateTemplate(ctx, admin, "C", true)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, activeIDs(t, env))

	// A missing target changes nothing.
	err = env.budget.ActivateTemplate(ctx, admin, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, []string{c.ID}, activeIDs(t, env))
}

func TestActiveTemplateAbsentIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tpl, err := env.budget.ActiveTemplate(ctx, admin)
	require.NoError(t, err)
	assert.Nil(t, tpl)

	envs, err := env.budget.ActiveEnvelopes(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestActiveTemplateTreeOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tpl, err := env.budget.CreateTemplate(ctx, admin, "Budget 2026", true)
	require.NoError(t, err)
	bills, err := env.budget.CreateGroup(ctx, admin, tpl.ID, "Bills")
	require.NoError(t, err)
	fun, err := env.budget.CreateGroup(ctx, admin, tpl.ID, "Discretionary")
	require.NoError(t, err)
	assert.Equal(t, 1, bills.SortOrder)
	assert.Equal(t, 2, fun.SortOrder)

	rent, err := env.budget.CreateEnvelope(ctx, admin, bills.ID, "Rent", core.Cents(200000))
	require.NoError(t, err)
	utilities, err := env.budget.CreateEnvelope(ctx, admin, bills.ID, "Utilities", core.Cents(20000))
	require.NoError(t, err)
	internet, err := env.budget.CreateEnvelope(ctx, admin, bills.ID, "Internet", core.Cents(8000))
	require.NoError(t, err)
	_, err = env.budget.CreateEnvelope(ctx, admin, fun.ID, "Dining Out", core.Cents(20000))
	require.NoError(t, err)
	assert.Equal(t, 3, internet.SortOrder)

	require.NoError(t, env.budget.ArchiveEnvelope(ctx, admin, utilities.ID))

	active, err := env.budget.ActiveTemplate(ctx, admin)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Len(t, active.Groups, 2)
	assert.Equal(t, "Bills", active.Groups[0].Name)
	require.Len(t, active.Groups[0].Envelopes, 2)
	assert.Equal(t, rent.ID, active.Groups[0].Envelopes[0].ID)
	assert.Equal(t, internet.ID, active.Groups[0].Envelopes[1].ID)
	assert.Len(t, active.Groups[1].Envelopes, 1)
}

func TestArchivedEnvelopeStillReportsSpent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 0)
	groceries := env.envelope(t, "Groceries", 80000)

	env.expense(t, admin, acc.ID, 10000, env.today(), &groceries.ID, false)
	env.expense(t, admin, acc.ID, 5000, env.today(), &groceries.ID, true)

	require.NoError(t, env.budget.ArchiveEnvelope(ctx, admin, groceries.ID))
	require.NoError(t, env.budget.ArchiveEnvelope(ctx, admin, groceries.ID))

	active, err := env.budget.ActiveEnvelopes(ctx, admin)
	require.NoError(t, err)
	for _, e := range active {
		assert.NotEqual(t, groceries.ID, e.ID)
	}

	start, end := core.MonthRange(2026, 3)
	spent, err := env.reconcile.EnvelopeSpent(ctx, groceries.ID, start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), spent.Cents)
}

func TestUpdateEnvelope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.envelope(t, "Entertainment", 15000)

	budget := core.Cents(17500)
	updated, err := env.budget.UpdateEnvelope(ctx, admin, e.ID, nil, &budget)
	require.NoError(t, err)
	assert.Equal(t, "Entertainment", updated.Name)
	assert.Equal(t, int64(17500), updated.Budget.Cents)

	negative := core.Cents(-1)
	_, err = env.budget.UpdateEnvelope(ctx, admin, e.ID, nil, &negative)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = env.budget.UpdateEnvelope(ctx, admin, "missing", nil, &budget)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteTemplateKeepsTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.account(t, "Checking", 0)
	groceries := env.envelope(t, "Groceries", 80000)
	tx := env.expense(t, admin, acc.ID, 1000, env.today(), &groceries.ID, false)

	active, err := env.budget.ActiveTemplate(ctx, admin)
	require.NoError(t, err)
	require.NoError(t, env.budget.DeleteTemplate(ctx, admin, active.ID))

	_, err = env.repo.GetEnvelope(ctx, groceries.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	stored, err := env.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.EnvelopeID)
}

func TestBudgetRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := core.Actor{UserID: "member", Role: core.RoleMember}

	_, err := env.budget.CreateTemplate(ctx, member, "Mine", true)
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = env.budget.CreateTemplate(ctx, admin, "   ", false)
	assert.ErrorIs(t, err, core.ErrValidation)

	// Members can read the active template.
	_, err = env.budget.ActiveTemplate(ctx, member)
	assert.NoError(t, err)
}

func TestIncomeCategories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl, err := env.budget.CreateTemplate(ctx, admin, "Budget", true)
	require.NoError(t, err)

	for _, name := range []string{"Salary - Main", "Freelance"} {
		_, err := env.budget.CreateIncomeCategory(ctx, admin, tpl.ID, name)
		require.NoError(t, err)
	}
	_, err = env.budget.CreateIncomeCategory(ctx, admin, "missing", "Gifts")
	assert.ErrorIs(t, err, core.ErrNotFound)

	cats, err := env.budget.ListIncomeCategories(ctx, admin, tpl.ID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Freelance", cats[0].Name)
}
