// Package seed loads the starter household: users, accounts and an active
// budget template.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"envelopes/internal/core"
	"envelopes/internal/services"
	"envelopes/internal/storage"
)

type Users struct {
	System string
	Admin  string
	Member string
}

type envelopeSeed struct {
	name  string
	cents int64
}

type groupSeed struct {
	name      string
	envelopes []envelopeSeed
}

var (
	accountSeeds = []struct {
		name  string
		typ   core.AccountType
		cents int64
	}{
		{"Checking", core.AccountChecking, 500000},
		{"Credit Card", core.AccountCredit, 0},
		{"Savings", core.AccountSavings, 1000000},
	}

	groupSeeds = []groupSeed{
		{"Bills", []envelopeSeed{{"Mortgage/Rent", 200000}, {"Utilities", 20000}, {"Internet", 8000}}},
		{"Discretionary", []envelopeSeed{{"Groceries", 80000}, {"Dining Out", 20000}, {"Entertainment", 15000}}},
		{"Savings Goals", []envelopeSeed{{"Emergency Fund", 50000}, {"Vacation", 30000}}},
	}

	incomeSeeds = []string{"Salary - Main", "Freelance", "Side Business"}
)

// Result reports what Run created. Skipped is true when the store was
// already seeded.
type Result struct {
	Skipped    bool
	Accounts   int
	Envelopes  int
	TemplateID string
}

// Run seeds an empty store. A store whose system user already has a role is
// left untouched.
func Run(ctx context.Context, repo *storage.SQLiteRepository, users Users, year int) (Result, error) {
	if users.System == "" || users.Admin == "" {
		return Result{}, errors.New("seed: system and admin user ids are required")
	}
	_, err := repo.GetUserRole(ctx, users.System)
	if err == nil {
		slog.InfoContext(ctx, "Database already seeded (system user exists), skipping", "user_id", users.System)
		return Result{Skipped: true}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return Result{}, fmt.Errorf("seed: look up system user: %w", err)
	}

	now := time.Now().UTC()
	for _, id := range []string{users.System, users.Admin} {
		if err := repo.UpsertUserRole(ctx, core.UserRole{UserID: id, Role: core.RoleAdmin, UpdatedAt: now}); err != nil {
			return Result{}, fmt.Errorf("seed: admin role for %s: %w", id, err)
		}
	}
	actor := core.Actor{UserID: users.System, Role: core.RoleAdmin}

	ledger := services.NewLedgerService(repo, nil, nil)
	budget := services.NewBudgetService(repo, nil)

	var res Result
	var checkingID string
	for _, a := range accountSeeds {
		acc, err := ledger.CreateAccount(ctx, actor, a.name, a.typ, core.Cents(a.cents))
		if err != nil {
			return res, fmt.Errorf("seed: account %s: %w", a.name, err)
		}
		if a.typ == core.AccountChecking {
			checkingID = acc.ID
		}
		res.Accounts++
	}

	if users.Member != "" {
		if _, err := ledger.AssignRole(ctx, actor, users.Member, core.RoleMember, &checkingID); err != nil {
			return res, fmt.Errorf("seed: member role: %w", err)
		}
	}

	tmpl, err := budget.CreateTemplate(ctx, actor, fmt.Sprintf("Budget %d", year), true)
	if err != nil {
		return res, fmt.Errorf("seed: template: %w", err)
	}
	res.TemplateID = tmpl.ID

	for _, g := range groupSeeds {
		group, err := budget.CreateGroup(ctx, actor, tmpl.ID, g.name)
		if err != nil {
			return res, fmt.Errorf("seed: group %s: %w", g.name, err)
		}
		for _, e := range g.envelopes {
			if _, err := budget.CreateEnvelope(ctx, actor, group.ID, e.name, core.Cents(e.cents)); err != nil {
				return res, fmt.Errorf("seed: envelope %s: %w", e.name, err)
			}
			res.Envelopes++
		}
	}

	for _, name := range incomeSeeds {
		if _, err := budget.CreateIncomeCategory(ctx, actor, tmpl.ID, name); err != nil {
			return res, fmt.Errorf("seed: income category %s: %w", name, err)
		}
	}

	slog.InfoContext(ctx, "Database seeded",
		"accounts", res.Accounts,
		"envelopes", res.Envelopes,
		"template_id", res.TemplateID)
	return res, nil
}
