package core

// EnvelopeSummary is one envelope's budget against what was spent in a period.
type EnvelopeSummary struct {
	EnvelopeID string `json:"envelope_id"`
	Name       string `json:"name"`
	Budget     Money  `json:"budget_cents"`
	Spent      Money  `json:"spent_cents"`
	Remaining  Money  `json:"remaining_cents"` // may be negative when overspent
}

type GroupSummary struct {
	GroupID   string            `json:"group_id"`
	Name      string            `json:"name"`
	Envelopes []EnvelopeSummary `json:"envelopes"`
	Budget    Money             `json:"budget_cents"`
	Spent     Money             `json:"spent_cents"`
}

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Amount     Money  `json:"amount_cents"`
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year        int              `json:"year"`
	Month       int              `json:"month"` // 1-12
	TemplateID  string           `json:"template_id,omitempty"`
	Groups      []GroupSummary   `json:"groups"`
	Income      []CategoryAmount `json:"income"`
	TotalBudget Money            `json:"total_budget_cents"`
	TotalSpent  Money            `json:"total_spent_cents"`
	TotalIncome Money            `json:"total_income_cents"`
}

// Divergence is an account whose stored balance disagrees with its cleared history.
type Divergence struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Stored    Money  `json:"stored_cents"`
	Computed  Money  `json:"computed_cents"`
}
