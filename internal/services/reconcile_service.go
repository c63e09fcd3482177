package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"envelopes/internal/core"
	"envelopes/internal/storage"
)

// ReconcileService answers balance and budget questions from transaction
// history. It never writes.
type ReconcileService struct {
	storage  *storage.SQLiteRepository
	overview *OverviewCache
	now      func() time.Time
}

func NewReconcileService(storage *storage.SQLiteRepository, overview *OverviewCache) *ReconcileService {
	return &ReconcileService{storage: storage, overview: overview, now: time.Now}
}

// AccountBalance is the initial balance plus every cleared transaction dated on
// or before asOf.
func (s *ReconcileService) AccountBalance(ctx context.Context, accountID string, asOf core.Date) (core.Money, error) {
	a, err := s.storage.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	sum, err := s.storage.SumClearedDelta(ctx, accountID, &asOf)
	if err != nil {
		return core.Money{}, err
	}
	return a.InitialBalance.Add(core.Cents(sum)), nil
}

// ProjectedBalance is the current balance with pending transactions applied.
func (s *ReconcileService) ProjectedBalance(ctx context.Context, accountID string) (core.Money, error) {
	a, err := s.storage.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	pending, err := s.storage.SumPendingDelta(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	return a.CurrentBalance.Add(core.Cents(pending)), nil
}

// Check compares each account's stored balance with its cleared history as of
// today. Divergences are reported, never corrected.
func (s *ReconcileService) Check(ctx context.Context) ([]core.Divergence, error) {
	accounts, err := s.storage.ListAccounts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	deltas, err := s.storage.ClearedDeltaByAccount(ctx, core.DateOf(s.now()))
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	var out []core.Divergence
	for _, a := range accounts {
		computed := a.InitialBalance.Add(core.Cents(deltas[a.ID]))
		if computed == a.CurrentBalance {
			continue
		}
		out = append(out, core.Divergence{
			AccountID: a.ID,
			Name:      a.Name,
			Stored:    a.CurrentBalance,
			Computed:  computed,
		})
	}
	if len(out) > 0 {
		slog.WarnContext(ctx, "Balance divergence detected", "accounts", len(out))
	}
	return out, nil
}

// EnvelopeSpent totals expenses, pending and cleared, tagged to the envelope
// and dated in [start, end). Archived envelopes still answer.
func (s *ReconcileService) EnvelopeSpent(ctx context.Context, envelopeID string, start, end core.Date) (core.Money, error) {
	if !start.Before(end) {
		return core.Money{}, core.Invalid("to", "must be after from")
	}
	if _, err := s.storage.GetEnvelope(ctx, envelopeID); err != nil {
		return core.Money{}, err
	}
	sum, err := s.storage.SumEnvelopeSpent(ctx, envelopeID, start, end)
	if err != nil {
		return core.Money{}, err
	}
	return core.Cents(sum), nil
}

// EnvelopeRemaining is the budget minus what was spent in the period. It goes
// negative when the envelope is overspent.
func (s *ReconcileService) EnvelopeRemaining(ctx context.Context, envelopeID string, start, end core.Date) (core.EnvelopeSummary, error) {
	e, err := s.storage.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return core.EnvelopeSummary{}, err
	}
	spent, err := s.EnvelopeSpent(ctx, envelopeID, start, end)
	if err != nil {
		return core.EnvelopeSummary{}, err
	}
	return core.EnvelopeSummary{
		EnvelopeID: e.ID,
		Name:       e.Name,
		Budget:     e.Budget,
		Spent:      spent,
		Remaining:  e.Budget.Sub(spent),
	}, nil
}

// MonthOverview summarizes the active template against a calendar month.
func (s *ReconcileService) MonthOverview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	if month < 1 || month > 12 {
		return core.MonthOverview{}, core.Invalid("month", "must be between 1 and 12")
	}
	return s.overview.Load(ctx, year, month, func(ctx context.Context) (core.MonthOverview, error) {
		return s.buildOverview(ctx, year, month)
	})
}

func (s *ReconcileService) buildOverview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	ov := core.MonthOverview{Year: year, Month: month, Groups: []core.GroupSummary{}, Income: []core.CategoryAmount{}}

	t, err := s.storage.ActiveTemplate(ctx)
	if err != nil {
		return core.MonthOverview{}, err
	}
	if t == nil {
		return ov, nil
	}
	if err := loadTree(ctx, s.storage.Queries, t); err != nil {
		return core.MonthOverview{}, err
	}
	ov.TemplateID = t.ID

	start, end := core.MonthRange(year, month)
	spent, err := s.storage.SpentByEnvelope(ctx, start, end)
	if err != nil {
		return core.MonthOverview{}, err
	}
	income, err := s.storage.IncomeByCategory(ctx, start, end)
	if err != nil {
		return core.MonthOverview{}, err
	}
	categories, err := s.storage.ListIncomeCategories(ctx, t.ID)
	if err != nil {
		return core.MonthOverview{}, err
	}

	for _, g := range t.Groups {
		gs := core.GroupSummary{GroupID: g.ID, Name: g.Name, Envelopes: []core.EnvelopeSummary{}}
		for _, e := range g.Envelopes {
			sp := core.Cents(spent[e.ID])
			gs.Envelopes = append(gs.Envelopes, core.EnvelopeSummary{
				EnvelopeID: e.ID,
				Name:       e.Name,
				Budget:     e.Budget,
				Spent:      sp,
				Remaining:  e.Budget.Sub(sp),
			})
			gs.Budget = gs.Budget.Add(e.Budget)
			gs.Spent = gs.Spent.Add(sp)
		}
		ov.Groups = append(ov.Groups, gs)
		ov.TotalBudget = ov.TotalBudget.Add(gs.Budget)
		ov.TotalSpent = ov.TotalSpent.Add(gs.Spent)
	}

	for _, c := range categories {
		amt := core.Cents(income[c.ID])
		ov.Income = append(ov.Income, core.CategoryAmount{CategoryID: c.ID, Name: c.Name, Amount: amt})
		ov.TotalIncome = ov.TotalIncome.Add(amt)
	}
	return ov, nil
}
