package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"envelopes/internal/core"
	"envelopes/internal/storage"
)

// BudgetService manages budget templates, their envelope groups, envelopes and
// income categories. Only one template is active at a time.
type BudgetService struct {
	storage  *storage.SQLiteRepository
	overview *OverviewCache
	now      func() time.Time
}

func NewBudgetService(storage *storage.SQLiteRepository, overview *OverviewCache) *BudgetService {
	return &BudgetService{storage: storage, overview: overview, now: time.Now}
}

// Templates

func (s *BudgetService) CreateTemplate(ctx context.Context, actor core.Actor, name string, activate bool) (core.BudgetTemplate, error) {
	if err := actor.RequireAdmin("create template"); err != nil {
		return core.BudgetTemplate{}, err
	}
	if err := core.ValidateName("name", name); err != nil {
		return core.BudgetTemplate{}, err
	}

	now := s.now().UTC()
	t := core.BudgetTemplate{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if err := q.InsertTemplate(ctx, t); err != nil {
			return err
		}
		if !activate {
			return nil
		}
		if err := q.DeactivateTemplates(ctx, now); err != nil {
			return err
		}
		return q.ActivateTemplate(ctx, t.ID, now)
	})
	if err != nil {
		return core.BudgetTemplate{}, fmt.Errorf("create template: %w", err)
	}
	t.IsActive = activate

	slog.InfoContext(ctx, "Template created", "template_id", t.ID, "active", activate)
	if activate {
		s.overview.InvalidateAll(ctx)
	}
	return t, nil
}

func (s *BudgetService) RenameTemplate(ctx context.Context, actor core.Actor, id, name string) error {
	if err := actor.RequireAdmin("rename template"); err != nil {
		return err
	}
	if err := core.ValidateName("name", name); err != nil {
		return err
	}
	if err := s.storage.RenameTemplate(ctx, id, name, s.now().UTC()); err != nil {
		return err
	}
	s.overview.InvalidateAll(ctx)
	return nil
}

// DeleteTemplate removes a template with its groups, envelopes and income
// categories. Transactions keep their rows and lose the envelope or category tag.
func (s *BudgetService) DeleteTemplate(ctx context.Context, actor core.Actor, id string) error {
	if err := actor.RequireAdmin("delete template"); err != nil {
		return err
	}
	if err := s.storage.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Template deleted", "template_id", id)
	s.overview.InvalidateAll(ctx)
	return nil
}

// ActivateTemplate deactivates every template and activates id in one
// transaction. A missing id leaves the previous active template in place.
func (s *BudgetService) ActivateTemplate(ctx context.Context, actor core.Actor, id string) error {
	if err := actor.RequireAdmin("activate template"); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if err := q.DeactivateTemplates(ctx, now); err != nil {
			return err
		}
		return q.ActivateTemplate(ctx, id, now)
	})
	if err != nil {
		return fmt.Errorf("activate template: %w", err)
	}
	slog.InfoContext(ctx, "Template activated", "template_id", id)
	s.overview.InvalidateAll(ctx)
	return nil
}

// ActiveTemplate returns the active template with its groups and non-archived
// envelopes in display order. It returns nil when no template is active.
func (s *BudgetService) ActiveTemplate(ctx context.Context, actor core.Actor) (*core.BudgetTemplate, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	t, err := s.storage.ActiveTemplate(ctx)
	if err != nil || t == nil {
		return nil, err
	}
	if err := loadTree(ctx, s.storage.Queries, t); err != nil {
		return nil, err
	}
	return t, nil
}

func loadTree(ctx context.Context, q *storage.Queries, t *core.BudgetTemplate) error {
	groups, err := q.ListGroups(ctx, t.ID)
	if err != nil {
		return err
	}
	envelopes, err := q.ListEnvelopes(ctx, t.ID, false)
	if err != nil {
		return err
	}
	byGroup := make(map[string][]core.Envelope, len(groups))
	for _, e := range envelopes {
		byGroup[e.GroupID] = append(byGroup[e.GroupID], e)
	}
	for i := range groups {
		groups[i].Envelopes = byGroup[groups[i].ID]
	}
	t.Groups = groups
	return nil
}

func (s *BudgetService) ListTemplates(ctx context.Context, actor core.Actor) ([]core.BudgetTemplate, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	return s.storage.ListTemplates(ctx)
}

// Groups

func (s *BudgetService) CreateGroup(ctx context.Context, actor core.Actor, templateID, name string) (core.EnvelopeGroup, error) {
	if err := actor.RequireAdmin("create group"); err != nil {
		return core.EnvelopeGroup{}, err
	}
	if err := core.ValidateName("name", name); err != nil {
		return core.EnvelopeGroup{}, err
	}

	g := core.EnvelopeGroup{ID: uuid.NewString(), TemplateID: templateID, Name: name, CreatedAt: s.now().UTC()}
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if _, err := q.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		next, err := q.NextGroupSortOrder(ctx, templateID)
		if err != nil {
			return err
		}
		g.SortOrder = next
		return q.InsertGroup(ctx, g)
	})
	if err != nil {
		return core.EnvelopeGroup{}, fmt.Errorf("create group: %w", err)
	}
	s.overview.InvalidateAll(ctx)
	return g, nil
}

func (s *BudgetService) RenameGroup(ctx context.Context, actor core.Actor, id, name string) error {
	if err := actor.RequireAdmin("rename group"); err != nil {
		return err
	}
	if err := core.ValidateName("name", name); err != nil {
		return err
	}
	if err := s.storage.RenameGroup(ctx, id, name); err != nil {
		return err
	}
	s.overview.InvalidateAll(ctx)
	return nil
}

func (s *BudgetService) DeleteGroup(ctx context.Context, actor core.Actor, id string) error {
	if err := actor.RequireAdmin("delete group"); err != nil {
		return err
	}
	if err := s.storage.DeleteGroup(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Group deleted", "group_id", id)
	s.overview.InvalidateAll(ctx)
	return nil
}

// Envelopes

func (s *BudgetService) CreateEnvelope(ctx context.Context, actor core.Actor, groupID, name string, budget core.Money) (core.Envelope, error) {
	if err := actor.RequireAdmin("create envelope"); err != nil {
		return core.Envelope{}, err
	}
	now := s.now().UTC()
	e := core.Envelope{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Name:      name,
		Budget:    budget,
		Status:    core.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Validate(); err != nil {
		return core.Envelope{}, err
	}

	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if _, err := q.GetGroup(ctx, groupID); err != nil {
			return err
		}
		next, err := q.NextEnvelopeSortOrder(ctx, groupID)
		if err != nil {
			return err
		}
		e.SortOrder = next
		return q.InsertEnvelope(ctx, e)
	})
	if err != nil {
		return core.Envelope{}, fmt.Errorf("create envelope: %w", err)
	}

	slog.InfoContext(ctx, "Envelope created", "envelope_id", e.ID, "budget_cents", e.Budget.Cents)
	s.overview.InvalidateAll(ctx)
	return e, nil
}

// UpdateEnvelope changes the name and/or the monthly budget. Nil leaves a field
// unchanged.
func (s *BudgetService) UpdateEnvelope(ctx context.Context, actor core.Actor, id string, name *string, budget *core.Money) (core.Envelope, error) {
	if err := actor.RequireAdmin("update envelope"); err != nil {
		return core.Envelope{}, err
	}

	var e core.Envelope
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		var err error
		e, err = q.GetEnvelope(ctx, id)
		if err != nil {
			return err
		}
		if name != nil {
			e.Name = *name
		}
		if budget != nil {
			e.Budget = *budget
		}
		if err := e.Validate(); err != nil {
			return err
		}
		e.UpdatedAt = s.now().UTC()
		return q.UpdateEnvelope(ctx, e)
	})
	if err != nil {
		return core.Envelope{}, fmt.Errorf("update envelope: %w", err)
	}
	s.overview.InvalidateAll(ctx)
	return e, nil
}

// ArchiveEnvelope hides an envelope from budgeting. Archiving twice is a no-op.
func (s *BudgetService) ArchiveEnvelope(ctx context.Context, actor core.Actor, id string) error {
	if err := actor.RequireAdmin("archive envelope"); err != nil {
		return err
	}
	changed := false
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		e, err := q.GetEnvelope(ctx, id)
		if err != nil {
			return err
		}
		if e.Archived() {
			return nil
		}
		e.Status = core.StatusArchived
		e.UpdatedAt = s.now().UTC()
		changed = true
		return q.UpdateEnvelope(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("archive envelope: %w", err)
	}
	if changed {
		slog.InfoContext(ctx, "Envelope archived", "envelope_id", id)
		s.overview.InvalidateAll(ctx)
	}
	return nil
}

// ActiveEnvelopes lists the non-archived envelopes of the active template, or
// nothing when no template is active.
func (s *BudgetService) ActiveEnvelopes(ctx context.Context, actor core.Actor) ([]core.Envelope, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	t, err := s.storage.ActiveTemplate(ctx)
	if err != nil || t == nil {
		return nil, err
	}
	return s.storage.ListEnvelopes(ctx, t.ID, false)
}

// Income categories

func (s *BudgetService) CreateIncomeCategory(ctx context.Context, actor core.Actor, templateID, name string) (core.IncomeCategory, error) {
	if err := actor.RequireAdmin("create income category"); err != nil {
		return core.IncomeCategory{}, err
	}
	if err := core.ValidateName("name", name); err != nil {
		return core.IncomeCategory{}, err
	}
	c := core.IncomeCategory{ID: uuid.NewString(), TemplateID: templateID, Name: name, CreatedAt: s.now().UTC()}
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if _, err := q.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		return q.InsertIncomeCategory(ctx, c)
	})
	if err != nil {
		return core.IncomeCategory{}, fmt.Errorf("create income category: %w", err)
	}
	s.overview.InvalidateAll(ctx)
	return c, nil
}

func (s *BudgetService) ListIncomeCategories(ctx context.Context, actor core.Actor, templateID string) ([]core.IncomeCategory, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	return s.storage.ListIncomeCategories(ctx, templateID)
}
