package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"envelopes/internal/core"
)

const (
	templateColumns = `id, name, is_active, created_at, updated_at`
	groupColumns    = `id, template_id, name, sort_order, created_at`
	envelopeColumns = `id, group_id, name, budget_amount_cents, sort_order, status, created_at, updated_at`
	categoryColumns = `id, template_id, name, created_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (core.BudgetTemplate, error) {
	var (
		t                    core.BudgetTemplate
		active               int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.Name, &active, &createdAt, &updatedAt); err != nil {
		return core.BudgetTemplate{}, err
	}
	t.IsActive = active == 1
	t.CreatedAt = unixTime(createdAt)
	t.UpdatedAt = unixTime(updatedAt)
	return t, nil
}

func scanGroup(row scanner) (core.EnvelopeGroup, error) {
	var (
		g         core.EnvelopeGroup
		createdAt int64
	)
	if err := row.Scan(&g.ID, &g.TemplateID, &g.Name, &g.SortOrder, &createdAt); err != nil {
		return core.EnvelopeGroup{}, err
	}
	g.CreatedAt = unixTime(createdAt)
	return g, nil
}

func scanEnvelope(row scanner) (core.Envelope, error) {
	var (
		e                    core.Envelope
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.Name, &e.Budget.Cents, &e.SortOrder, &status, &createdAt, &updatedAt); err != nil {
		return core.Envelope{}, err
	}
	e.Status = core.Status(status)
	e.CreatedAt = unixTime(createdAt)
	e.UpdatedAt = unixTime(updatedAt)
	return e, nil
}

func scanCategory(row scanner) (core.IncomeCategory, error) {
	var (
		c         core.IncomeCategory
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.TemplateID, &c.Name, &createdAt); err != nil {
		return core.IncomeCategory{}, err
	}
	c.CreatedAt = unixTime(createdAt)
	return c, nil
}

// Templates

func (q *Queries) InsertTemplate(ctx context.Context, t core.BudgetTemplate) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO budget_templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, boolInt(t.IsActive), t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	if isUniqueViolation(err) {
		return fmt.Errorf("insert template: another template is active: %w", core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (q *Queries) GetTemplate(ctx context.Context, id string) (core.BudgetTemplate, error) {
	t, err := scanTemplate(q.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM budget_templates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetTemplate{}, notFound("template", id)
	}
	if err != nil {
		return core.BudgetTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// ActiveTemplate returns nil when no template is active.
func (q *Queries) ActiveTemplate(ctx context.Context) (*core.BudgetTemplate, error) {
	t, err := scanTemplate(q.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM budget_templates WHERE is_active = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active template: %w", err)
	}
	return &t, nil
}

func (q *Queries) ListTemplates(ctx context.Context) ([]core.BudgetTemplate, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM budget_templates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) RenameTemplate(ctx context.Context, id, name string, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE budget_templates SET name = ?, updated_at = ? WHERE id = ?`, name, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("rename template: %w", err)
	}
	return requireAffected(res, "template", id)
}

func (q *Queries) DeleteTemplate(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM budget_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireAffected(res, "template", id)
}

func (q *Queries) DeactivateTemplates(ctx context.Context, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE budget_templates SET is_active = 0, updated_at = ? WHERE is_active = 1`, now.Unix()); err != nil {
		return fmt.Errorf("deactivate templates: %w", err)
	}
	return nil
}

func (q *Queries) ActivateTemplate(ctx context.Context, id string, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE budget_templates SET is_active = 1, updated_at = ? WHERE id = ?`, now.Unix(), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("activate template: another template is active: %w", core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("activate template: %w", err)
	}
	return requireAffected(res, "template", id)
}

// Groups

func (q *Queries) NextGroupSortOrder(ctx context.Context, templateID string) (int, error) {
	var next int
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order), 0) + 1 FROM envelope_groups WHERE template_id = ?`, templateID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next group sort order: %w", err)
	}
	return next, nil
}

func (q *Queries) InsertGroup(ctx context.Context, g core.EnvelopeGroup) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO envelope_groups (`+groupColumns+`) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.TemplateID, g.Name, g.SortOrder, g.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (q *Queries) GetGroup(ctx context.Context, id string) (core.EnvelopeGroup, error) {
	g, err := scanGroup(q.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM envelope_groups WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.EnvelopeGroup{}, notFound("group", id)
	}
	if err != nil {
		return core.EnvelopeGroup{}, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (q *Queries) ListGroups(ctx context.Context, templateID string) ([]core.EnvelopeGroup, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+groupColumns+` FROM envelope_groups
		WHERE template_id = ?
		ORDER BY sort_order, created_at, id`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []core.EnvelopeGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q *Queries) RenameGroup(ctx context.Context, id, name string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE envelope_groups SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename group: %w", err)
	}
	return requireAffected(res, "group", id)
}

func (q *Queries) DeleteGroup(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM envelope_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireAffected(res, "group", id)
}

// Envelopes

func (q *Queries) NextEnvelopeSortOrder(ctx context.Context, groupID string) (int, error) {
	var next int
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order), 0) + 1 FROM envelopes WHERE group_id = ?`, groupID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next envelope sort order: %w", err)
	}
	return next, nil
}

func (q *Queries) InsertEnvelope(ctx context.Context, e core.Envelope) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO envelopes (`+envelopeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.GroupID, e.Name, e.Budget.Cents, e.SortOrder, string(e.Status), e.CreatedAt.Unix(), e.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

func (q *Queries) GetEnvelope(ctx context.Context, id string) (core.Envelope, error) {
	e, err := scanEnvelope(q.db.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM envelopes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, notFound("envelope", id)
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope: %w", err)
	}
	return e, nil
}

func (q *Queries) UpdateEnvelope(ctx context.Context, e core.Envelope) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE envelopes SET name = ?, budget_amount_cents = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		e.Name, e.Budget.Cents, string(e.Status), e.UpdatedAt.Unix(), e.ID)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	return requireAffected(res, "envelope", e.ID)
}

// ListEnvelopes returns the envelopes of a template ordered by group then envelope
// position.
func (q *Queries) ListEnvelopes(ctx context.Context, templateID string, includeArchived bool) ([]core.Envelope, error) {
	query := `
		SELECT e.id, e.group_id, e.name, e.budget_amount_cents, e.sort_order, e.status, e.created_at, e.updated_at
		FROM envelopes e
		JOIN envelope_groups g ON g.id = e.group_id
		WHERE g.template_id = ?`
	if !includeArchived {
		query += ` AND e.status = 'active'`
	}
	query += ` ORDER BY g.sort_order, g.created_at, g.id, e.sort_order, e.created_at, e.id`

	rows, err := q.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var out []core.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Income categories

func (q *Queries) InsertIncomeCategory(ctx context.Context, c core.IncomeCategory) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO income_categories (`+categoryColumns+`) VALUES (?, ?, ?, ?)`,
		c.ID, c.TemplateID, c.Name, c.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert income category: %w", err)
	}
	return nil
}

func (q *Queries) GetIncomeCategory(ctx context.Context, id string) (core.IncomeCategory, error) {
	c, err := scanCategory(q.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM income_categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.IncomeCategory{}, notFound("income category", id)
	}
	if err != nil {
		return core.IncomeCategory{}, fmt.Errorf("get income category: %w", err)
	}
	return c, nil
}

func (q *Queries) ListIncomeCategories(ctx context.Context, templateID string) ([]core.IncomeCategory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+categoryColumns+` FROM income_categories
		WHERE template_id = ?
		ORDER BY name, id`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list income categories: %w", err)
	}
	defer rows.Close()

	var out []core.IncomeCategory
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan income category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
