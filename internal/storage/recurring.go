package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"envelopes/internal/core"
)

const ruleColumns = `id, type, amount_cents, description, frequency, day_of_month, day_of_week,
	start_date, end_date, auto_clear, is_active, account_id, envelope_id, income_category_id,
	created_at, updated_at`

func scanRule(row scanner) (core.RecurringRule, error) {
	var (
		r                      core.RecurringRule
		typ, frequency         string
		dayOfMonth, dayOfWeek  sql.NullInt64
		startDate, createdAt   int64
		updatedAt              int64
		endDate                sql.NullInt64
		autoClear, active      int
		envelopeID, categoryID sql.NullString
	)
	err := row.Scan(&r.ID, &typ, &r.Amount.Cents, &r.Description, &frequency, &dayOfMonth, &dayOfWeek,
		&startDate, &endDate, &autoClear, &active, &r.AccountID, &envelopeID, &categoryID,
		&createdAt, &updatedAt)
	if err != nil {
		return core.RecurringRule{}, err
	}
	r.Type = core.TransactionType(typ)
	r.Frequency = core.Frequency(frequency)
	r.DayOfMonth = intPtr(dayOfMonth)
	r.DayOfWeek = intPtr(dayOfWeek)
	r.StartDate = core.DateFromUnix(startDate)
	r.EndDate = datePtr(endDate)
	r.AutoClear = autoClear == 1
	r.Active = active == 1
	r.EnvelopeID = stringPtr(envelopeID)
	r.IncomeCategoryID = stringPtr(categoryID)
	r.CreatedAt = unixTime(createdAt)
	r.UpdatedAt = unixTime(updatedAt)
	return r, nil
}

func (q *Queries) InsertRule(ctx context.Context, r core.RecurringRule) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO recurring_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Type), r.Amount.Cents, r.Description, string(r.Frequency),
		nullInt(r.DayOfMonth), nullInt(r.DayOfWeek), r.StartDate.Unix(), nullDate(r.EndDate),
		boolInt(r.AutoClear), boolInt(r.Active), r.AccountID, nullString(r.EnvelopeID),
		nullString(r.IncomeCategoryID), r.CreatedAt.Unix(), r.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert recurring rule: %w", err)
	}
	return nil
}

func (q *Queries) GetRule(ctx context.Context, id string) (core.RecurringRule, error) {
	r, err := scanRule(q.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurring_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringRule{}, notFound("recurring rule", id)
	}
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("get recurring rule: %w", err)
	}
	return r, nil
}

func (q *Queries) ListRules(ctx context.Context, activeOnly bool) ([]core.RecurringRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY start_date, created_at, id`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recurring rules: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) SetRuleActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE recurring_rules SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("set recurring rule active: %w", err)
	}
	return requireAffected(res, "recurring rule", id)
}

func (q *Queries) DeleteRule(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recurring rule: %w", err)
	}
	return requireAffected(res, "recurring rule", id)
}

const checkpointID = "recurrence"

// GetCheckpoint returns nil before the first generation run.
func (q *Queries) GetCheckpoint(ctx context.Context) (*core.Date, error) {
	var date int64
	err := q.db.QueryRowContext(ctx, `SELECT date FROM generation_checkpoint WHERE id = ?`, checkpointID).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	d := core.DateFromUnix(date)
	return &d, nil
}

// AdvanceCheckpoint moves the checkpoint from prev to next only if it still
// holds prev. It reports false when another run moved it first.
func (q *Queries) AdvanceCheckpoint(ctx context.Context, prev *core.Date, next core.Date, now time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if prev == nil {
		res, err = q.db.ExecContext(ctx,
			`INSERT INTO generation_checkpoint (id, date, updated_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			checkpointID, next.Unix(), now.Unix())
	} else {
		res, err = q.db.ExecContext(ctx,
			`UPDATE generation_checkpoint SET date = ?, updated_at = ? WHERE id = ? AND date = ?`,
			next.Unix(), now.Unix(), checkpointID, prev.Unix())
	}
	if err != nil {
		return false, fmt.Errorf("advance checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
