package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"envelopes/internal/core"
)

const transactionColumns = `id, type, amount_cents, date, description, account_id, envelope_id,
	income_category_id, status, created_by, cleared_by, cleared_at, transfer_pair_id,
	recurring_rule_id, created_at, updated_at`

// TransactionFilter narrows ListTransactions. Zero values are ignored; To is exclusive.
type TransactionFilter struct {
	AccountID  string
	EnvelopeID string
	Status     core.TransactionStatus
	From       *core.Date
	To         *core.Date
	Limit      int
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t                                 core.Transaction
		typ, status                       string
		date, createdAt, updatedAt        int64
		envelopeID, categoryID, clearedBy sql.NullString
		transferPairID, recurringRuleID   sql.NullString
		clearedAt                         sql.NullInt64
	)
	err := row.Scan(&t.ID, &typ, &t.Amount.Cents, &date, &t.Description, &t.AccountID, &envelopeID,
		&categoryID, &status, &t.CreatedBy, &clearedBy, &clearedAt, &transferPairID,
		&recurringRuleID, &createdAt, &updatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.Status = core.TransactionStatus(status)
	t.Date = core.DateFromUnix(date)
	t.EnvelopeID = stringPtr(envelopeID)
	t.IncomeCategoryID = stringPtr(categoryID)
	t.ClearedBy = stringPtr(clearedBy)
	if clearedAt.Valid {
		ts := unixTime(clearedAt.Int64)
		t.ClearedAt = &ts
	}
	t.TransferPairID = stringPtr(transferPairID)
	t.RecurringRuleID = stringPtr(recurringRuleID)
	t.CreatedAt = unixTime(createdAt)
	t.UpdatedAt = unixTime(updatedAt)
	return t, nil
}

// InsertTransaction stores t. A second occurrence of the same recurring rule on
// the same date is reported as core.ErrConflict.
func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	var clearedAt sql.NullInt64
	if t.ClearedAt != nil {
		clearedAt = sql.NullInt64{Int64: t.ClearedAt.Unix(), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Type), t.Amount.Cents, t.Date.Unix(), t.Description, t.AccountID,
		nullString(t.EnvelopeID), nullString(t.IncomeCategoryID), string(t.Status), t.CreatedBy,
		nullString(t.ClearedBy), clearedAt, nullString(t.TransferPairID), nullString(t.RecurringRuleID),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	if isUniqueViolation(err) {
		return fmt.Errorf("insert transaction %s: %w", t.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, notFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// TransferHalves returns both legs of a transfer, expense leg first.
func (q *Queries) TransferHalves(ctx context.Context, pairID string) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE transfer_pair_id = ?
		ORDER BY CASE type WHEN 'expense' THEN 0 ELSE 1 END, id`, pairID)
	if err != nil {
		return nil, fmt.Errorf("get transfer halves: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// UpdatePendingTransaction rewrites the editable fields of a pending transaction.
func (q *Queries) UpdatePendingTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions
		SET amount_cents = ?, date = ?, description = ?, account_id = ?, envelope_id = ?,
			income_category_id = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		t.Amount.Cents, t.Date.Unix(), t.Description, t.AccountID, nullString(t.EnvelopeID),
		nullString(t.IncomeCategoryID), t.UpdatedAt.Unix(), t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireAffected(res, "pending transaction", t.ID)
}

// MarkCleared flips a pending transaction to cleared. It reports false when the
// row was already cleared so the caller never applies the delta twice.
func (q *Queries) MarkCleared(ctx context.Context, id, clearedBy string, at time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions SET status = 'cleared', cleared_by = ?, cleared_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		clearedBy, at.Unix(), at.Unix(), id)
	if err != nil {
		return false, fmt.Errorf("clear transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (q *Queries) DeleteTransaction(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireAffected(res, "transaction", id)
}

func (q *Queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.EnvelopeID != "" {
		where = append(where, "envelope_id = ?")
		args = append(args, f.EnvelopeID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, f.From.Unix())
	}
	if f.To != nil {
		where = append(where, "date < ?")
		args = append(args, f.To.Unix())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date DESC, created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const signedAmount = `CASE type WHEN 'income' THEN amount_cents ELSE -amount_cents END`

// SumClearedDelta totals the signed cleared amounts of an account. A nil asOf
// includes every date.
func (q *Queries) SumClearedDelta(ctx context.Context, accountID string, asOf *core.Date) (int64, error) {
	query := `SELECT COALESCE(SUM(` + signedAmount + `), 0) FROM transactions WHERE account_id = ? AND status = 'cleared'`
	args := []any{accountID}
	if asOf != nil {
		query += ` AND date <= ?`
		args = append(args, asOf.Unix())
	}
	var sum int64
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum cleared delta: %w", err)
	}
	return sum, nil
}

func (q *Queries) SumPendingDelta(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(`+signedAmount+`), 0) FROM transactions
		WHERE account_id = ? AND status = 'pending'`, accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum pending delta: %w", err)
	}
	return sum, nil
}

// ClearedDeltaByAccount totals cleared amounts dated on or before asOf for
// every account that has any.
func (q *Queries) ClearedDeltaByAccount(ctx context.Context, asOf core.Date) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT account_id, SUM(`+signedAmount+`) FROM transactions
		WHERE status = 'cleared' AND date <= ?
		GROUP BY account_id`, asOf.Unix())
	if err != nil {
		return nil, fmt.Errorf("cleared delta by account: %w", err)
	}
	defer rows.Close()
	return collectSums(rows)
}

// SumEnvelopeSpent counts pending and cleared expenses dated in [start, end).
func (q *Queries) SumEnvelopeSpent(ctx context.Context, envelopeID string, start, end core.Date) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		WHERE envelope_id = ? AND type = 'expense' AND date >= ? AND date < ?`,
		envelopeID, start.Unix(), end.Unix()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum envelope spent: %w", err)
	}
	return sum, nil
}

func (q *Queries) SpentByEnvelope(ctx context.Context, start, end core.Date) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT envelope_id, SUM(amount_cents) FROM transactions
		WHERE envelope_id IS NOT NULL AND type = 'expense' AND date >= ? AND date < ?
		GROUP BY envelope_id`, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("spent by envelope: %w", err)
	}
	defer rows.Close()
	return collectSums(rows)
}

func (q *Queries) IncomeByCategory(ctx context.Context, start, end core.Date) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT income_category_id, SUM(amount_cents) FROM transactions
		WHERE income_category_id IS NOT NULL AND type = 'income' AND date >= ? AND date < ?
		GROUP BY income_category_id`, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("income by category: %w", err)
	}
	defer rows.Close()
	return collectSums(rows)
}

func collectSums(rows *sql.Rows) (map[string]int64, error) {
	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  string
			sum int64
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("scan sum: %w", err)
		}
		out[id] = sum
	}
	return out, rows.Err()
}
