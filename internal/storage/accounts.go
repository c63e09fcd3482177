package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"envelopes/internal/core"
)

const accountColumns = `id, name, type, initial_balance_cents, current_balance_cents, status, created_at, updated_at`

func scanAccount(row scanner) (core.Account, error) {
	var (
		a                    core.Account
		typ, status          string
		createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.Name, &typ, &a.InitialBalance.Cents, &a.CurrentBalance.Cents, &status, &createdAt, &updatedAt)
	if err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.Status = core.Status(status)
	a.CreatedAt = unixTime(createdAt)
	a.UpdatedAt = unixTime(updatedAt)
	return a, nil
}

func (q *Queries) InsertAccount(ctx context.Context, a core.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Type), a.InitialBalance.Cents, a.CurrentBalance.Cents,
		string(a.Status), a.CreatedAt.Unix(), a.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, notFound("account", id)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (q *Queries) GetAccountByName(ctx context.Context, name string) (core.Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE name = ? ORDER BY created_at LIMIT 1`, name)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, notFound("account", name)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account by name: %w", err)
	}
	return a, nil
}

func (q *Queries) ListAccounts(ctx context.Context, includeArchived bool) ([]core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if !includeArchived {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY name, id`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (q *Queries) SetAccountStatus(ctx context.Context, id string, status core.Status, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	return requireAffected(res, "account", id)
}

// AdjustAccountBalance applies a signed delta to the denormalized current balance.
func (q *Queries) AdjustAccountBalance(ctx context.Context, id string, delta int64, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET current_balance_cents = current_balance_cents + ?, updated_at = ? WHERE id = ?`,
		delta, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("adjust account balance: %w", err)
	}
	return requireAffected(res, "account", id)
}
