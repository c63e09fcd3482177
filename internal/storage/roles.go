package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"envelopes/internal/core"
)

func (q *Queries) UpsertUserRole(ctx context.Context, r core.UserRole) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role, default_account_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			role = excluded.role,
			default_account_id = excluded.default_account_id,
			updated_at = excluded.updated_at`,
		r.UserID, string(r.Role), nullString(r.DefaultAccountID), r.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert user role: %w", err)
	}
	return nil
}

func (q *Queries) GetUserRole(ctx context.Context, userID string) (core.UserRole, error) {
	var (
		r         core.UserRole
		role      string
		accountID sql.NullString
		updatedAt int64
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT user_id, role, default_account_id, updated_at FROM user_roles WHERE user_id = ?`, userID).
		Scan(&r.UserID, &role, &accountID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.UserRole{}, notFound("user", userID)
	}
	if err != nil {
		return core.UserRole{}, fmt.Errorf("get user role: %w", err)
	}
	r.Role = core.Role(role)
	r.DefaultAccountID = stringPtr(accountID)
	r.UpdatedAt = unixTime(updatedAt)
	return r, nil
}
