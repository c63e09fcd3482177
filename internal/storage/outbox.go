package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type MirrorAction string

const (
	MirrorUpsert MirrorAction = "upsert"
	MirrorDelete MirrorAction = "delete"
)

// OutboxEntry is a pending spreadsheet mirror write recorded alongside the
// ledger change that caused it.
type OutboxEntry struct {
	ID            int64
	TransactionID string
	Action        MirrorAction
	Status        string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
}

func (q *Queries) EnqueueMirror(ctx context.Context, transactionID string, action MirrorAction, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO mirror_outbox (transaction_id, action, status, attempts, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, ?, ?)`,
		transactionID, string(action), now.Unix(), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("enqueue mirror: %w", err)
	}
	return res.LastInsertId()
}

func scanOutbox(row scanner) (OutboxEntry, error) {
	var (
		e         OutboxEntry
		action    string
		lastError sql.NullString
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.TransactionID, &action, &e.Status, &e.Attempts, &lastError, &createdAt); err != nil {
		return OutboxEntry{}, err
	}
	e.Action = MirrorAction(action)
	e.LastError = lastError.String
	e.CreatedAt = unixTime(createdAt)
	return e, nil
}

const outboxColumns = `id, transaction_id, action, status, attempts, last_error, created_at`

func (q *Queries) GetOutboxEntry(ctx context.Context, id int64) (OutboxEntry, error) {
	e, err := scanOutbox(q.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM mirror_outbox WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEntry{}, notFound("outbox entry", fmt.Sprint(id))
	}
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("get outbox entry: %w", err)
	}
	return e, nil
}

// PendingMirror returns unsent entries oldest first.
func (q *Queries) PendingMirror(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM mirror_outbox
		WHERE status = 'pending'
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending mirror: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) MarkMirrorDone(ctx context.Context, id int64, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE mirror_outbox SET status = 'done', updated_at = ? WHERE id = ?`, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("mark mirror done: %w", err)
	}
	return requireAffected(res, "outbox entry", fmt.Sprint(id))
}

// MarkMirrorError records a failed attempt. The entry stays pending until it has
// failed maxAttempts times.
func (q *Queries) MarkMirrorError(ctx context.Context, id int64, cause string, maxAttempts int, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE mirror_outbox
		SET attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END,
			updated_at = ?
		WHERE id = ?`,
		cause, maxAttempts, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("mark mirror error: %w", err)
	}
	return requireAffected(res, "outbox entry", fmt.Sprint(id))
}

// MirrorStats counts outbox entries by status.
func (q *Queries) MirrorStats(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM mirror_outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("mirror stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "done": 0, "failed": 0}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan mirror stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}
