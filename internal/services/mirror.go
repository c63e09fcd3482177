package services

import (
	"context"
	"log/slog"
	"time"

	"envelopes/internal/amqp"
	"envelopes/internal/storage"
)

// Publisher announces committed ledger changes to the mirror worker.
type Publisher interface {
	PublishMirror(ctx context.Context, msg *amqp.MirrorMessage) error
}

// mirrorBatch collects outbox rows written inside a store transaction so they
// can be published once the transaction has committed.
type mirrorBatch []*amqp.MirrorMessage

func (b *mirrorBatch) enqueue(ctx context.Context, q *storage.Queries, transactionID string, action storage.MirrorAction, now time.Time) error {
	id, err := q.EnqueueMirror(ctx, transactionID, action, now)
	if err != nil {
		return err
	}
	*b = append(*b, amqp.NewMirrorMessage(id, transactionID, string(action)))
	return nil
}

// publish is best effort: the outbox row is already durable and the worker's
// sweep picks up anything that was not announced.
func (b mirrorBatch) publish(ctx context.Context, p Publisher) {
	if p == nil {
		if len(b) > 0 {
			slog.DebugContext(ctx, "No publisher configured, outbox sweep will mirror", "count", len(b))
		}
		return
	}
	for _, msg := range b {
		if err := p.PublishMirror(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish mirror message",
				"outbox_id", msg.OutboxID,
				"transaction_id", msg.TransactionID,
				"error", err)
		}
	}
}
