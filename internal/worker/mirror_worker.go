package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"envelopes/internal/amqp"
	"envelopes/internal/core"
	"envelopes/internal/sheets"
	"envelopes/internal/storage"
)

// DefaultMaxAttempts is how often an outbox entry is retried before it is
// marked failed.
const DefaultMaxAttempts = 5

// MirrorWorker copies committed ledger changes from the outbox to the
// spreadsheet mirror. AMQP messages trigger it promptly; the periodic sweep
// catches anything a lost message left behind.
type MirrorWorker struct {
	storage     *storage.SQLiteRepository
	mirror      sheets.LedgerMirror
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

func NewMirrorWorker(storage *storage.SQLiteRepository, mirror sheets.LedgerMirror, batchSize int) *MirrorWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &MirrorWorker{
		storage:     storage,
		mirror:      mirror,
		batchSize:   batchSize,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// HandleMessage processes one mirror message from AMQP. Mirror failures are
// recorded on the outbox entry rather than returned, so the broker does not
// redeliver in a tight loop; the sweep retries them.
func (w *MirrorWorker) HandleMessage(ctx context.Context, msg *amqp.MirrorMessage) error {
	slog.InfoContext(ctx, "Processing mirror message",
		"outbox_id", msg.OutboxID,
		"transaction_id", msg.TransactionID,
		"action", msg.Action)

	entry, err := w.storage.GetOutboxEntry(ctx, msg.OutboxID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Mirror message for unknown outbox entry", "outbox_id", msg.OutboxID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get outbox entry: %w", err)
	}
	if entry.Status != "pending" {
		slog.DebugContext(ctx, "Outbox entry already handled", "outbox_id", entry.ID, "status", entry.Status)
		return nil
	}

	if err := w.process(ctx, entry); err != nil {
		slog.DebugContext(ctx, "Mirror failure recorded, leaving entry for the sweep",
			"outbox_id", entry.ID,
			"error", err)
	}
	return nil
}

// ProcessPending is the backup path for entries whose message was lost.
func (w *MirrorWorker) ProcessPending(ctx context.Context) error {
	_, _, err := w.drain(ctx, w.batchSize)
	return err
}

// StartupSyncCheck drains a larger batch at startup to recover from worker
// downtime.
func (w *MirrorWorker) StartupSyncCheck(ctx context.Context) error {
	stats, err := w.storage.MirrorStats(ctx)
	if err != nil {
		return fmt.Errorf("mirror stats: %w", err)
	}
	if stats["pending"] == 0 {
		slog.InfoContext(ctx, "No pending mirror entries found on startup", "failed", stats["failed"])
		return nil
	}

	slog.InfoContext(ctx, "Found pending mirror entries on startup, processing...",
		"count", stats["pending"])

	synced, failed, err := w.drain(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed",
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *MirrorWorker) drain(ctx context.Context, limit int) (synced, failed int, err error) {
	entries, err := w.storage.PendingMirror(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending mirror entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	slog.InfoContext(ctx, "Processing pending mirror entries", "count", len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if err := w.process(ctx, e); err != nil {
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// process applies one entry to the mirror and records the outcome.
func (w *MirrorWorker) process(ctx context.Context, e storage.OutboxEntry) error {
	err := w.apply(ctx, e)
	now := w.now().UTC()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mirror transaction",
			"outbox_id", e.ID,
			"transaction_id", e.TransactionID,
			"attempt", e.Attempts+1,
			"error", err)
		if markErr := w.storage.MarkMirrorError(ctx, e.ID, err.Error(), w.maxAttempts, now); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark mirror error", "outbox_id", e.ID, "error", markErr)
		}
		return err
	}

	if err := w.storage.MarkMirrorDone(ctx, e.ID, now); err != nil {
		// The row was written; a repeat upsert is harmless.
		slog.ErrorContext(ctx, "Failed to mark mirror done", "outbox_id", e.ID, "error", err)
	}
	slog.InfoContext(ctx, "Successfully mirrored transaction",
		"outbox_id", e.ID,
		"transaction_id", e.TransactionID,
		"action", e.Action)
	return nil
}

func (w *MirrorWorker) apply(ctx context.Context, e storage.OutboxEntry) error {
	switch e.Action {
	case storage.MirrorDelete:
		return w.mirror.DeleteRow(ctx, e.TransactionID)
	case storage.MirrorUpsert:
		t, err := w.storage.GetTransaction(ctx, e.TransactionID)
		if errors.Is(err, core.ErrNotFound) {
			// Deleted since; its delete entry removes the row.
			return nil
		}
		if err != nil {
			return err
		}
		row, err := w.buildRow(ctx, t)
		if err != nil {
			return err
		}
		return w.mirror.UpsertRow(ctx, row)
	default:
		return fmt.Errorf("unknown mirror action %q", e.Action)
	}
}

func (w *MirrorWorker) buildRow(ctx context.Context, t core.Transaction) (sheets.Row, error) {
	a, err := w.storage.GetAccount(ctx, t.AccountID)
	if err != nil {
		return sheets.Row{}, err
	}
	row := sheets.Row{
		TransactionID: t.ID,
		Date:          t.Date,
		Type:          t.Type,
		Account:       a.Name,
		Amount:        t.Amount,
		Status:        t.Status,
		Description:   t.Description,
	}
	switch {
	case t.EnvelopeID != nil:
		if env, err := w.storage.GetEnvelope(ctx, *t.EnvelopeID); err == nil {
			row.Tag = env.Name
		}
	case t.IncomeCategoryID != nil:
		if c, err := w.storage.GetIncomeCategory(ctx, *t.IncomeCategoryID); err == nil {
			row.Tag = c.Name
		}
	case t.IsTransfer():
		row.Tag = "Transfer"
	}
	return row, nil
}
