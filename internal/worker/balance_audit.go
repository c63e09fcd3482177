package worker

import (
	"context"
	"log/slog"

	"envelopes/internal/core"
)

// BalanceChecker compares stored account balances with transaction history.
type BalanceChecker interface {
	Check(ctx context.Context) ([]core.Divergence, error)
}

// AuditBalances runs one reconciliation pass and logs every divergence at
// error level. It never corrects balances.
func AuditBalances(ctx context.Context, checker BalanceChecker) (int, error) {
	divergences, err := checker.Check(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range divergences {
		slog.ErrorContext(ctx, "Account balance diverges from cleared history",
			"account_id", d.AccountID,
			"account", d.Name,
			"stored_cents", d.Stored.Cents,
			"computed_cents", d.Computed.Cents,
			"difference_cents", d.Stored.Sub(d.Computed).Cents)
	}
	if len(divergences) == 0 {
		slog.InfoContext(ctx, "Balances reconciled")
	}
	return len(divergences), nil
}
