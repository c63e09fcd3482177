package sheets

import (
	"context"

	"envelopes/internal/core"
)

// Header is the first row of the mirror sheet.
var Header = []string{"ID", "Date", "Type", "Account", "Amount", "Status", "Description", "Envelope/Category"}

// Row is one transaction as it appears in the spreadsheet mirror.
type Row struct {
	TransactionID string
	Date          core.Date
	Type          core.TransactionType
	Account       string
	Amount        core.Money
	Status        core.TransactionStatus
	Description   string
	Tag           string
}

// Values renders the row in Header order.
func (r Row) Values() []any {
	return []any{
		r.TransactionID,
		r.Date.String(),
		string(r.Type),
		r.Account,
		r.Amount.String(),
		string(r.Status),
		r.Description,
		r.Tag,
	}
}

// LedgerMirror is the outbound port for the human-readable copy of the ledger.
// Both operations are idempotent: upserting twice writes one row and deleting
// a missing row succeeds.
type LedgerMirror interface {
	UpsertRow(ctx context.Context, row Row) error
	DeleteRow(ctx context.Context, transactionID string) error
	ListTransactionIDs(ctx context.Context) ([]string, error)
}
