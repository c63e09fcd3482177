package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	ports "envelopes/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const columnRange = "A%d:H%d"

// Client mirrors ledger transactions into one sheet of a spreadsheet, one row
// per transaction keyed by the id in column A.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string

	// Row positions shift on delete, so every write resolves the row again.
	// Only the numeric sheet id is cached.
	mu      sync.Mutex
	sheetID *int64
}

// Ensure interface conformance
var _ ports.LedgerMirror = (*Client)(nil)

// New builds a client from explicit API options. Tests point it at a fake
// endpoint; production uses NewFromCredentials.
func New(ctx context.Context, spreadsheetID, sheet string, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheet) == "" {
		sheet = "Transactions"
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}, nil
}

// NewFromCredentials authenticates with a service account, given inline JSON or
// a file path. GOOGLE_APPLICATION_CREDENTIALS is used when neither is set.
func NewFromCredentials(ctx context.Context, spreadsheetID, sheet, credentialsJSON, credentialsFile string) (*Client, error) {
	credentialsJSON = strings.TrimSpace(credentialsJSON)
	credentialsFile = strings.TrimSpace(credentialsFile)
	if credentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var creds []byte
	switch {
	case credentialsJSON != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		creds = []byte(credentialsJSON)
	case credentialsFile != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", credentialsFile)
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		creds = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	return New(ctx, spreadsheetID, sheet,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

func (c *Client) UpsertRow(ctx context.Context, row ports.Row) error {
	if row.TransactionID == "" {
		return errors.New("row without transaction id")
	}
	ids, err := c.readIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		header := make([]any, len(ports.Header))
		for i, h := range ports.Header {
			header[i] = h
		}
		if err := c.writeRow(ctx, 1, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		ids = []string{ports.Header[0]}
	}

	n := rowOf(ids, row.TransactionID)
	if n == 0 {
		n = len(ids) + 1
	}
	if err := c.writeRow(ctx, n, row.Values()); err != nil {
		return fmt.Errorf("write transaction %s: %w", row.TransactionID, err)
	}
	return nil
}

func (c *Client) DeleteRow(ctx context.Context, transactionID string) error {
	ids, err := c.readIDs(ctx)
	if err != nil {
		return err
	}
	n := rowOf(ids, transactionID)
	if n == 0 {
		return nil
	}
	sheetID, err := c.resolveSheetID(ctx)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(n - 1),
					EndIndex:   int64(n),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d: %w", n, err)
	}
	return nil
}

// ListTransactionIDs returns the ids in column A below the header.
func (c *Client) ListTransactionIDs(ctx context.Context) ([]string, error) {
	ids, err := c.readIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) <= 1 {
		return nil, nil
	}
	out := make([]string, 0, len(ids)-1)
	for _, id := range ids[1:] {
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// readIDs returns column A, row 1 first.
func (c *Client) readIDs(ctx context.Context) ([]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:A", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	ids := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			ids[i] = strings.TrimSpace(fmt.Sprint(row[0]))
		}
	}
	return ids, nil
}

func (c *Client) writeRow(ctx context.Context, n int, values []any) error {
	rng := fmt.Sprintf("%s!"+columnRange, c.sheet, n, n)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}

func (c *Client) resolveSheetID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sheetID != nil {
		return *c.sheetID, nil
	}
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == c.sheet {
			id := s.Properties.SheetId
			c.sheetID = &id
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", c.sheet)
}

// rowOf returns the 1-based row holding id, or 0. The header row never matches.
func rowOf(ids []string, id string) int {
	for i := 1; i < len(ids); i++ {
		if ids[i] == id {
			return i + 1
		}
	}
	return 0
}
