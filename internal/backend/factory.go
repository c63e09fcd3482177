package backend

import (
	"context"
	"fmt"
	"log/slog"

	"envelopes/internal/sheets"
	gsheet "envelopes/internal/sheets/google"
	"envelopes/internal/sheets/memory"
)

// Result holds the mirror and its cleanup. Mirror is nil for the none backend.
type Result struct {
	Mirror  sheets.LedgerMirror
	Cleanup func() error
}

// Factory creates mirrors based on configuration
type Factory interface {
	CreateMirror(ctx context.Context, config Config) (*Result, error)
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateMirror implements Factory.CreateMirror
func (f *DefaultFactory) CreateMirror(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SheetsBackend:
		client, err := gsheet.NewFromCredentials(ctx, config.GoogleSpreadsheetID, config.GoogleSheetName,
			config.GoogleServiceAccountJSON, config.GoogleServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.Info("Google Sheets mirror initialized",
			"spreadsheet_id", config.GoogleSpreadsheetID,
			"sheet", config.GoogleSheetName)
		return &Result{Mirror: client, Cleanup: noop}, nil
	case MemoryBackend:
		f.logger.Info("Using in-memory mirror, rows are lost on exit")
		return &Result{Mirror: memory.New(), Cleanup: noop}, nil
	case NoneBackend:
		f.logger.Info("Ledger mirror disabled")
		return &Result{Cleanup: noop}, nil
	}
	return nil, fmt.Errorf("unsupported mirror backend: %s", config.Type)
}

func noop() error { return nil }
