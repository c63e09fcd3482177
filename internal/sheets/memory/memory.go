package memory

import (
	"context"
	"sync"

	ports "envelopes/internal/sheets"
)

// Store is an in-process LedgerMirror used when no spreadsheet is configured
// and in tests. Rows keep insertion order like a sheet would.
type Store struct {
	mu    sync.Mutex
	order []string
	rows  map[string]ports.Row
}

var _ ports.LedgerMirror = (*Store)(nil)

func New() *Store {
	return &Store{rows: make(map[string]ports.Row)}
}

func (s *Store) UpsertRow(_ context.Context, row ports.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.TransactionID]; !ok {
		s.order = append(s.order, row.TransactionID)
	}
	s.rows[row.TransactionID] = row
	return nil
}

func (s *Store) DeleteRow(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[transactionID]; !ok {
		return nil
	}
	delete(s.rows, transactionID)
	for i, id := range s.order {
		if id == transactionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListTransactionIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// Row returns the mirrored row for a transaction.
func (s *Store) Row(transactionID string) (ports.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[transactionID]
	return r, ok
}
